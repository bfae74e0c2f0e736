package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/ingest/internal/engine"
	"github.com/soochol/ingest/internal/ingest"
)

var errNoRecords = errors.New("request contains no records")

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetSources())
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.engine.GetSource(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// ingestRecords submits a JSON batch to a source.
// POST /api/sources/{id}/ingest[?wait=true]
func (s *Server) ingestRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.readRecords(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.submit(w, r, chi.URLParam(r, "id"), records, r.URL.Query().Get("wait") == "true")
}

// submit starts a job and either answers 202 with the pending snapshot or
// blocks until the job is terminal.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, sourceID string, records []ingest.Record, wait bool) {
	submitter := Submitter(r.Context())
	if !wait {
		job, err := s.engine.StartIngestion(r.Context(), sourceID, records, submitter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.waitTimeout)
	defer cancel()
	job, err := s.engine.Ingest(ctx, sourceID, records, submitter)
	if errors.Is(err, engine.ErrJobTimeout) {
		writeJSON(w, http.StatusGatewayTimeout, job)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, jobStatusCode(job), job)
}

func jobStatusCode(job *ingest.IngestionJob) int {
	if job.Status == ingest.StatusFailed {
		return http.StatusUnprocessableEntity
	}
	return http.StatusOK
}

// readRecords accepts a single object, an array of objects, or
// {"records": [...]}.
func (s *Server) readRecords(w http.ResponseWriter, r *http.Request) ([]ingest.Record, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		if list, ok := v["records"].([]any); ok {
			items = list
		} else {
			items = []any{v}
		}
	default:
		return nil, errNoRecords
	}
	if len(items) == 0 {
		return nil, errNoRecords
	}

	records := make([]ingest.Record, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d is not an object", i+1)
		}
		records = append(records, ingest.Record(m))
	}
	return records, nil
}
