package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/ingest/internal/config"
	"github.com/soochol/ingest/internal/importer"
	"github.com/soochol/ingest/internal/parse"
)

// upload is a parsed multipart import request.
type upload struct {
	content  []byte
	filename string
	format   parse.Format
}

// readUpload reads the "file" part and resolves its format from the
// "format" field, then fallback, then the filename extension.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, fallback parse.Format) (*upload, error) {
	if err := s.parseForm(w, r); err != nil {
		return nil, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("missing file field")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	name := r.FormValue("format")
	if name == "" {
		name = string(fallback)
	}
	if name == "" {
		name = filepath.Ext(header.Filename)
	}
	format, err := parse.ParseFormat(name)
	if err != nil {
		return nil, err
	}
	return &upload{content: content, filename: header.Filename, format: format}, nil
}

// parseForm parses a multipart body capped at the upload limit. Parsing is
// done once per request; later calls reuse the form.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	if r.MultipartForm != nil {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("file too large (max %d bytes)", tooLarge.Limit)
		}
		return fmt.Errorf("invalid multipart form: %w", err)
	}
	return nil
}

func uploadError(w http.ResponseWriter, err error) {
	if errors.Is(err, parse.ErrUnsupportedFormat) {
		writeError(w, err)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// previewImport parses an upload and returns the first rows with suggested
// field mappings. Nothing is ingested.
// POST /api/imports/preview (multipart: file, format, options)
func (s *Server) previewImport(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r, "")
	if err != nil {
		uploadError(w, err)
		return
	}
	var opts parse.Options
	if raw := r.FormValue("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			http.Error(w, "invalid options: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	preview, err := s.imports.Preview(up.content, up.format, opts)
	if err != nil {
		if errors.Is(err, parse.ErrUnsupportedFormat) || errors.Is(err, parse.ErrUnsupportedCompression) {
			writeError(w, err)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// startImport begins a bulk import.
// POST /api/imports[?wait=true] (multipart: file, config, source_id, format)
func (s *Server) startImport(w http.ResponseWriter, r *http.Request) {
	var cfg importer.Config
	if err := s.parseForm(w, r); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if raw := r.FormValue("config"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			http.Error(w, "invalid config: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if id := r.FormValue("source_id"); id != "" {
		cfg.SourceID = id
	}
	if cfg.SourceID == "" {
		http.Error(w, "source_id is required", http.StatusBadRequest)
		return
	}
	if cfg.Format == "" {
		cfg.Format = s.defaultFormat(cfg.SourceID)
	}

	up, err := s.readUpload(w, r, cfg.Format)
	if err != nil {
		uploadError(w, err)
		return
	}
	cfg.Format = up.format

	result, err := s.imports.Start(r.Context(), up.content, cfg, Submitter(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, result)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.waitTimeout)
	defer cancel()
	done, err := s.imports.Wait(ctx, result.ID)
	if err != nil {
		current, _ := s.imports.Status(result.ID)
		writeJSON(w, http.StatusGatewayTimeout, current)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

// defaultFormat is the upload format configured on the source, if any.
func (s *Server) defaultFormat(sourceID string) parse.Format {
	src, err := s.engine.GetSource(sourceID)
	if err != nil {
		return ""
	}
	settings, err := config.DecodeSourceSettings(src)
	if err != nil {
		return ""
	}
	return parse.Format(settings.Format)
}

func (s *Server) getImport(w http.ResponseWriter, r *http.Request) {
	result, err := s.imports.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) cancelImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.imports.Status(id); err != nil {
		writeError(w, err)
		return
	}
	if !s.imports.Cancel(id) {
		http.Error(w, "import is not processing", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": true})
}
