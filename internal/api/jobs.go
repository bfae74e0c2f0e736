package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) listActiveJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.engine.GetActiveJobs()
	for _, j := range jobs {
		j.Records = nil
	}
	writeJSON(w, http.StatusOK, jobs)
}

// getJob returns a job snapshot. Per-record detail is omitted with
// ?records=false.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.engine.GetJobStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("records") == "false" {
		job.Records = nil
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.engine.GetJobStatus(id); err != nil {
		writeError(w, err)
		return
	}
	if !s.engine.CancelJob(id) {
		http.Error(w, "job is not running", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": true})
}
