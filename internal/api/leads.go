package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/ingest/internal/lead"
)

// submitLeads is the inbound lead webhook. It runs the lead pipeline
// synchronously so the caller learns the outcome of each record.
// POST /api/leads[?source=lead-agent]
func (s *Server) submitLeads(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source")
	if sourceID == "" {
		sourceID = lead.WebhookSourceID
	}
	records, err := s.readRecords(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.submit(w, r, sourceID, records, true)
}

func (s *Server) getLead(w http.ResponseWriter, r *http.Request) {
	if s.leads == nil {
		http.Error(w, "lead store not configured", http.StatusServiceUnavailable)
		return
	}
	l, err := s.leads.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) listCaseLeads(w http.ResponseWriter, r *http.Request) {
	if s.leads == nil {
		http.Error(w, "lead store not configured", http.StatusServiceUnavailable)
		return
	}
	leads, err := s.leads.ListByCase(r.Context(), chi.URLParam(r, "caseId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if leads == nil {
		leads = []*lead.NormalizedLead{}
	}
	writeJSON(w, http.StatusOK, leads)
}
