package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/soochol/ingest/internal/db"
	"github.com/soochol/ingest/internal/engine"
	"github.com/soochol/ingest/internal/importer"
	"github.com/soochol/ingest/internal/lead"
	"github.com/soochol/ingest/internal/metrics"
	"github.com/soochol/ingest/internal/parse"
	"github.com/soochol/ingest/internal/repository"
)

const (
	defaultMaxUploadSize = 32 << 20
	defaultWaitTimeout   = 60 * time.Second
)

type Server struct {
	engine      *engine.Engine
	imports     *importer.Service
	leads       repository.LeadRepository
	metrics     *metrics.Recorder
	auth        *Authenticator
	corsOrigins []string
	maxUpload   int64
	waitTimeout time.Duration
}

func NewServer(eng *engine.Engine, imports *importer.Service, leads repository.LeadRepository) *Server {
	return &Server{
		engine:      eng,
		imports:     imports,
		leads:       leads,
		auth:        NewAuthenticator("", false),
		corsOrigins: []string{"*"},
		maxUpload:   defaultMaxUploadSize,
		waitTimeout: defaultWaitTimeout,
	}
}

// SetMetrics exposes rec on /metrics.
func (s *Server) SetMetrics(rec *metrics.Recorder) {
	s.metrics = rec
}

func (s *Server) SetAuth(a *Authenticator) {
	s.auth = a
}

func (s *Server) SetCORSOrigins(origins []string) {
	if len(origins) > 0 {
		s.corsOrigins = origins
	}
}

// SetMaxUploadSize caps multipart import uploads, in bytes.
func (s *Server) SetMaxUploadSize(n int64) {
	if n > 0 {
		s.maxUpload = n
	}
}

// SetWaitTimeout bounds how long synchronous endpoints (lead webhook,
// ?wait=true) block on a job before answering 504.
func (s *Server) SetWaitTimeout(d time.Duration) {
	if d > 0 {
		s.waitTimeout = d
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Get("/{id}", s.getSource)
			r.Post("/{id}/ingest", s.ingestRecords)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listActiveJobs)
			r.Get("/{id}", s.getJob)
			r.Post("/{id}/cancel", s.cancelJob)
		})
		r.Route("/leads", func(r chi.Router) {
			r.Post("/", s.submitLeads)
			r.Get("/{id}", s.getLead)
		})
		r.Get("/cases/{caseId}/leads", s.listCaseLeads)
		r.Route("/imports", func(r chi.Router) {
			r.Post("/preview", s.previewImport)
			r.Post("/", s.startImport)
			r.Get("/{id}", s.getImport)
			r.Post("/{id}/cancel", s.cancelImport)
		})
		r.Get("/events", s.streamEvents)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

// errorStatus maps package sentinels onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrSourceNotFound),
		errors.Is(err, engine.ErrJobNotFound),
		errors.Is(err, importer.ErrImportNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrSourceDisabled):
		return http.StatusConflict
	case errors.Is(err, parse.ErrUnsupportedFormat),
		errors.Is(err, parse.ErrUnsupportedCompression):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, lead.ErrCaseNotFound), errors.Is(err, lead.ErrCaseAmbiguous):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrJobTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		http.Error(w, "internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
