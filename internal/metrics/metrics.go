// Package metrics exports engine lifecycle events as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soochol/ingest/internal/engine"
	"github.com/soochol/ingest/internal/ingest"
)

const namespace = "ingest"

// Recorder turns bus events into counters. It owns its registry so several
// engines (tests) do not collide on the global one.
type Recorder struct {
	registry *prometheus.Registry

	sourcesRegistered *prometheus.CounterVec
	jobsStarted       *prometheus.CounterVec
	jobsFinished      *prometheus.CounterVec
	activeJobs        prometheus.Gauge
	records           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		sourcesRegistered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_registered_total",
			Help:      "Data source registrations by type.",
		}, []string{"type"}),
		jobsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "started_total",
			Help:      "Ingestion jobs started.",
		}, []string{"source"}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Ingestion jobs finished, by terminal status.",
		}, []string{"source", "status"}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Ingestion jobs currently running.",
		}),
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "processed_total",
			Help:      "Records that reached a terminal state, by status.",
		}, []string{"source", "status"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time from job start to completion.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"source"}),
	}
}

// Attach subscribes the recorder to bus.
func (r *Recorder) Attach(bus *engine.EventBus) {
	bus.Subscribe(r.Observe)
}

func (r *Recorder) Observe(e ingest.Event) {
	switch e.Type {
	case ingest.EventSourceRegistered:
		t, _ := e.Payload["type"].(string)
		r.sourcesRegistered.WithLabelValues(t).Inc()
	case ingest.EventJobStarted:
		r.jobsStarted.WithLabelValues(e.SourceID).Inc()
		r.activeJobs.Inc()
	case ingest.EventJobCompleted, ingest.EventJobFailed:
		status, _ := e.Payload["status"].(string)
		r.jobsFinished.WithLabelValues(e.SourceID, status).Inc()
		r.activeJobs.Dec()
		if ms, ok := e.Payload["duration_ms"].(int64); ok {
			r.jobDuration.WithLabelValues(e.SourceID).Observe((time.Duration(ms) * time.Millisecond).Seconds())
		}
	case ingest.EventRecordProcessed:
		status, _ := e.Payload["status"].(string)
		r.records.WithLabelValues(e.SourceID, status).Inc()
	}
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
