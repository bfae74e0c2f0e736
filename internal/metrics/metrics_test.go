package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/soochol/ingest/internal/engine"
	"github.com/soochol/ingest/internal/ingest"
	"github.com/soochol/ingest/internal/lead"
)

func TestRecorder_CountsEngineEvents(t *testing.T) {
	rec := New()
	eng := engine.New()
	rec.Attach(eng.Events())
	if err := lead.Register(eng, lead.Deps{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := eng.Ingest(context.Background(), "lead-webhook", []ingest.Record{
		{"description": "Saw the missing hiker near the ridge trail", "caseNumber": "LC-1"},
		{"description": "tiny"},
	}, "")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	eng.Wait()

	if got := testutil.ToFloat64(rec.sourcesRegistered.WithLabelValues("webhook")); got != 1 {
		t.Errorf("webhook sources registered: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.jobsStarted.WithLabelValues("lead-webhook")); got != 1 {
		t.Errorf("jobs started: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.jobsFinished.WithLabelValues("lead-webhook", "partial")); got != 1 {
		t.Errorf("partial jobs: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.records.WithLabelValues("lead-webhook", "completed")); got != 1 {
		t.Errorf("completed records: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.records.WithLabelValues("lead-webhook", "failed")); got != 1 {
		t.Errorf("failed records: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.activeJobs); got != 0 {
		t.Errorf("active jobs: got %v, want 0", got)
	}
}

func TestRecorder_Handler(t *testing.T) {
	rec := New()
	rec.Observe(ingest.Event{Type: ingest.EventJobStarted, SourceID: "s"})

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `ingest_jobs_started_total{source="s"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", body)
	}
}
