package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soochol/ingest/internal/ingest"
)

func testSource(id string) ingest.DataSource {
	return ingest.DataSource{
		ID:      id,
		Name:    "Test",
		Type:    ingest.SourceAPI,
		Enabled: true,
		Schema: ingest.DataSchema{
			Fields:   []ingest.SchemaField{{Name: "name", Type: ingest.FieldString}},
			Required: []string{"name"},
			Transformations: []ingest.Transformation{
				{Field: "name", Kind: ingest.TransformNormalize},
			},
		},
	}
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New(opts...)
	if err := e.RegisterSource(testSource("src")); err != nil {
		t.Fatalf("register source: %v", err)
	}
	return e
}

func ingestWait(t *testing.T, e *Engine, records []ingest.Record) *ingest.IngestionJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := e.Ingest(ctx, "src", records, "tester")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return job
}

// recordingStep appends its name to a shared log on execute and rollback.
type recordingStep struct {
	name string
	mu   *sync.Mutex
	log  *[]string
	fail bool
}

func (s *recordingStep) Name() string { return s.name }

func (s *recordingStep) Execute(_ context.Context, data ingest.Record) (ingest.Record, error) {
	s.mu.Lock()
	*s.log = append(*s.log, "exec:"+s.name)
	s.mu.Unlock()
	if s.fail {
		return nil, errors.New("boom")
	}
	out := data.Clone()
	out[s.name] = true
	return out, nil
}

func (s *recordingStep) Rollback(_ context.Context, _ ingest.Record) error {
	s.mu.Lock()
	*s.log = append(*s.log, "rollback:"+s.name)
	s.mu.Unlock()
	return nil
}

func TestStartIngestion_UnknownAndDisabledSource(t *testing.T) {
	e := New()
	if _, err := e.StartIngestion(context.Background(), "missing", nil, "u"); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
	src := testSource("off")
	src.Enabled = false
	if err := e.RegisterSource(src); err != nil {
		t.Fatal(err)
	}
	if _, err := e.StartIngestion(context.Background(), "off", nil, "u"); !errors.Is(err, ErrSourceDisabled) {
		t.Fatalf("expected ErrSourceDisabled, got %v", err)
	}
}

func TestRegisterSource_Invalid(t *testing.T) {
	e := New()
	if err := e.RegisterSource(ingest.DataSource{ID: "x", Type: "carrier-pigeon"}); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
}

func TestIngest_ValidationFailureExcludesRecord(t *testing.T) {
	e := newTestEngine(t)
	var calls int
	var mu sync.Mutex
	e.RegisterPipeline(ingest.SourceAPI, NewStep("count", func(_ context.Context, d ingest.Record) (ingest.Record, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return d, nil
	}))

	job := ingestWait(t, e, []ingest.Record{{"name": "  ALICE "}, {"other": 1}})

	if job.Status != ingest.StatusPartial {
		t.Errorf("status: got %q, want partial", job.Status)
	}
	if job.SuccessfulRecords != 1 || job.FailedRecords != 1 {
		t.Errorf("counters: got %d/%d, want 1/1", job.SuccessfulRecords, job.FailedRecords)
	}
	if job.ProcessedRecords != job.SuccessfulRecords+job.FailedRecords {
		t.Errorf("processed %d != successful+failed", job.ProcessedRecords)
	}
	if calls != 1 {
		t.Errorf("pipeline calls: got %d, want 1", calls)
	}
	if got := job.Records[0].Normalized["name"]; got != "alice" {
		t.Errorf("normalized name: got %v", got)
	}
	if len(job.Errors) == 0 || job.Errors[0].Field != "name" || job.Errors[0].Row != 2 {
		t.Errorf("job errors: got %+v", job.Errors)
	}
	if len(e.GetActiveJobs()) != 0 {
		t.Error("finished job still active")
	}
	if _, err := e.GetJobStatus(job.ID); err != nil {
		t.Errorf("finished job should stay queryable: %v", err)
	}
}

func TestIngest_StepsRunInOrder(t *testing.T) {
	e := newTestEngine(t)
	var mu sync.Mutex
	var log []string
	e.RegisterPipeline(ingest.SourceAPI,
		&recordingStep{name: "a", mu: &mu, log: &log},
		&recordingStep{name: "b", mu: &mu, log: &log},
	)
	job := ingestWait(t, e, []ingest.Record{{"name": "x"}})
	if job.Status != ingest.StatusCompleted {
		t.Fatalf("status: got %q", job.Status)
	}
	rec := job.Records[0]
	if rec.Normalized["a"] != true || rec.Normalized["b"] != true {
		t.Errorf("payload not threaded: %v", rec.Normalized)
	}
	if rec.ProcessedAt == nil {
		t.Error("processed timestamp missing")
	}
	want := []string{"exec:a", "exec:b"}
	if len(log) != 2 || log[0] != want[0] || log[1] != want[1] {
		t.Errorf("log: got %v, want %v", log, want)
	}
}

func TestIngest_RollbackExecutedStepsInReverse(t *testing.T) {
	e := newTestEngine(t)
	var mu sync.Mutex
	var log []string
	e.RegisterPipeline(ingest.SourceAPI,
		&recordingStep{name: "a", mu: &mu, log: &log},
		&recordingStep{name: "b", mu: &mu, log: &log},
		&recordingStep{name: "c", mu: &mu, log: &log, fail: true},
		&recordingStep{name: "d", mu: &mu, log: &log},
	)
	job := ingestWait(t, e, []ingest.Record{{"name": "x"}})
	if job.Status != ingest.StatusFailed {
		t.Fatalf("status: got %q, want failed", job.Status)
	}
	want := []string{"exec:a", "exec:b", "exec:c", "rollback:b", "rollback:a"}
	if len(log) != len(want) {
		t.Fatalf("log: got %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log: got %v, want %v", log, want)
		}
	}
}

func TestIngest_RollbackAllPolicy(t *testing.T) {
	e := newTestEngine(t, WithRollbackPolicy(RollbackAll))
	var mu sync.Mutex
	var log []string
	e.RegisterPipeline(ingest.SourceAPI,
		&recordingStep{name: "a", mu: &mu, log: &log},
		&recordingStep{name: "b", mu: &mu, log: &log, fail: true},
		&recordingStep{name: "c", mu: &mu, log: &log},
	)
	ingestWait(t, e, []ingest.Record{{"name": "x"}})
	want := []string{"exec:a", "exec:b", "rollback:a", "rollback:b", "rollback:c"}
	if len(log) != len(want) {
		t.Fatalf("log: got %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log: got %v, want %v", log, want)
		}
	}
}

func TestIngest_RollbackErrorsSwallowed(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterPipeline(ingest.SourceAPI,
		NewStepWithRollback("store",
			func(_ context.Context, d ingest.Record) (ingest.Record, error) { return d, nil },
			func(context.Context, ingest.Record) error { return errors.New("rollback broke") }),
		NewStep("explode", func(context.Context, ingest.Record) (ingest.Record, error) { panic("kaboom") }),
	)
	job := ingestWait(t, e, []ingest.Record{{"name": "x"}, {"name": "y"}})
	if job.Status != ingest.StatusFailed {
		t.Fatalf("status: got %q, want failed", job.Status)
	}
	if job.FailedRecords != 2 || job.ProcessedRecords != 2 {
		t.Errorf("counters: %+v", job)
	}
	for _, je := range job.Errors {
		if je.Message == "rollback broke" {
			t.Error("rollback error leaked into job errors")
		}
	}
}

func TestIngest_EmptyBatchCompletes(t *testing.T) {
	e := newTestEngine(t)
	job := ingestWait(t, e, nil)
	if job.Status != ingest.StatusCompleted || job.TotalRecords != 0 {
		t.Errorf("got %+v", job)
	}
}

func TestIngest_EventsEmitted(t *testing.T) {
	e := New()
	var mu sync.Mutex
	seen := map[ingest.EventType]int{}
	e.Events().Subscribe(func(ev ingest.Event) {
		mu.Lock()
		seen[ev.Type]++
		mu.Unlock()
	})
	if err := e.RegisterSource(testSource("src")); err != nil {
		t.Fatal(err)
	}
	ingestWait(t, e, []ingest.Record{{"name": "x"}, {}})
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	if seen[ingest.EventSourceRegistered] != 1 || seen[ingest.EventJobStarted] != 1 {
		t.Errorf("lifecycle events: %v", seen)
	}
	if seen[ingest.EventRecordProcessed] != 2 || seen[ingest.EventJobProgress] != 2 {
		t.Errorf("record events: %v", seen)
	}
	if seen[ingest.EventJobCompleted] != 1 {
		t.Errorf("completion events: %v", seen)
	}
}

func TestCancelJob(t *testing.T) {
	e := newTestEngine(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	e.RegisterPipeline(ingest.SourceAPI, NewStep("block", func(ctx context.Context, d ingest.Record) (ingest.Record, error) {
		started <- struct{}{}
		<-release
		return d, nil
	}))

	job, err := e.StartIngestion(context.Background(), "src", []ingest.Record{{"name": "a"}, {"name": "b"}}, "u")
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if !e.CancelJob(job.ID) {
		t.Fatal("expected cancel to succeed")
	}
	if e.CancelJob(job.ID) {
		t.Error("second cancel should be a no-op")
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := e.WaitForJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != ingest.StatusFailed {
		t.Errorf("status: got %q, want failed", final.Status)
	}
	if final.ProcessedRecords != 1 {
		t.Errorf("processed: got %d, want 1", final.ProcessedRecords)
	}
	if final.ProcessedRecords != final.SuccessfulRecords+final.FailedRecords {
		t.Errorf("counter invariant broken: %+v", final)
	}
}

func TestWaitForJob_Timeout(t *testing.T) {
	e := newTestEngine(t)
	release := make(chan struct{})
	defer close(release)
	e.RegisterPipeline(ingest.SourceAPI, NewStep("block", func(_ context.Context, d ingest.Record) (ingest.Record, error) {
		<-release
		return d, nil
	}))
	job, err := e.StartIngestion(context.Background(), "src", []ingest.Record{{"name": "a"}}, "u")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap, err := e.WaitForJob(ctx, job.ID)
	if !errors.Is(err, ErrJobTimeout) {
		t.Fatalf("expected ErrJobTimeout, got %v", err)
	}
	if snap == nil || snap.Status.Terminal() {
		t.Errorf("expected non-terminal snapshot, got %+v", snap)
	}
	if _, err := e.WaitForJob(ctx, "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestEvictAndJanitor(t *testing.T) {
	e := newTestEngine(t)
	job := ingestWait(t, e, []ingest.Record{{"name": "x"}})

	if n := e.Evict(time.Now().Add(-time.Hour)); n != 0 {
		t.Errorf("evicted %d fresh jobs", n)
	}
	j, err := NewJanitor("@every 1m", 0, e)
	if err != nil {
		t.Fatal(err)
	}
	j.Sweep()
	if _, err := e.GetJobStatus(job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected job evicted, got %v", err)
	}

	if _, err := NewJanitor("not a schedule", time.Minute); err == nil {
		t.Error("expected invalid schedule error")
	}
}

func TestGetSources_Sorted(t *testing.T) {
	e := New()
	for _, id := range []string{"b", "a", "c"} {
		if err := e.RegisterSource(testSource(id)); err != nil {
			t.Fatal(err)
		}
	}
	// Upsert keeps one entry.
	if err := e.RegisterSource(testSource("a")); err != nil {
		t.Fatal(err)
	}
	got := e.GetSources()
	if len(got) != 3 || got[0].ID != "a" || got[2].ID != "c" {
		t.Errorf("sources: %+v", got)
	}
}

type flakyStep struct {
	failures int
	calls    int
	err      error
}

func (s *flakyStep) Name() string { return "flaky" }

func (s *flakyStep) Execute(_ context.Context, data ingest.Record) (ingest.Record, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}
	return data, nil
}

func TestWithRetry_TransientErrors(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, BackoffFactor: 2}

	flaky := &flakyStep{failures: 2, err: errors.New("dial tcp: connection refused")}
	if _, err := WithRetry(flaky, policy).Execute(context.Background(), ingest.Record{}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if flaky.calls != 3 {
		t.Errorf("calls: got %d, want 3", flaky.calls)
	}

	exhausted := &flakyStep{failures: 5, err: errors.New("i/o timeout")}
	if _, err := WithRetry(exhausted, policy).Execute(context.Background(), ingest.Record{}); err == nil {
		t.Error("expected error once retries are exhausted")
	}
	if exhausted.calls != 3 {
		t.Errorf("calls: got %d, want 3", exhausted.calls)
	}

	permanent := &flakyStep{failures: 5, err: errors.New("duplicate key")}
	WithRetry(permanent, policy).Execute(context.Background(), ingest.Record{})
	if permanent.calls != 1 {
		t.Errorf("permanent error retried: calls %d", permanent.calls)
	}
}

func TestWithRetry_KeepsRollback(t *testing.T) {
	var mu sync.Mutex
	var log []string
	step := &recordingStep{name: "s", mu: &mu, log: &log}
	if _, ok := WithRetry(step, RetryPolicy{MaxRetries: 1}).(Rollbacker); !ok {
		t.Error("wrapped step lost its rollback")
	}
	if WithRetry(step, DefaultRetryPolicy()) != Step(step) {
		t.Error("default policy should return the step unchanged")
	}
}

func TestCalculateBackoff(t *testing.T) {
	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}
	for attempt, want := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond} {
		if got := calculateBackoff(p, attempt); got != want {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, want)
		}
	}
}

func TestConcurrencyLimit_QueuesJobs(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	running, peak := 0, 0
	block := NewStep("block", func(ctx context.Context, data ingest.Record) (ingest.Record, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return data, nil
	})

	e := newTestEngine(t, WithConcurrency(ConcurrencyLimits{PerSource: 1}))
	e.RegisterPipeline(ingest.SourceAPI, block)

	ctx := context.Background()
	first, err := e.StartIngestion(ctx, "src", []ingest.Record{{"name": "a"}}, "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.StartIngestion(ctx, "src", []ingest.Record{{"name": "b"}}, "")
	if err != nil {
		t.Fatal(err)
	}
	close(release)

	for _, id := range []string{first.ID, second.ID} {
		job, err := e.WaitForJob(ctx, id)
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		if job.Status != ingest.StatusCompleted {
			t.Errorf("job %s: got %s, want completed", id, job.Status)
		}
	}
	if peak != 1 {
		t.Errorf("peak concurrent jobs: got %d, want 1", peak)
	}
}

func TestConcurrencyLimit_CancelWhileQueued(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	block := NewStep("block", func(ctx context.Context, data ingest.Record) (ingest.Record, error) {
		<-release
		return data, nil
	})
	e := newTestEngine(t, WithConcurrency(ConcurrencyLimits{Global: 1}))
	e.RegisterPipeline(ingest.SourceAPI, block)

	ctx := context.Background()
	if _, err := e.StartIngestion(ctx, "src", []ingest.Record{{"name": "a"}}, ""); err != nil {
		t.Fatal(err)
	}
	queued, err := e.StartIngestion(ctx, "src", []ingest.Record{{"name": "b"}}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !e.CancelJob(queued.ID) {
		t.Fatal("cancel queued job: got false")
	}
	job, err := e.WaitForJob(ctx, queued.ID)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if job.Status != ingest.StatusFailed || job.ProcessedRecords != 0 {
		t.Errorf("queued job: status %s, processed %d", job.Status, job.ProcessedRecords)
	}
}
