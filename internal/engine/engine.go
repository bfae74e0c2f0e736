// Package engine registers data sources and per-source-type pipelines and
// runs ingestion jobs: schema validation, transformation, then the pipeline
// for every valid record, with per-record failure isolation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/soochol/ingest/internal/ingest"
	"github.com/soochol/ingest/internal/transform"
	"github.com/soochol/ingest/internal/validation"
)

var (
	ErrSourceNotFound = errors.New("source not found")
	ErrSourceDisabled = errors.New("source disabled")
	ErrInvalidSource  = errors.New("invalid source")
	ErrJobNotFound    = errors.New("job not found")
	ErrJobTimeout     = errors.New("timed out waiting for job")
)

// RollbackPolicy selects which steps are compensated when a step fails.
type RollbackPolicy string

const (
	// RollbackExecuted rolls back only steps that completed, newest first.
	RollbackExecuted RollbackPolicy = "executed"
	// RollbackAll invokes every step in the pipeline that defines a
	// rollback, in pipeline order, whether or not it ran.
	RollbackAll RollbackPolicy = "all"
)

type Option func(*Engine)

func WithRollbackPolicy(p RollbackPolicy) Option {
	return func(e *Engine) {
		if p == RollbackAll || p == RollbackExecuted {
			e.rollbackPolicy = p
		}
	}
}

func WithEventBus(bus *EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithConcurrency bounds how many jobs process at once. Excess jobs wait in
// pending.
func WithConcurrency(limits ConcurrencyLimits) Option {
	return func(e *Engine) {
		if limits.Global > 0 || limits.PerSource > 0 {
			e.limiter = newLimiter(limits)
		}
	}
}

type jobEntry struct {
	mu        sync.Mutex
	job       *ingest.IngestionJob
	source    ingest.DataSource
	steps     []Step
	done      chan struct{}
	cancel    context.CancelFunc
	cancelled bool
}

func (j *jobEntry) snapshot() *ingest.IngestionJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.job.Clone()
}

// Engine owns the source registry, the pipeline registry and the job table.
// Each job is processed by exactly one goroutine; all job mutation happens
// under the job's lock.
type Engine struct {
	mu             sync.RWMutex
	sources        map[string]ingest.DataSource
	pipelines      map[ingest.SourceType][]Step
	jobs           map[string]*jobEntry
	active         map[string]*jobEntry
	bus            *EventBus
	rollbackPolicy RollbackPolicy
	limiter        *limiter
	wg             sync.WaitGroup
}

func New(opts ...Option) *Engine {
	e := &Engine{
		sources:        make(map[string]ingest.DataSource),
		pipelines:      make(map[ingest.SourceType][]Step),
		jobs:           make(map[string]*jobEntry),
		active:         make(map[string]*jobEntry),
		rollbackPolicy: RollbackExecuted,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = NewEventBus()
	}
	return e
}

// Events returns the bus lifecycle events are published on.
func (e *Engine) Events() *EventBus {
	return e.bus
}

// RegisterSource inserts or replaces a source definition.
func (e *Engine) RegisterSource(source ingest.DataSource) error {
	if source.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSource)
	}
	if !source.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q for %q", ErrInvalidSource, source.Type, source.ID)
	}
	e.mu.Lock()
	e.sources[source.ID] = source
	e.mu.Unlock()

	slog.Info("source registered", "source", source.ID, "type", source.Type, "enabled", source.Enabled)
	e.bus.Publish(ingest.Event{
		Type:      ingest.EventSourceRegistered,
		SourceID:  source.ID,
		Payload:   map[string]any{"type": string(source.Type), "enabled": source.Enabled},
		Timestamp: time.Now(),
	})
	return nil
}

// RegisterPipeline associates an ordered step list with a source type.
// The last registration for a type wins.
func (e *Engine) RegisterPipeline(sourceType ingest.SourceType, steps ...Step) {
	e.mu.Lock()
	e.pipelines[sourceType] = append([]Step(nil), steps...)
	e.mu.Unlock()
}

// StartIngestion creates a pending job and processes it in the background.
// It fails synchronously when the source is unknown or disabled. The returned
// job is a snapshot; use GetJobStatus, WaitForJob or the event bus to follow it.
func (e *Engine) StartIngestion(ctx context.Context, sourceID string, records []ingest.Record, submitter string) (*ingest.IngestionJob, error) {
	e.mu.RLock()
	source, ok := e.sources[sourceID]
	steps := e.pipelines[source.Type]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSourceNotFound, sourceID)
	}
	if !source.Enabled {
		return nil, fmt.Errorf("%w: %q", ErrSourceDisabled, sourceID)
	}

	job := &ingest.IngestionJob{
		ID:           uuid.NewString(),
		SourceID:     sourceID,
		Status:       ingest.StatusPending,
		TotalRecords: len(records),
		Errors:       []ingest.RecordError{},
		Records:      make([]*ingest.IngestionRecord, len(records)),
		StartedAt:    time.Now(),
		SubmittedBy:  submitter,
	}
	for i, raw := range records {
		job.Records[i] = &ingest.IngestionRecord{
			ID:     uuid.NewString(),
			Index:  i,
			Raw:    raw.Clone(),
			Status: ingest.StatusPending,
		}
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &jobEntry{
		job:    job,
		source: source,
		steps:  append([]Step(nil), steps...),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	e.mu.Lock()
	e.jobs[job.ID] = entry
	e.active[job.ID] = entry
	e.mu.Unlock()

	snap := entry.snapshot()
	slog.Info("ingestion job started", "job", job.ID, "source", sourceID, "records", len(records), "submitter", submitter)
	e.bus.Publish(ingest.Event{
		Type:      ingest.EventJobStarted,
		SourceID:  sourceID,
		JobID:     job.ID,
		Payload:   map[string]any{"total_records": len(records)},
		Timestamp: time.Now(),
	})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.process(jobCtx, entry)
	}()
	return snap, nil
}

// Ingest submits records and blocks until the job reaches a terminal status
// or ctx is done.
func (e *Engine) Ingest(ctx context.Context, sourceID string, records []ingest.Record, submitter string) (*ingest.IngestionJob, error) {
	job, err := e.StartIngestion(ctx, sourceID, records, submitter)
	if err != nil {
		return nil, err
	}
	return e.WaitForJob(ctx, job.ID)
}

// WaitForJob blocks until the job finishes. A context deadline is reported
// as ErrJobTimeout along with the job's latest snapshot.
func (e *Engine) WaitForJob(ctx context.Context, jobID string) (*ingest.IngestionJob, error) {
	entry, err := e.entry(jobID)
	if err != nil {
		return nil, err
	}
	select {
	case <-entry.done:
		return entry.snapshot(), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return entry.snapshot(), fmt.Errorf("%w %s", ErrJobTimeout, jobID)
		}
		return entry.snapshot(), ctx.Err()
	}
}

// CancelJob marks an in-flight job failed. Work already running inside a
// step completes; remaining records are not processed. It reports whether a
// running job was cancelled.
func (e *Engine) CancelJob(jobID string) bool {
	e.mu.RLock()
	entry, ok := e.active[jobID]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	entry.mu.Lock()
	if entry.job.Status.Terminal() || entry.cancelled {
		entry.mu.Unlock()
		return false
	}
	entry.cancelled = true
	entry.job.Status = ingest.StatusFailed
	entry.mu.Unlock()
	entry.cancel()
	slog.Info("ingestion job cancelled", "job", jobID)
	return true
}

func (e *Engine) GetJobStatus(jobID string) (*ingest.IngestionJob, error) {
	entry, err := e.entry(jobID)
	if err != nil {
		return nil, err
	}
	return entry.snapshot(), nil
}

// GetActiveJobs returns snapshots of jobs that have not finished, oldest first.
func (e *Engine) GetActiveJobs() []*ingest.IngestionJob {
	e.mu.RLock()
	entries := make([]*jobEntry, 0, len(e.active))
	for _, entry := range e.active {
		entries = append(entries, entry)
	}
	e.mu.RUnlock()

	out := make([]*ingest.IngestionJob, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (e *Engine) GetSources() []ingest.DataSource {
	e.mu.RLock()
	out := make([]ingest.DataSource, 0, len(e.sources))
	for _, s := range e.sources {
		out = append(out, s)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) GetSource(id string) (ingest.DataSource, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sources[id]
	if !ok {
		return ingest.DataSource{}, fmt.Errorf("%w: %q", ErrSourceNotFound, id)
	}
	return s, nil
}

// Evict drops finished jobs that completed before cutoff and returns how
// many were removed.
func (e *Engine) Evict(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, entry := range e.jobs {
		entry.mu.Lock()
		expired := entry.job.CompletedAt != nil && entry.job.CompletedAt.Before(cutoff)
		entry.mu.Unlock()
		if expired {
			delete(e.jobs, id)
			n++
		}
	}
	return n
}

// Wait blocks until every background job goroutine has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) entry(jobID string) (*jobEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrJobNotFound, jobID)
	}
	return entry, nil
}

func (e *Engine) process(ctx context.Context, entry *jobEntry) {
	if e.limiter != nil {
		if err := e.limiter.Acquire(ctx, entry.source.ID); err != nil {
			e.finalize(entry)
			return
		}
		defer e.limiter.Release(entry.source.ID)
	}
	e.validate(entry)
	e.runPipelines(ctx, entry)
	e.finalize(entry)
}

// setStatus moves the job to status unless it was cancelled.
func (entry *jobEntry) setStatus(status ingest.JobStatus) bool {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.cancelled {
		return false
	}
	entry.job.Status = status
	return true
}

func (e *Engine) validate(entry *jobEntry) {
	if !entry.setStatus(ingest.StatusValidating) {
		return
	}
	schema := entry.source.Schema

	for _, rec := range entry.job.Records {
		findings := validation.Validate(rec.Raw, schema)
		var normalized ingest.Record
		var transformErr error
		if !validation.HasErrors(findings) {
			normalized, transformErr = transform.Transform(rec.Raw, schema)
			if transformErr != nil {
				findings = append(findings, ingest.ValidationError{
					Message:  transformErr.Error(),
					Severity: ingest.SeverityError,
				})
			}
		}

		entry.mu.Lock()
		rec.Errors = findings
		failed := validation.HasErrors(findings)
		if failed {
			rec.Status = ingest.StatusFailed
			entry.job.FailedRecords++
			entry.job.ProcessedRecords++
		} else {
			rec.Normalized = normalized
			rec.Status = ingest.StatusValidating
		}
		entry.mu.Unlock()

		if failed {
			e.publishRecord(entry, rec, ingest.StatusFailed)
		}
	}
}

func (e *Engine) runPipelines(ctx context.Context, entry *jobEntry) {
	if !entry.setStatus(ingest.StatusProcessing) {
		return
	}

	for _, rec := range entry.job.Records {
		entry.mu.Lock()
		skip := rec.Status == ingest.StatusFailed
		stop := entry.cancelled
		var data ingest.Record
		if !skip && !stop {
			rec.Status = ingest.StatusProcessing
			data = rec.Normalized.Clone()
		}
		entry.mu.Unlock()
		if stop {
			return
		}
		if skip {
			continue
		}

		out, err := e.runRecord(ctx, entry, rec.ID, data)

		now := time.Now()
		entry.mu.Lock()
		entry.job.ProcessedRecords++
		if err != nil {
			rec.Status = ingest.StatusFailed
			rec.Errors = append(rec.Errors, ingest.ValidationError{Message: err.Error(), Severity: ingest.SeverityError})
			entry.job.FailedRecords++
		} else {
			rec.Status = ingest.StatusCompleted
			rec.Normalized = out
			rec.ProcessedAt = &now
			entry.job.SuccessfulRecords++
		}
		status := rec.Status
		entry.mu.Unlock()

		e.publishRecord(entry, rec, status)
	}
}

// runRecord threads data through every step in order. On failure the
// configured rollback policy is applied and the step error returned.
func (e *Engine) runRecord(ctx context.Context, entry *jobEntry, recordID string, data ingest.Record) (ingest.Record, error) {
	for i, step := range entry.steps {
		out, err := runStep(ctx, step, data)
		if err != nil {
			e.rollback(ctx, entry, recordID, i, data)
			return nil, fmt.Errorf("step %s: %w", step.Name(), err)
		}
		if out != nil {
			data = out
		}
	}
	return data, nil
}

// rollback compensates after the step at index failed. Rollback errors are
// aggregated and logged, never returned.
func (e *Engine) rollback(ctx context.Context, entry *jobEntry, recordID string, failed int, data ingest.Record) {
	var targets []Step
	if e.rollbackPolicy == RollbackAll {
		targets = entry.steps
	} else {
		for i := failed - 1; i >= 0; i-- {
			targets = append(targets, entry.steps[i])
		}
	}

	var result *multierror.Error
	for _, step := range targets {
		rb, ok := step.(Rollbacker)
		if !ok {
			continue
		}
		if err := runRollback(ctx, rb, data); err != nil {
			result = multierror.Append(result, fmt.Errorf("rollback %s: %w", step.Name(), err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		slog.Warn("rollback failed", "job", entry.job.ID, "record", recordID, "err", err)
	}
}

func (e *Engine) finalize(entry *jobEntry) {
	now := time.Now()

	entry.mu.Lock()
	job := entry.job
	job.CompletedAt = &now
	switch {
	case entry.cancelled:
		job.Status = ingest.StatusFailed
		job.Errors = append(job.Errors, ingest.RecordError{Message: "job cancelled", Severity: ingest.SeverityError})
	case job.FailedRecords == 0:
		job.Status = ingest.StatusCompleted
	case job.SuccessfulRecords == 0:
		job.Status = ingest.StatusFailed
	default:
		job.Status = ingest.StatusPartial
	}
	for _, rec := range job.Records {
		for _, ve := range rec.Errors {
			job.Errors = append(job.Errors, ingest.RecordError{
				Row:      rec.Index + 1,
				RecordID: rec.ID,
				Field:    ve.Field,
				Message:  ve.Message,
				Severity: ve.Severity,
			})
		}
	}
	snap := job.Clone()
	entry.mu.Unlock()

	e.mu.Lock()
	delete(e.active, job.ID)
	e.mu.Unlock()
	close(entry.done)

	eventType := ingest.EventJobCompleted
	if snap.Status == ingest.StatusFailed {
		eventType = ingest.EventJobFailed
	}
	slog.Info("ingestion job finished", "job", snap.ID, "status", snap.Status,
		"successful", snap.SuccessfulRecords, "failed", snap.FailedRecords)
	e.bus.Publish(ingest.Event{
		Type:     eventType,
		SourceID: snap.SourceID,
		JobID:    snap.ID,
		Payload: map[string]any{
			"status":             string(snap.Status),
			"total_records":      snap.TotalRecords,
			"processed_records":  snap.ProcessedRecords,
			"successful_records": snap.SuccessfulRecords,
			"failed_records":     snap.FailedRecords,
			"duration_ms":        now.Sub(snap.StartedAt).Milliseconds(),
		},
		Timestamp: now,
	})
}

func (e *Engine) publishRecord(entry *jobEntry, rec *ingest.IngestionRecord, status ingest.JobStatus) {
	entry.mu.Lock()
	processed, total := entry.job.ProcessedRecords, entry.job.TotalRecords
	jobID, sourceID := entry.job.ID, entry.job.SourceID
	entry.mu.Unlock()

	now := time.Now()
	e.bus.Publish(ingest.Event{
		Type:      ingest.EventRecordProcessed,
		SourceID:  sourceID,
		JobID:     jobID,
		RecordID:  rec.ID,
		Payload:   map[string]any{"status": string(status), "index": rec.Index},
		Timestamp: now,
	})
	e.bus.Publish(ingest.Event{
		Type:      ingest.EventJobProgress,
		SourceID:  sourceID,
		JobID:     jobID,
		Payload:   map[string]any{"processed_records": processed, "total_records": total},
		Timestamp: now,
	})
}
