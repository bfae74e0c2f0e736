// Package importer implements bulk file import: preview, field mapping and
// batched submission of parsed rows to the ingestion engine.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soochol/ingest/internal/engine"
	"github.com/soochol/ingest/internal/ingest"
	"github.com/soochol/ingest/internal/parse"
	memstore "github.com/soochol/ingest/internal/repository/memory"
	"github.com/soochol/ingest/internal/validation"
)

const (
	DefaultBatchSize    = 100
	DefaultBatchDelay   = 100 * time.Millisecond
	DefaultBatchTimeout = 60 * time.Second
	PreviewRows         = 10
)

var ErrImportNotFound = errors.New("import not found")

// Ingester is the part of the engine the importer drives.
type Ingester interface {
	GetSource(id string) (ingest.DataSource, error)
	StartIngestion(ctx context.Context, sourceID string, records []ingest.Record, submitter string) (*ingest.IngestionJob, error)
	WaitForJob(ctx context.Context, jobID string) (*ingest.IngestionJob, error)
	CancelJob(jobID string) bool
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusParsing    Status = "parsing"
	StatusValidating Status = "validating"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPartial    Status = "partial"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartial
}

// Config describes one import request.
type Config struct {
	SourceID     string            `json:"source_id"`
	Format       parse.Format      `json:"format"`
	FieldMapping map[string]string `json:"field_mapping,omitempty"`
	Options      parse.Options     `json:"options"`
	ValidateOnly bool              `json:"validate_only,omitempty"`
	BatchSize    int               `json:"batch_size,omitempty"`
	StopOnError  bool              `json:"stop_on_error,omitempty"`
	MaxErrors    int               `json:"max_errors,omitempty"`
}

// RowError is an error tied to a 1-based data row. Row 0 means the error
// concerns the whole import.
type RowError struct {
	Row      int             `json:"row"`
	Field    string          `json:"field,omitempty"`
	Message  string          `json:"message"`
	Severity ingest.Severity `json:"severity"`
}

// Result tracks an import through the same lifecycle as an ingestion job,
// plus file-level row counts and duration.
type Result struct {
	ID             string     `json:"id"`
	SourceID       string     `json:"source_id"`
	Format         string     `json:"format"`
	Status         Status     `json:"status"`
	TotalRows      int        `json:"total_rows"`
	ProcessedRows  int        `json:"processed_rows"`
	SuccessfulRows int        `json:"successful_rows"`
	FailedRows     int        `json:"failed_rows"`
	Batches        int        `json:"batches"`
	JobIDs         []string   `json:"job_ids"`
	Errors         []RowError `json:"errors"`
	ValidateOnly   bool       `json:"validate_only,omitempty"`
	SubmittedBy    string     `json:"submitted_by,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	DurationMS     int64      `json:"duration_ms"`
}

func (r *Result) clone() *Result {
	c := *r
	c.JobIDs = append([]string(nil), r.JobIDs...)
	c.Errors = append([]RowError(nil), r.Errors...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Warning flags a preview row.
type Warning struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Preview is a read-only sample of a file used before committing an import.
type Preview struct {
	Format            parse.Format      `json:"format"`
	Rows              []ingest.Record   `json:"rows"`
	RowCount          int               `json:"row_count"`
	Fields            []string          `json:"fields"`
	SuggestedMappings map[string]string `json:"suggested_mappings"`
	Warnings          []Warning         `json:"warnings"`
}

// Settings are service-wide defaults.
type Settings struct {
	BatchSize    int
	BatchDelay   time.Duration
	BatchTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.BatchSize <= 0 {
		s.BatchSize = DefaultBatchSize
	}
	if s.BatchDelay <= 0 {
		s.BatchDelay = DefaultBatchDelay
	}
	if s.BatchTimeout <= 0 {
		s.BatchTimeout = DefaultBatchTimeout
	}
	return s
}

type importEntry struct {
	mu           sync.Mutex
	result       *Result
	currentJobID string
	cancelled    bool
	done         chan struct{}
}

func (e *importEntry) snapshot() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result.clone()
}

// Service runs bulk imports against an Ingester. Each import is processed by
// one goroutine; batches within an import run sequentially.
type Service struct {
	engine   Ingester
	settings Settings
	imports  *memstore.Store[*importEntry]
	wg       sync.WaitGroup
}

func New(eng Ingester, settings Settings) *Service {
	return &Service{
		engine:   eng,
		settings: settings.withDefaults(),
		imports:  memstore.New(func(e *importEntry) string { return e.result.ID }),
	}
}

// Preview parses at most PreviewRows rows (fewer when opts.MaxRows asks)
// and proposes field mappings.
func (s *Service) Preview(content []byte, format parse.Format, opts parse.Options) (*Preview, error) {
	if opts.MaxRows <= 0 || opts.MaxRows > PreviewRows {
		opts.MaxRows = PreviewRows
	}
	table, err := parse.Parse(content, format, opts)
	if err != nil {
		return nil, err
	}

	mappings := SuggestMappings(table.Fields)
	p := &Preview{
		Format:            format,
		Rows:              table.Rows,
		RowCount:          len(table.Rows),
		Fields:            table.Fields,
		SuggestedMappings: mappings,
		Warnings:          []Warning{},
	}
	for i, row := range table.Rows {
		if !hasIdentifyingField(applyMapping(row, table.Fields, mappings)) {
			p.Warnings = append(p.Warnings, Warning{
				Row:     i + 1,
				Message: "row has none of the identifying fields (description, name, title)",
			})
		}
	}
	return p, nil
}

// Start registers an import and processes it in the background. It fails
// synchronously only when the target source cannot be used.
func (s *Service) Start(ctx context.Context, content []byte, cfg Config, submitter string) (*Result, error) {
	src, err := s.engine.GetSource(cfg.SourceID)
	if err != nil {
		return nil, err
	}
	if !src.Enabled {
		return nil, fmt.Errorf("%w: %s", engine.ErrSourceDisabled, cfg.SourceID)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = s.settings.BatchSize
	}

	entry := &importEntry{
		result: &Result{
			ID:           uuid.NewString(),
			SourceID:     cfg.SourceID,
			Format:       string(cfg.Format),
			Status:       StatusPending,
			JobIDs:       []string{},
			Errors:       []RowError{},
			ValidateOnly: cfg.ValidateOnly,
			SubmittedBy:  submitter,
			StartedAt:    time.Now(),
		},
		done: make(chan struct{}),
	}
	_ = s.imports.Set(ctx, entry)
	slog.Info("import started", "import", entry.result.ID, "source", cfg.SourceID, "format", cfg.Format, "bytes", len(content))

	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx, entry, content, cfg, src)
	}()
	return entry.snapshot(), nil
}

// Import starts an import and waits for it to finish.
func (s *Service) Import(ctx context.Context, content []byte, cfg Config, submitter string) (*Result, error) {
	r, err := s.Start(ctx, content, cfg, submitter)
	if err != nil {
		return nil, err
	}
	return s.Wait(ctx, r.ID)
}

// Wait blocks until the import is terminal or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (*Result, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-entry.done:
		return entry.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) Status(id string) (*Result, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	return entry.snapshot(), nil
}

// Cancel marks a processing import failed and cancels its current batch.
// It returns false when the import is not processing. Work already inside
// a pipeline step runs to completion.
func (s *Service) Cancel(id string) bool {
	entry, err := s.entry(id)
	if err != nil {
		return false
	}
	entry.mu.Lock()
	if entry.result.Status != StatusProcessing {
		entry.mu.Unlock()
		return false
	}
	entry.cancelled = true
	entry.result.Status = StatusFailed
	entry.result.Errors = append(entry.result.Errors, RowError{Message: "import cancelled", Severity: ingest.SeverityError})
	jobID := entry.currentJobID
	entry.mu.Unlock()

	if jobID != "" {
		s.engine.CancelJob(jobID)
	}
	slog.Info("import cancelled", "import", id)
	return true
}

// Evict drops finished imports completed before cutoff.
func (s *Service) Evict(cutoff time.Time) int {
	return s.imports.DeleteFunc(func(e *importEntry) bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.result.CompletedAt != nil && e.result.CompletedAt.Before(cutoff)
	})
}

// Drain waits for all background imports to finish.
func (s *Service) Drain() {
	s.wg.Wait()
}

func (s *Service) entry(id string) (*importEntry, error) {
	entry, err := s.imports.Get(context.Background(), id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, id)
	}
	return entry, err
}

func (s *Service) run(ctx context.Context, entry *importEntry, content []byte, cfg Config, src ingest.DataSource) {
	defer s.finish(entry)

	if !entry.setStatus(StatusParsing) {
		return
	}
	table, err := parse.Parse(content, cfg.Format, cfg.Options)
	if err != nil {
		entry.fail(fmt.Sprintf("parse %s: %v", cfg.Format, err))
		return
	}

	rows := make([]ingest.Record, len(table.Rows))
	for i, row := range table.Rows {
		rows[i] = applyMapping(row, table.Fields, cfg.FieldMapping)
	}
	entry.mu.Lock()
	entry.result.TotalRows = len(rows)
	entry.mu.Unlock()

	if cfg.ValidateOnly {
		s.validateOnly(entry, rows, src.Schema)
		return
	}
	s.submitBatches(ctx, entry, rows, cfg)
}

func (s *Service) validateOnly(entry *importEntry, rows []ingest.Record, schema ingest.DataSchema) {
	if !entry.setStatus(StatusValidating) {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	for i, row := range rows {
		findings := validation.Validate(row, schema)
		for _, f := range findings {
			entry.result.Errors = append(entry.result.Errors, RowError{Row: i + 1, Field: f.Field, Message: f.Message, Severity: f.Severity})
		}
		entry.result.ProcessedRows++
		if validation.HasErrors(findings) {
			entry.result.FailedRows++
		} else {
			entry.result.SuccessfulRows++
		}
	}
}

func (s *Service) submitBatches(ctx context.Context, entry *importEntry, rows []ingest.Record, cfg Config) {
	if !entry.setStatus(StatusProcessing) {
		return
	}

	for start := 0; start < len(rows); start += cfg.BatchSize {
		end := min(start+cfg.BatchSize, len(rows))
		if start > 0 {
			select {
			case <-time.After(s.settings.BatchDelay):
			case <-ctx.Done():
				entry.fail(ctx.Err().Error())
				return
			}
		}
		if entry.isCancelled() {
			return
		}

		job, err := s.engine.StartIngestion(ctx, cfg.SourceID, rows[start:end], entry.result.SubmittedBy)
		if err != nil {
			entry.fail(fmt.Sprintf("batch at row %d: %v", start+1, err))
			return
		}
		entry.mu.Lock()
		entry.currentJobID = job.ID
		entry.result.JobIDs = append(entry.result.JobIDs, job.ID)
		entry.result.Batches++
		entry.mu.Unlock()

		waitCtx, cancel := context.WithTimeout(ctx, s.settings.BatchTimeout)
		final, err := s.engine.WaitForJob(waitCtx, job.ID)
		cancel()
		if err != nil {
			entry.fail(fmt.Sprintf("batch at row %d: %v", start+1, err))
			return
		}

		if stop := entry.absorb(final, start, cfg); stop != "" {
			slog.Warn("import stopped", "import", entry.result.ID, "reason", stop)
			entry.fail(stop)
			return
		}
		slog.Info("import batch done", "import", entry.result.ID, "job", job.ID, "rows", end-start, "failed", final.FailedRecords)
	}
}

// absorb folds a finished batch into the import counters. It returns a
// non-empty reason when the import must stop.
func (e *importEntry) absorb(job *ingest.IngestionJob, offset int, cfg Config) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentJobID = ""
	if e.cancelled {
		return ""
	}
	e.result.ProcessedRows += job.ProcessedRecords
	e.result.SuccessfulRows += job.SuccessfulRecords
	e.result.FailedRows += job.FailedRecords
	for _, je := range job.Errors {
		row := je.Row
		if row > 0 {
			row += offset
		}
		e.result.Errors = append(e.result.Errors, RowError{Row: row, Field: je.Field, Message: je.Message, Severity: je.Severity})
	}

	switch {
	case cfg.StopOnError && job.FailedRecords > 0:
		return fmt.Sprintf("stopped on error after batch %d", e.result.Batches)
	case cfg.MaxErrors > 0 && e.result.FailedRows >= cfg.MaxErrors:
		return fmt.Sprintf("error limit %d reached", cfg.MaxErrors)
	}
	return ""
}

func (e *importEntry) setStatus(status Status) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled || e.result.Status.Terminal() {
		return false
	}
	e.result.Status = status
	return true
}

func (e *importEntry) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

func (e *importEntry) fail(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled {
		return
	}
	e.result.Status = StatusFailed
	e.result.Errors = append(e.result.Errors, RowError{Message: msg, Severity: ingest.SeverityError})
}

func (s *Service) finish(entry *importEntry) {
	now := time.Now()
	entry.mu.Lock()
	r := entry.result
	if !r.Status.Terminal() {
		switch {
		case r.FailedRows == 0:
			r.Status = StatusCompleted
		case r.SuccessfulRows == 0:
			r.Status = StatusFailed
		default:
			r.Status = StatusPartial
		}
	}
	r.CompletedAt = &now
	r.DurationMS = now.Sub(r.StartedAt).Milliseconds()
	status, id := r.Status, r.ID
	entry.mu.Unlock()

	close(entry.done)
	slog.Info("import finished", "import", id, "status", status)
}
