package ingest

import "time"

type SourceType string

const (
	SourceAPI         SourceType = "api"
	SourceWebhook     SourceType = "webhook"
	SourceFileUpload  SourceType = "file_upload"
	SourceManualEntry SourceType = "manual_entry"
	SourceAgent       SourceType = "agent"
	SourceIntegration SourceType = "integration"
)

// Valid reports whether t is one of the known source types.
func (t SourceType) Valid() bool {
	switch t {
	case SourceAPI, SourceWebhook, SourceFileUpload, SourceManualEntry, SourceAgent, SourceIntegration:
		return true
	}
	return false
}

type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
)

type TransformKind string

const (
	TransformNormalize TransformKind = "normalize"
	TransformFormat    TransformKind = "format"
	TransformSplit     TransformKind = "split"
	TransformLookup    TransformKind = "lookup"
	TransformMerge     TransformKind = "merge"
	TransformCustom    TransformKind = "custom"
)

// FieldValidation holds optional per-field constraints. Nil bounds are unchecked.
type FieldValidation struct {
	Pattern       string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	MinLength     *int     `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength     *int     `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Min           *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max           *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	AllowedValues []any    `json:"allowed_values,omitempty" yaml:"allowed_values,omitempty"`
}

type SchemaField struct {
	Name       string           `json:"name" yaml:"name"`
	Type       FieldType        `json:"type" yaml:"type"`
	Nullable   bool             `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Mapping    string           `json:"mapping,omitempty" yaml:"mapping,omitempty"`
	Validation *FieldValidation `json:"validation,omitempty" yaml:"validation,omitempty"`
}

type Transformation struct {
	Field  string         `json:"field" yaml:"field"`
	Kind   TransformKind  `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

type DataSchema struct {
	Fields          []SchemaField    `json:"fields" yaml:"fields"`
	Required        []string         `json:"required,omitempty" yaml:"required,omitempty"`
	Transformations []Transformation `json:"transformations,omitempty" yaml:"transformations,omitempty"`
}

// Field returns the schema field named name, if declared.
func (s DataSchema) Field(name string) (SchemaField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return SchemaField{}, false
}

// DataSource is a registered origin of ingestible data. Sources are
// registered at startup and treated as immutable afterwards.
type DataSource struct {
	ID      string         `json:"id" yaml:"id"`
	Name    string         `json:"name" yaml:"name"`
	Type    SourceType     `json:"type" yaml:"type"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Schema  DataSchema     `json:"schema" yaml:"schema"`
	Enabled bool           `json:"enabled" yaml:"enabled"`
}

// Record is one row of field/value data flowing through the engine.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusValidating JobStatus = "validating"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusPartial    JobStatus = "partial"
)

// Terminal reports whether no further transitions happen from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartial
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type ValidationError struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// RecordError is a job-level error entry pointing back at the offending row.
type RecordError struct {
	Row      int      `json:"row"`
	RecordID string   `json:"record_id"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

type IngestionRecord struct {
	ID          string            `json:"id"`
	Index       int               `json:"index"`
	Raw         Record            `json:"raw"`
	Normalized  Record            `json:"normalized,omitempty"`
	Errors      []ValidationError `json:"errors,omitempty"`
	Status      JobStatus         `json:"status"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
}


type IngestionJob struct {
	ID                string             `json:"id"`
	SourceID          string             `json:"source_id"`
	Status            JobStatus          `json:"status"`
	TotalRecords      int                `json:"total_records"`
	ProcessedRecords  int                `json:"processed_records"`
	SuccessfulRecords int                `json:"successful_records"`
	FailedRecords     int                `json:"failed_records"`
	Errors            []RecordError      `json:"errors"`
	Records           []*IngestionRecord `json:"records,omitempty"`
	StartedAt         time.Time          `json:"started_at"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	SubmittedBy       string             `json:"submitted_by"`
}

// Clone returns a copy of j that shares no mutable state with the original.
func (j *IngestionJob) Clone() *IngestionJob {
	cp := *j
	cp.Errors = append([]RecordError(nil), j.Errors...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Records = make([]*IngestionRecord, len(j.Records))
	for i, r := range j.Records {
		rc := *r
		rc.Raw = r.Raw.Clone()
		rc.Normalized = r.Normalized.Clone()
		rc.Errors = append([]ValidationError(nil), r.Errors...)
		cp.Records[i] = &rc
	}
	return &cp
}
