package lead

import (
	"github.com/soochol/ingest/internal/engine"
	"github.com/soochol/ingest/internal/ingest"
)

// Deps are the pipeline's collaborators. Nil fields fall back to the
// placeholder implementations. Retry applies to the attachment and store
// steps; the zero policy disables it.
type Deps struct {
	Cases       CaseResolver
	Geocoder    Geocoder
	Attachments AttachmentStore
	Store       LeadStore
	Retry       engine.RetryPolicy
}

func (d Deps) withDefaults() Deps {
	if d.Cases == nil {
		d.Cases = PlaceholderCaseResolver{}
	}
	if d.Geocoder == nil {
		d.Geocoder = NoopGeocoder{}
	}
	if d.Attachments == nil {
		d.Attachments = PlaceholderAttachmentStore{}
	}
	if d.Store == nil {
		d.Store = noopLeadStore{}
	}
	return d
}

// Steps returns the lead pipeline in execution order.
func Steps(deps Deps) []engine.Step {
	d := deps.withDefaults()
	return []engine.Step{
		validateStep{},
		resolveCaseStep{cases: d.Cases},
		enrichLocationStep{geo: d.Geocoder},
		dedupStep{store: d.Store},
		scoreStep{},
		engine.WithRetry(attachmentsStep{store: d.Attachments}, d.Retry),
		engine.WithRetry(storeStep{store: d.Store}, d.Retry),
	}
}

// PipelineTypes are the source types whose records are leads.
var PipelineTypes = []ingest.SourceType{
	ingest.SourceWebhook,
	ingest.SourceAgent,
	ingest.SourceFileUpload,
}

// Register installs the lead pipeline on e for every lead source type and
// registers the default lead sources.
func Register(e *engine.Engine, deps Deps) error {
	steps := Steps(deps)
	for _, t := range PipelineTypes {
		e.RegisterPipeline(t, steps...)
	}
	for _, src := range DefaultSources() {
		if err := e.RegisterSource(src); err != nil {
			return err
		}
	}
	return nil
}

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

// Schema is the record-level schema shared by lead sources. Deep checks
// (case reference, coordinate pairing) happen in the validate step since
// they span nested groups.
func Schema() ingest.DataSchema {
	return ingest.DataSchema{
		Fields: []ingest.SchemaField{
			{Name: "description", Type: ingest.FieldString, Validation: &ingest.FieldValidation{MinLength: intPtr(minDescriptionLength)}},
			{Name: "caseNumber", Type: ingest.FieldString, Nullable: true},
			{Name: "caseId", Type: ingest.FieldString, Nullable: true},
			{Name: "priority", Type: ingest.FieldString, Nullable: true},
			{Name: "isAnonymous", Type: ingest.FieldBoolean, Nullable: true},
			{Name: "email", Type: ingest.FieldString, Nullable: true, Validation: &ingest.FieldValidation{Pattern: emailRe.String()}},
			{Name: "latitude", Type: ingest.FieldNumber, Nullable: true, Validation: &ingest.FieldValidation{Min: floatPtr(-90), Max: floatPtr(90)}},
			{Name: "longitude", Type: ingest.FieldNumber, Nullable: true, Validation: &ingest.FieldValidation{Min: floatPtr(-180), Max: floatPtr(180)}},
		},
		Required: []string{"description"},
		Transformations: []ingest.Transformation{
			{Field: "email", Kind: ingest.TransformNormalize},
			{Field: "priority", Kind: ingest.TransformNormalize},
			{Field: "phone", Kind: ingest.TransformFormat, Config: map[string]any{"format": "phone"}},
		},
	}
}

// IDs of the built-in lead sources.
const (
	WebhookSourceID = "lead-webhook"
	AgentSourceID   = "lead-agent"
	UploadSourceID  = "lead-upload"
)

// DefaultSources are registered at startup so leads can arrive before any
// administrator configures sources.
func DefaultSources() []ingest.DataSource {
	return []ingest.DataSource{
		{ID: WebhookSourceID, Name: "Lead webhook", Type: ingest.SourceWebhook, Schema: Schema(), Enabled: true},
		{ID: AgentSourceID, Name: "Agent-submitted leads", Type: ingest.SourceAgent, Schema: Schema(), Enabled: true},
		{ID: UploadSourceID, Name: "Bulk lead upload", Type: ingest.SourceFileUpload, Schema: Schema(), Enabled: true},
	}
}
