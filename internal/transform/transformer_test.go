package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/ingest/internal/ingest"
)

func TestTransform_MappingAndNormalize(t *testing.T) {
	schema := ingest.DataSchema{
		Fields: []ingest.SchemaField{
			{Name: "E-Mail", Type: ingest.FieldString, Mapping: "email"},
		},
		Transformations: []ingest.Transformation{
			{Field: "email", Kind: ingest.TransformNormalize},
		},
	}
	in := ingest.Record{"E-Mail": "  Jane@Example.COM ", "other": 1}
	out, err := Transform(in, schema)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", out["email"])
	assert.Equal(t, 1, out["other"])
	assert.NotContains(t, out, "E-Mail")
	assert.Equal(t, "  Jane@Example.COM ", in["E-Mail"], "input must not be modified")
}

func TestTransform_FormatPhone(t *testing.T) {
	schema := ingest.DataSchema{Transformations: []ingest.Transformation{
		{Field: "phone", Kind: ingest.TransformFormat, Config: map[string]any{"format": "phone"}},
	}}
	out, err := Transform(ingest.Record{"phone": "(555) 123-4567"}, schema)
	require.NoError(t, err)
	assert.Equal(t, "5551234567", out["phone"])
}

func TestTransform_Split(t *testing.T) {
	schema := ingest.DataSchema{Transformations: []ingest.Transformation{
		{Field: "tags", Kind: ingest.TransformSplit, Config: map[string]any{"delimiter": ";"}},
	}}
	out, err := Transform(ingest.Record{"tags": "red; blue;;green"}, schema)
	require.NoError(t, err)
	assert.Equal(t, []any{"red", "blue", "green"}, out["tags"])
}

func TestTransform_LookupPassthrough(t *testing.T) {
	schema := ingest.DataSchema{Transformations: []ingest.Transformation{
		{Field: "state", Kind: ingest.TransformLookup, Config: map[string]any{
			"table": map[string]any{"CA": "California"},
		}},
	}}
	out, err := Transform(ingest.Record{"state": "CA"}, schema)
	require.NoError(t, err)
	assert.Equal(t, "California", out["state"])

	out, err = Transform(ingest.Record{"state": "NV"}, schema)
	require.NoError(t, err)
	assert.Equal(t, "NV", out["state"])
}

func TestTransform_Merge(t *testing.T) {
	schema := ingest.DataSchema{Transformations: []ingest.Transformation{
		{Field: "name", Kind: ingest.TransformMerge, Config: map[string]any{
			"fields": []string{"firstName", "lastName"},
		}},
	}}
	out, err := Transform(ingest.Record{"firstName": "Ada", "lastName": "Lovelace"}, schema)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", out["name"])
}

func TestTransform_CustomExpression(t *testing.T) {
	schema := ingest.DataSchema{Transformations: []ingest.Transformation{
		{Field: "urgent", Kind: ingest.TransformCustom, Config: map[string]any{
			"expression": `priority in ["high", "critical"]`,
		}},
	}}
	out, err := Transform(ingest.Record{"priority": "high"}, schema)
	require.NoError(t, err)
	assert.Equal(t, true, out["urgent"])
}

func TestTransform_CustomCompileError(t *testing.T) {
	schema := ingest.DataSchema{Transformations: []ingest.Transformation{
		{Field: "x", Kind: ingest.TransformCustom, Config: map[string]any{"expression": "((("}},
	}}
	_, err := Transform(ingest.Record{}, schema)
	assert.Error(t, err)
}
