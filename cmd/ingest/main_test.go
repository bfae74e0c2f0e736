package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/ingest/internal/config"
	"github.com/soochol/ingest/internal/importer"
	"github.com/soochol/ingest/internal/ingest"
)

const testConfig = `
ingest:
  batch_delay: 1ms
  batch_size: 2
cases:
  LC-7: [case-seven]
sources:
  - id: partner-tips
    type: integration
    enabled: true
    config:
      preset: lead
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewApp_ConfiguredSources(t *testing.T) {
	cfg, err := config.Load(writeFile(t, "config.yaml", testConfig))
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close()

	src, err := a.engine.GetSource("partner-tips")
	require.NoError(t, err)
	assert.Equal(t, ingest.SourceIntegration, src.Type)
	assert.Contains(t, src.Schema.Required, "description", "lead preset should attach the lead schema")
	assert.Len(t, a.engine.GetSources(), 4)
}

func TestNewApp_BadSourceConfig(t *testing.T) {
	cfg, err := config.Load(writeFile(t, "config.yaml", `
sources:
  - id: broken
    type: nonsense
`))
	require.NoError(t, err)
	_, err = newApp(context.Background(), cfg)
	assert.Error(t, err)
}

func TestImportCommand(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", testConfig)
	csvPath := writeFile(t, "tips.csv", `Tip,Case
Saw a man matching the photo at the bus depot,LC-7
Heard shouting near the old mill last night,LC-7
`)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"import", csvPath, "--config", cfgPath, "--map", "Tip=description", "--map", "Case=caseNumber"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		mappingFlags = nil
		configPath = ""
	})
	require.NoError(t, rootCmd.Execute())

	var res importer.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, importer.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.SuccessfulRows)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, "cli", res.SubmittedBy)
}

func TestPreviewCommand(t *testing.T) {
	jsonPath := writeFile(t, "tips.json", `[{"description": "Saw a man at the depot"}, {"comments": "Blue sedan parked outside"}]`)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"preview", jsonPath})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.Execute())

	var p importer.Preview
	require.NoError(t, json.Unmarshal(out.Bytes(), &p))
	assert.Equal(t, 2, p.RowCount)
	assert.Equal(t, "description", p.SuggestedMappings["comments"])
}

type recordedCase struct{ id, number string }

type caseRecorder struct {
	created []recordedCase
	err     error
}

func (c *caseRecorder) CreateCase(_ context.Context, id, caseNumber, _ string) error {
	if c.err != nil {
		return c.err
	}
	c.created = append(c.created, recordedCase{id, caseNumber})
	return nil
}

func TestSeedCases(t *testing.T) {
	rec := &caseRecorder{}
	require.NoError(t, seedCases(context.Background(), rec, map[string][]string{
		"LC-7": {"case-seven"},
		"LC-8": {"case-8a", "case-8b"},
	}))
	assert.ElementsMatch(t, []recordedCase{
		{"case-seven", "LC-7"}, {"case-8a", "LC-8"}, {"case-8b", "LC-8"},
	}, rec.created)

	rec = &caseRecorder{err: assert.AnError}
	err := seedCases(context.Background(), rec, map[string][]string{"LC-7": {"case-seven"}})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestParseMappings(t *testing.T) {
	m, err := parseMappings([]string{"Tip = description", "Notes="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Tip": "description", "Notes": ""}, m)

	_, err = parseMappings([]string{"nope"})
	assert.Error(t, err)
}
