package parse

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/soochol/ingest/internal/ingest"
)

// parseJSON accepts a top-level array, a {"data": [...]} envelope, or any
// other value, which is treated as a single record.
func parseJSON(content []byte, opts Options) (*Table, error) {
	var doc any
	if err := json.Unmarshal(bytes.TrimPrefix(content, utf8BOM), &doc); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		if data, ok := v["data"].([]any); ok {
			items = data
		} else {
			items = []any{v}
		}
	default:
		items = []any{v}
	}

	rows := make([]ingest.Record, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			rows = append(rows, ingest.Record(obj))
			continue
		}
		rows = append(rows, ingest.Record{"value": item})
	}
	rows = window(rows, opts)
	return &Table{Fields: collectFields(rows), Rows: rows}, nil
}
