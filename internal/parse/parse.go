// Package parse converts raw file content into an ordered list of
// field/value records. Parsers are pure functions with no engine dependency.
package parse

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/soochol/ingest/internal/ingest"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
	FormatXML  Format = "xml"
	FormatFeed Format = "feed"
)

var (
	ErrUnsupportedFormat      = errors.New("unsupported format")
	ErrUnsupportedCompression = errors.New("unsupported compression")
)

// Options controls row selection for every format. Delimiter and HasHeader
// only apply to delimited text; Sheet to spreadsheets; RecordElement to markup.
type Options struct {
	HasHeader     *bool  `json:"has_header,omitempty"`
	Delimiter     string `json:"delimiter,omitempty"`
	StartRow      int    `json:"start_row,omitempty"`
	MaxRows       int    `json:"max_rows,omitempty"`
	SkipEmptyRows bool   `json:"skip_empty_rows,omitempty"`
	Sheet         string `json:"sheet,omitempty"`
	RecordElement string `json:"record_element,omitempty"`
}

func (o Options) header() bool {
	return o.HasHeader == nil || *o.HasHeader
}

// Table is the parsed content: detected field names in first-seen order and
// the data rows.
type Table struct {
	Fields []string
	Rows   []ingest.Record
}

// ParseFormat maps a format name or file extension to a Format.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
	switch s {
	case "csv", "tsv", "txt":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "xlsx":
		return FormatXLSX, nil
	case "xml":
		return FormatXML, nil
	case "feed", "rss", "atom":
		return FormatFeed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Parse dispatches content to the parser for format.
func Parse(content []byte, format Format, opts Options) (*Table, error) {
	switch format {
	case FormatCSV:
		return parseCSV(content, opts)
	case FormatJSON:
		return parseJSON(content, opts)
	case FormatXLSX:
		return parseXLSX(content, opts)
	case FormatXML:
		return parseXML(content, opts)
	case FormatFeed:
		return parseFeed(content, opts)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// window applies StartRow, SkipEmptyRows and MaxRows to already-parsed rows.
func window(rows []ingest.Record, opts Options) []ingest.Record {
	if opts.StartRow > 0 {
		if opts.StartRow >= len(rows) {
			return nil
		}
		rows = rows[opts.StartRow:]
	}
	out := make([]ingest.Record, 0, len(rows))
	for _, r := range rows {
		if opts.SkipEmptyRows && isEmpty(r) {
			continue
		}
		out = append(out, r)
		if opts.MaxRows > 0 && len(out) >= opts.MaxRows {
			break
		}
	}
	return out
}

func isEmpty(r ingest.Record) bool {
	for _, v := range r {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		return false
	}
	return true
}

// collectFields returns the union of record keys in first-seen order, with
// keys sorted inside each record since map iteration has no order.
func collectFields(rows []ingest.Record) []string {
	seen := map[string]bool{}
	var fields []string
	for _, r := range rows {
		keys := make([]string, 0, len(r))
		for k := range r {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	return fields
}
