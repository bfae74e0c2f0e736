package parse

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/soochol/ingest/internal/ingest"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// parseCSV reads delimited text. Quoted fields may contain the delimiter,
// newlines, and doubled quotes. Short rows are padded with empty strings and
// surplus cells beyond the header are dropped.
func parseCSV(content []byte, opts Options) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if opts.Delimiter != "" {
		d, size := utf8.DecodeRuneInString(opts.Delimiter)
		if size != len(opts.Delimiter) {
			return nil, fmt.Errorf("csv: delimiter must be a single character, got %q", opts.Delimiter)
		}
		r.Comma = d
	}

	var headers []string
	var rows []ingest.Record
	for {
		cells, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		if headers == nil {
			if opts.header() {
				headers = headerNames(cells)
				continue
			}
			headers = positionalNames(len(cells))
		}
		for len(headers) < len(cells) && !opts.header() {
			headers = append(headers, fmt.Sprintf("column_%d", len(headers)+1))
		}
		rec := make(ingest.Record, len(headers))
		for i, h := range headers {
			if i < len(cells) {
				rec[h] = cells[i]
			} else {
				rec[h] = ""
			}
		}
		rows = append(rows, rec)
	}

	return &Table{Fields: headers, Rows: window(rows, opts)}, nil
}

func headerNames(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
		if out[i] == "" {
			out[i] = fmt.Sprintf("column_%d", i+1)
		}
	}
	return uniqueNames(out)
}

// uniqueNames suffixes repeated names with their occurrence number, so a
// second "name" becomes "name_2".
func uniqueNames(names []string) []string {
	used := make(map[string]bool, len(names))
	for i, name := range names {
		candidate := name
		for n := 2; used[candidate]; n++ {
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
		used[candidate] = true
		names[i] = candidate
	}
	return names
}

func positionalNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("column_%d", i+1)
	}
	return out
}
