package parse

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/soochol/ingest/internal/ingest"
)

var zipLocalHeader = []byte("PK\x03\x04")

// parseXLSX reads the first worksheet (or opts.Sheet) of a spreadsheet
// archive. The first row holds column headers; blank header cells fall back
// to the column letter and repeated headers get a numeric suffix. Both
// stored and deflated archive entries are decoded.
func parseXLSX(content []byte, opts Options) (*Table, error) {
	if !bytes.HasPrefix(content, zipLocalHeader) {
		return nil, fmt.Errorf("%w: xlsx content is not a zip archive", ErrUnsupportedFormat)
	}

	xf, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		if strings.Contains(err.Error(), "zip: unsupported compression") {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedCompression, err)
		}
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer xf.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := xf.GetSheetList()
		if len(sheets) == 0 {
			return &Table{}, nil
		}
		sheet = sheets[0]
	}

	grid, err := xf.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(grid) == 0 {
		return &Table{}, nil
	}

	width := 0
	for _, row := range grid {
		if len(row) > width {
			width = len(row)
		}
	}
	headers := make([]string, width)
	for i := range headers {
		if i < len(grid[0]) {
			headers[i] = strings.TrimSpace(grid[0][i])
		}
		if headers[i] == "" {
			name, err := excelize.ColumnNumberToName(i + 1)
			if err != nil {
				return nil, fmt.Errorf("column %d: %w", i+1, err)
			}
			headers[i] = name
		}
	}
	headers = uniqueNames(headers)

	rows := make([]ingest.Record, 0, len(grid)-1)
	for _, cells := range grid[1:] {
		rec := make(ingest.Record, width)
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
