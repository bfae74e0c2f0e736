package parse

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/soochol/ingest/internal/ingest"
)

// parseFeed turns an RSS, Atom or JSON feed from a partner agency into one
// record per item.
func parseFeed(content []byte, opts Options) (*Table, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}

	rows := make([]ingest.Record, 0, len(feed.Items))
	for _, item := range feed.Items {
		rec := ingest.Record{
			"title":       item.Title,
			"description": item.Description,
			"content":     item.Content,
			"link":        item.Link,
			"guid":        item.GUID,
			"feed":        feed.Title,
		}
		if item.PublishedParsed != nil {
			rec["published"] = item.PublishedParsed.UTC().Format(time.RFC3339)
		} else {
			rec["published"] = item.Published
		}
		if len(item.Authors) > 0 && item.Authors[0] != nil {
			rec["author"] = item.Authors[0].Name
		}
		if len(item.Categories) > 0 {
			rec["categories"] = strings.Join(item.Categories, ",")
		}
		rows = append(rows, rec)
	}
	rows = window(rows, opts)
	return &Table{Fields: collectFields(rows), Rows: rows}, nil
}
