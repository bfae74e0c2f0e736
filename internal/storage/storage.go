// Package storage persists lead attachments.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a stored file does not exist.
var ErrNotFound = errors.New("file not found")

// FileInfo describes a stored attachment. URL-referenced attachments have
// a URL and no Path.
type FileInfo struct {
	ID          string    `json:"id"`
	LeadRef     string    `json:"lead_ref,omitempty"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Path        string    `json:"path,omitempty"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Storage is the interface for file persistence backends.
type Storage interface {
	Save(ctx context.Context, info FileInfo, reader io.Reader) (*FileInfo, error)
	// Reference records an external file without copying its contents.
	Reference(ctx context.Context, info FileInfo) (*FileInfo, error)
	// Get retrieves a file by ID. The reader is nil for references.
	Get(ctx context.Context, id string) (*FileInfo, io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}
