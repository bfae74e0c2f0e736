package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/soochol/ingest/internal/lead"
)

// DefaultMaxAttachmentSize bounds inline attachment payloads after decoding.
const DefaultMaxAttachmentSize = 10 << 20

var ErrAttachmentTooLarge = errors.New("attachment too large")

// AttachmentStore adapts a Storage backend to the lead pipeline. Inline
// base64 data is decoded and saved; URL attachments are recorded as
// references.
type AttachmentStore struct {
	backend Storage
	maxSize int64
}

func NewAttachmentStore(backend Storage, maxSize int64) *AttachmentStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxAttachmentSize
	}
	return &AttachmentStore{backend: backend, maxSize: maxSize}
}

func (a *AttachmentStore) StoreAttachment(ctx context.Context, leadRef string, att lead.Attachment) (string, error) {
	info := FileInfo{
		LeadRef:     leadRef,
		Filename:    att.Filename,
		ContentType: att.ContentType,
		URL:         att.URL,
	}
	if info.ContentType == "" {
		info.ContentType = "application/octet-stream"
	}

	if att.Data == "" {
		if att.URL == "" {
			return "", fmt.Errorf("attachment %q has neither data nor url", att.Filename)
		}
		info.Size = att.Size
		stored, err := a.backend.Reference(ctx, info)
		if err != nil {
			return "", err
		}
		return stored.ID, nil
	}

	raw, err := decodeData(att.Data)
	if err != nil {
		return "", fmt.Errorf("attachment %q: %w", att.Filename, err)
	}
	if int64(len(raw)) > a.maxSize {
		return "", fmt.Errorf("attachment %q is %d bytes: %w", att.Filename, len(raw), ErrAttachmentTooLarge)
	}
	stored, err := a.backend.Save(ctx, info, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	return stored.ID, nil
}

func (a *AttachmentStore) DeleteAttachment(ctx context.Context, id string) error {
	err := a.backend.Delete(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// decodeData accepts plain base64 or a data: URL.
func decodeData(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return raw, nil
}
