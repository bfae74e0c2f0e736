package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalStorage stores files on the local filesystem and keeps their
// metadata in memory.
type LocalStorage struct {
	baseDir string
	mu      sync.RWMutex
	files   map[string]*FileInfo
}

func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStorage{
		baseDir: baseDir,
		files:   make(map[string]*FileInfo),
	}, nil
}

func (s *LocalStorage) Save(_ context.Context, info FileInfo, reader io.Reader) (*FileInfo, error) {
	info.ID = "att-" + uuid.NewString()
	info.Path = info.ID + filepath.Ext(filepath.Base(info.Filename))
	fullPath := filepath.Join(s.baseDir, info.Path)

	f, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, reader)
	if err != nil {
		os.Remove(fullPath)
		return nil, fmt.Errorf("write file: %w", err)
	}
	info.Size = n
	info.CreatedAt = time.Now()

	s.mu.Lock()
	s.files[info.ID] = &info
	s.mu.Unlock()
	return &info, nil
}

func (s *LocalStorage) Reference(_ context.Context, info FileInfo) (*FileInfo, error) {
	if info.URL == "" {
		return nil, fmt.Errorf("reference %q: url is required", info.Filename)
	}
	info.ID = "att-" + uuid.NewString()
	info.Path = ""
	info.CreatedAt = time.Now()

	s.mu.Lock()
	s.files[info.ID] = &info
	s.mu.Unlock()
	return &info, nil
}

func (s *LocalStorage) Get(_ context.Context, id string) (*FileInfo, io.ReadCloser, error) {
	s.mu.RLock()
	info, ok := s.files[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if info.Path == "" {
		return info, nil, nil
	}

	f, err := os.Open(filepath.Join(s.baseDir, info.Path))
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	return info, f, nil
}

func (s *LocalStorage) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	info, ok := s.files[id]
	if ok {
		delete(s.files, id)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if info.Path == "" {
		return nil
	}
	return os.Remove(filepath.Join(s.baseDir, info.Path))
}
