package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const blobExt = ".blob"

// FileStore is a directory-backed BlobStore. Suitable for single-node
// workspaces. Writes are atomic: a temp file is renamed into place.
type FileStore struct {
	baseDir string
	logger  *zap.Logger
	mu      sync.RWMutex
	closed  bool
}

// NewFileStore creates (if needed) the base directory and opens a store on it.
func NewFileStore(baseDir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob store directory: %w", err)
	}
	return &FileStore{
		baseDir: baseDir,
		logger:  logger.With(zap.String("component", "file_store")),
	}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.baseDir, name+blobExt)
}

// Put stores data under name, writing a temp file and renaming it into place.
func (s *FileStore) Put(ctx context.Context, name string, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	path := s.path(name)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("blob write failed: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("blob write failed: %w", err)
	}
	return nil
}

// Get returns the blob stored under name.
func (s *FileStore) Get(ctx context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blob read failed: %w", err)
	}
	return data, nil
}

// Delete removes the blob stored under name.
func (s *FileStore) Delete(ctx context.Context, name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob delete failed: %w", err)
	}
	return nil
}

// List returns the stored blob names in sorted order.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("blob list failed: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), blobExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), blobExt))
	}
	sort.Strings(names)
	return names, nil
}

// Close marks the store closed. Close is idempotent.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

var _ BlobStore = (*FileStore)(nil)
