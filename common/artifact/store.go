package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get for missing paths
var ErrNotFound = fmt.Errorf("artifact not found")

// Store is an append-only, path-addressed content store for logs, failure
// bundles and check reports. Every write path is unique by construction
// (ticket id + timestamp + filename), so no locking is needed.
type Store interface {
	Put(ctx context.Context, path string, content []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// DiskStore stores artifacts under a root directory
type DiskStore struct {
	root string
}

// NewDiskStore creates a disk-backed store rooted at dir
func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: root}
}

// Put writes content, creating parent directories as needed
func (s *DiskStore) Put(ctx context.Context, path string, content []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	return nil
}

// Get reads content; ErrNotFound for missing paths
func (s *DiskStore) Get(ctx context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return content, nil
}

// Exists reports whether the path has content
func (s *DiskStore) Exists(ctx context.Context, path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(full)
	if os.IsNotExist(statErr) {
		return false, nil
	}
	if statErr != nil {
		return false, fmt.Errorf("stat artifact %s: %w", path, statErr)
	}
	return true, nil
}

// resolve joins the path under root and rejects traversal outside it
func (s *DiskStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid artifact path: %s", path)
	}
	return filepath.Join(s.root, clean), nil
}
