// Package local implements a local filesystem blob store for raw page
// snapshots.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore writes snapshot files under a base directory.
type BlobStore struct {
	baseDir string
}

// New creates the store, making sure the base directory exists and is
// writable.
func New(baseDir string) (*BlobStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &BlobStore{baseDir: baseDir}, nil
}

// PutObject writes data under path and returns a file:// URI. Paths are
// confined to the base directory.
func (s *BlobStore) PutObject(ctx context.Context, path string, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Join(s.baseDir, path)
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", fullPath, err)
	}
	return "file://" + fullPath, nil
}
