// Package localfs is the default store.FileStore backend: content-addressed
// files on local disk, named by the SHA-256 of their bytes so identical
// media generated twice (e.g. a retried report) collapses to one file.
package localfs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opengunther/guenther/internal/config"
)

// FileStore persists media under dir/<sha256>.<ext>.
type FileStore struct {
	dir string
}

// New creates a FileStore rooted at dir, creating it if necessary.
func New(dir string) (*FileStore, error) {
	dir = config.ExpandHome(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create file store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Store writes data under its content hash and returns the reference name
// ("<hash>.<ext>"). Writing the same bytes twice is a no-op the second time.
func (f *FileStore) Store(data []byte, ext string) (string, error) {
	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:]) + "." + ext
	path := filepath.Join(f.dir, name)

	if _, err := os.Stat(path); err == nil {
		return name, nil
	}

	tmp, err := os.CreateTemp(f.dir, ".store-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("rename file: %w", err)
	}
	return name, nil
}

// Get reads back previously stored data by its reference name.
func (f *FileStore) Get(name string) ([]byte, error) {
	return os.ReadFile(f.safePath(name))
}

// Path returns the absolute filesystem path for a reference name.
func (f *FileStore) Path(name string) string {
	return f.safePath(name)
}

// safePath rejects path traversal by keeping only the base name.
func (f *FileStore) safePath(name string) string {
	return filepath.Join(f.dir, filepath.Base(name))
}
