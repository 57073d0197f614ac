// Package storage persists uploaded clinic logos. The store is an interface
// so the disk implementation can be swapped for an object store without
// touching handlers.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// BlobStore writes an uploaded file and returns the path persisted on the
// clinic record. Remove takes that same path, so callers can undo a Save
// whose surrounding write was rolled back.
type BlobStore interface {
	Save(namespace, filename string, r io.Reader) (string, error)
	Remove(path string) error
}

// DiskStore writes blobs under a base directory.
type DiskStore struct {
	Base string
}

func NewDiskStore(base string) *DiskStore { return &DiskStore{Base: base} }

// Save stores the file under <base>/<namespace>/<uuid><ext> and returns the
// relative path. The random name avoids collisions and hides the original
// filename.
func (s *DiskStore) Save(namespace, filename string, r io.Reader) (string, error) {
	dir := filepath.Join(s.Base, namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}
	name := uuid.NewString() + filepath.Ext(filename)
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("storage: create: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("storage: write: %w", err)
	}
	return filepath.ToSlash(filepath.Join(namespace, name)), nil
}

// Remove deletes a blob previously returned by Save.
func (s *DiskStore) Remove(path string) error {
	return os.Remove(filepath.Join(s.Base, filepath.FromSlash(path)))
}
