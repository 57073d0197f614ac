package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiskStoreSave(t *testing.T) {
	base := t.TempDir()
	s := NewDiskStore(base)
	path, err := s.Save("clinic_logos", "logo.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(path, "clinic_logos/") || !strings.HasSuffix(path, ".png") {
		t.Fatalf("unexpected stored path %q", path)
	}
	data, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(path)))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("content mismatch: %q", data)
	}
}

func TestDiskStoreRemove(t *testing.T) {
	base := t.TempDir()
	s := NewDiskStore(base)
	path, err := s.Save("clinic_logos", "logo.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, filepath.FromSlash(path))); !os.IsNotExist(err) {
		t.Fatalf("blob must be gone after Remove, stat err=%v", err)
	}
}

func TestDiskStoreUniqueNames(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	a, err := s.Save("clinic_logos", "logo.png", strings.NewReader("a"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Save("clinic_logos", "logo.png", strings.NewReader("b"))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("same upload name must not collide: %q", a)
	}
}
