package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "instance", "uploads")

	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected directory at %s", dir)
	}

	// Second call on the same path is a no-op
	if err := EnsureDir(dir); err != nil {
		t.Errorf("EnsureDir on existing directory failed: %v", err)
	}
}

func TestEnsureDirRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := EnsureDir(path); !errors.Is(err, ErrNotDir) {
		t.Errorf("expected ErrNotDir, got %v", err)
	}
}

func TestStoreSaveAndRemove(t *testing.T) {
	s := NewStore(t.TempDir(), 0)

	name, n, err := s.Save(strings.NewReader("hello"), ".TXT")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 bytes, got %d", n)
	}
	if !strings.HasSuffix(name, ".txt") {
		t.Errorf("expected lowercased extension, got %s", name)
	}

	path, err := s.Path(name)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Fatalf("stored content mismatch: %q, %v", data, err)
	}

	f, err := s.Open(name)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	f.Close()
	if _, err := s.Open("../" + name); err != ErrInvalidName {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}

	if err := s.Remove(name); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be gone after Remove")
	}
	if err := s.Remove(name); err != nil {
		t.Errorf("removing a missing file should succeed, got %v", err)
	}
}

func TestStoreSaveTooLarge(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 4)

	if _, _, err := s.Save(strings.NewReader("too big"), ".txt"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("partial file left behind: %d entries", len(entries))
	}

	if _, n, err := s.Save(strings.NewReader("fits"), ""); err != nil || n != 4 {
		t.Errorf("exact-size save failed: n=%d err=%v", n, err)
	}
}

func TestStoreRejectsTraversal(t *testing.T) {
	s := NewStore(t.TempDir(), 0)

	for _, name := range []string{"", ".", "..", "../etc/passwd", "a/b"} {
		if _, err := s.Path(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Path(%q) expected ErrInvalidName, got %v", name, err)
		}
	}
	if _, _, err := s.Save(strings.NewReader("x"), "/../x"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName for bad extension, got %v", err)
	}
}
