// Package storage keeps uploaded files on local disk.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotDir is returned when the upload path exists but is a file.
	ErrNotDir = errors.New("storage: path exists and is not a directory")
	// ErrTooLarge is returned by Save when the body exceeds the size cap.
	ErrTooLarge = errors.New("storage: file exceeds maximum size")
	// ErrInvalidName rejects names that would escape the store.
	ErrInvalidName = errors.New("storage: invalid file name")
)

// EnsureDir creates path and any missing parents. An existing directory
// is left alone.
func EnsureDir(path string) error {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("%w: %s", ErrNotDir, path)
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create upload directory %s: %w", path, err)
	}
	return nil
}

// Store saves files under a single directory using generated names.
type Store struct {
	dir     string
	maxSize int64
}

// NewStore returns a store rooted at dir. maxSize <= 0 means no cap.
func NewStore(dir string, maxSize int64) *Store {
	return &Store{dir: dir, maxSize: maxSize}
}

// Dir returns the directory files are written to.
func (s *Store) Dir() string { return s.dir }

// Save streams r into a new file named <uuid><ext> and returns the stored
// name and byte count. A partial file is removed on error.
func (s *Store) Save(r io.Reader, ext string) (string, int64, error) {
	ext = strings.ToLower(ext)
	if ext != "" && (!strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, `/\`)) {
		return "", 0, ErrInvalidName
	}
	name := uuid.NewString() + ext

	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", 0, err
	}

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxSize > 0 && n > s.maxSize {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, err
	}
	return name, n, nil
}

// Path resolves a stored name to its location on disk.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", ErrInvalidName
	}
	return filepath.Join(s.dir, name), nil
}

// Remove deletes a stored file. A missing file is not an error.
func (s *Store) Remove(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Open opens a stored file for reading.
func (s *Store) Open(name string) (*os.File, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}
