// Package store persists the chat document as a single JSON file. The whole
// document is loaded at startup and rewritten on every mutation; writes go
// through a temp file plus rename so a crash mid-write never truncates the
// previous good state.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store binds the document to its backing file.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a store for the given file path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the document from disk. A missing file yields the default
// document seeded with the protected rooms.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	doc, err := unmarshalDocument(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.path, err)
	}
	return doc, nil
}

// WriteSnapshot replaces the backing file with a marshaled document
// snapshot. Write-then-rename keeps the replacement atomic on POSIX
// filesystems; concurrent callers are serialized so renames cannot
// interleave.
func (s *Store) WriteSnapshot(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
