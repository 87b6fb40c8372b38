package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore persists the current Quiz as one JSON document.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

// Write replaces the stored document with q.
func (s *FileStore) Write(q *Quiz) error {
	data, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return fmt.Errorf("encode quiz: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create quiz dir: %w", err)
		}
	}
	return writeFileAtomic(s.path, append(data, '\n'), 0o644)
}

// Read returns the stored bytes verbatim, or ErrNotReady when nothing has been written.
func (s *FileStore) Read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotReady
	}
	if err != nil {
		return nil, fmt.Errorf("read quiz file: %w", err)
	}
	return data, nil
}

// Load decodes the stored document.
func (s *FileStore) Load() (*Quiz, error) {
	data, err := s.Read()
	if err != nil {
		return nil, err
	}
	var q Quiz
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("decode quiz file %s: %w", s.path, err)
	}
	return &q, nil
}
