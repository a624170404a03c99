package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend stores each document as <dir>/<name>.json. Writes go to a
// temporary file in the same directory and are renamed into place.
type FileBackend struct {
	dir string
}

// NewFileBackend creates dir if needed and returns a backend rooted there.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Path returns the file backing a document.
func (b *FileBackend) Path(name string) string {
	return filepath.Join(b.dir, name+".json")
}

func (b *FileBackend) Read(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(b.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func (b *FileBackend) Write(_ context.Context, name string, data []byte) error {
	tmp, err := os.CreateTemp(b.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, b.Path(name)); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }
