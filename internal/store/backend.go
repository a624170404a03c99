// Package store persists the four date-keyed caches as named, versioned
// documents. Each document holds every harbor's entry for one series.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by a Backend when a document has never been written.
var ErrNotFound = errors.New("document not found")

// Backend reads and writes whole documents by name. Implementations must be
// safe for concurrent use and Write must replace a document atomically.
type Backend interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	Close() error
}

// Backend kinds accepted by OpenBackend.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// OpenBackend opens the named backend rooted at dir.
func OpenBackend(kind, dir string) (Backend, error) {
	switch kind {
	case BackendFile:
		return NewFileBackend(dir)
	case BackendBadger:
		return OpenBadgerBackend(dir)
	case BackendMemory:
		return NewMemoryBackend(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", kind)
}
