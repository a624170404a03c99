package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps documents in a map. Values are copied on the way in
// and out so callers cannot alias stored bytes.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string][]byte)}
}

func (m *MemoryBackend) Read(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryBackend) Write(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.docs[name] = stored
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
