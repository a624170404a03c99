package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// HarborDirectory lists SHOM harbors.
type HarborDirectory interface {
	Harbors(ctx context.Context) (map[string]HarborInfo, error)
}

// CachedDirectory wraps a HarborDirectory and keeps the last successful
// listing for ttl. Failures are never cached so the next call retries.
type CachedDirectory struct {
	inner HarborDirectory
	clock clockwork.Clock
	ttl   time.Duration

	mu        sync.Mutex
	harbors   map[string]HarborInfo
	fetchedAt time.Time
}

// NewCachedDirectory creates a cache decorator around a directory.
func NewCachedDirectory(inner HarborDirectory, clk clockwork.Clock, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{inner: inner, clock: clk, ttl: ttl}
}

func (c *CachedDirectory) Harbors(ctx context.Context) (map[string]HarborInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.harbors != nil && c.clock.Since(c.fetchedAt) < c.ttl {
		return c.harbors, nil
	}
	harbors, err := c.inner.Harbors(ctx)
	if err != nil {
		return nil, err
	}
	if len(harbors) > 0 {
		c.harbors = harbors
		c.fetchedAt = c.clock.Now()
	}
	return harbors, nil
}
