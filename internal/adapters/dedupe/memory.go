package dedupe

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process double for tests; ttl is ignored since
// test runs are short-lived.
type MemoryCache struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewMemoryCache builds an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{seen: make(map[string]bool)}
}

func (c *MemoryCache) SeenAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasSeen := c.seen[key]
	c.seen[key] = true
	return wasSeen, nil
}
