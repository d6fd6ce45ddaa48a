// Package memory provides an in-process throttle cache.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/reviewpulse/reviewpulse/internal/clock"
)

// Cache keeps expiry deadlines in a map. Expired entries are dropped lazily
// on the next access.
type Cache struct {
	clock   clock.Clock
	mu      sync.Mutex
	expires map[string]time.Time
}

// New creates an empty Cache.
func New(clk clock.Clock) *Cache {
	return &Cache{
		clock:   clk,
		expires: make(map[string]time.Time),
	}
}

// SetIfAbsent records the key with the TTL and reports true when no live
// record existed.
func (c *Cache) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline, ok := c.expires[key]; ok && now.Before(deadline) {
		return false, nil
	}
	c.expires[key] = now.Add(ttl)
	return true, nil
}

// Delete drops the record immediately.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.expires, key)
	return nil
}
