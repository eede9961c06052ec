// Package cache provides a small in-memory key/value store with TTL and
// size-bound eviction. It replaces ad-hoc map-plus-manual-sweep registries
// so the eviction invariants can be tested in isolation.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value   V
	addedAt time.Time
}

// Cache is a bounded TTL cache. Zero TTL means entries never expire; zero
// maxEntries means unbounded. When the size bound is exceeded the oldest
// entry (by insertion) is evicted first.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]entry[V]
	order      []string // insertion order, oldest first
	ttl        time.Duration
	maxEntries int
}

// New creates a Cache with the given TTL and size bound.
func New[V any](ttl time.Duration, maxEntries int) *Cache[V] {
	return &Cache[V]{
		entries:    make(map[string]entry[V]),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Get returns the value for key. The second return is false when the key
// is absent or expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.expired(e, time.Now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores key, evicting the oldest entry if the size bound is exceeded.
// Re-setting an existing key refreshes its insertion position.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.removeFromOrder(key)
	}
	c.entries[key] = entry[V]{value: value, addedAt: time.Now()}
	c.order = append(c.order, key)

	for c.maxEntries > 0 && len(c.order) > c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Delete removes a key. Absent keys are a no-op.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.removeFromOrder(key)
	}
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	dropped := 0
	kept := c.order[:0]
	for _, key := range c.order {
		if e, ok := c.entries[key]; ok && c.expired(e, now) {
			delete(c.entries, key)
			dropped++
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
	return dropped
}

// Len returns the number of live (non-expired) entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	n := 0
	for _, e := range c.entries {
		if !c.expired(e, now) {
			n++
		}
	}
	return n
}

// Values returns live values oldest-first.
func (c *Cache[V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	out := make([]V, 0, len(c.order))
	for _, key := range c.order {
		if e, ok := c.entries[key]; ok && !c.expired(e, now) {
			out = append(out, e.value)
		}
	}
	return out
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (c *Cache[V]) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

func (c *Cache[V]) expired(e entry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.addedAt) > c.ttl
}

func (c *Cache[V]) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
