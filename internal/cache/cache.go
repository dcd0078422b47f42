// Package cache provides a small TTL-bounded read-through cache used in
// front of controller directory reads. Controller enumeration is the
// most expensive call the toolkit makes; a short TTL keeps dashboards
// responsive without serving stale device state for long. The
// controller client itself is cache-unaware.
package cache

import (
	"sync"
	"time"
)

type entry[T any] struct {
	value    T
	storedAt time.Time
}

// Cache is a TTL-bounded key/value cache. Safe for concurrent use.
type Cache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time // injectable for tests
	entries map[string]entry[T]
}

// New creates a cache whose entries expire ttl after they were stored.
func New[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry[T]),
	}
}

// Get returns the cached value for key if present and fresh.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.storedAt) > c.ttl {
		var zero T
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores a value for key, replacing any existing entry and
// resetting its age.
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[T]{value: value, storedAt: c.now()}
}

// GetOrFill returns the fresh cached value for key, or invokes fill and
// caches its result. A fill error is returned to the caller and nothing
// is cached; stale or partial data is never substituted.
func (c *Cache[T]) GetOrFill(key string, fill func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fill()
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

// Invalidate removes a single key. Unknown keys are a no-op.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll clears the cache.
func (c *Cache[T]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[T])
}

// Age returns how long ago the entry for key was stored. The second
// return is false when the key is absent (expired entries still report
// their age until evicted by Get).
func (c *Cache[T]) Age(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return c.now().Sub(e.storedAt), true
}
