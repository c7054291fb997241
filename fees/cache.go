/*
cache.go - Read-through catalog cache

PURPOSE:
  Plan items are read on every fee-detail request but change rarely. The
  cache is an explicit abstraction - keyed by entity id with a freshness
  window and invalidation - rather than ambient global state, so callers
  can reason about staleness and tests can control it.

SEMANTICS:
  Get returns the cached value while it is fresher than the TTL; otherwise
  it calls the loader, stores the result, and returns it. Invalidate drops
  one key; a zero TTL disables caching entirely (every Get loads).

SEE ALSO:
  - api/handlers.go: Caches plan items per plan id; catalog writes and
    resets invalidate
*/
package fees

import (
	"context"
	"sync"
	"time"
)

// CatalogCache is a read-through cache with per-entry freshness.
type CatalogCache[V any] struct {
	TTL time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry[V]
}

type cacheEntry[V any] struct {
	value     V
	fetchedAt time.Time
}

// NewCatalogCache creates a cache with the given freshness window.
func NewCatalogCache[V any](ttl time.Duration) *CatalogCache[V] {
	return &CatalogCache[V]{TTL: ttl, entries: make(map[string]cacheEntry[V])}
}

// Get returns the cached value for key if fresh, loading it otherwise.
// Loader errors are returned as-is and nothing is cached.
func (c *CatalogCache[V]) Get(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.TTL > 0 && time.Since(e.fetchedAt) < c.TTL {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	// Load outside the lock; concurrent misses may duplicate work but
	// never serve stale data.
	v, err := load(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry[V]{value: v, fetchedAt: time.Now()}
	c.mu.Unlock()
	return v, nil
}

// Invalidate drops one key, forcing the next Get to reload.
func (c *CatalogCache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll empties the cache.
func (c *CatalogCache[V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry[V])
	c.mu.Unlock()
}
