package instantiate

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/cxxada/internal/ir"
)

// result is one cached materialization: the instance declaration, or the
// reason it could not be built.
type result struct {
	decl     *ir.Decl
	alias    *ir.TypeRef // expansion of an alias template instance
	reqs     []pending
	contains []ir.InstanceKey // instances held by value
	err      *Failure

	// retry is set when a constant needed the size of an instance that is
	// not materialized yet. Such results are never cached.
	retry bool
}

// Cache deduplicates materialization by normalized instance key. Concurrent
// requests for one key share a single computation; the first result stored
// wins and every later request reads it. Failures are cached like
// declarations, so a failing key is reported once.
type Cache struct {
	mu      sync.Mutex
	entries map[ir.InstanceKey]*result
	group   singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[ir.InstanceKey]*result)}
}

// lookup returns the stored result for key.
func (c *Cache) lookup(key ir.InstanceKey) (*result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	return r, ok
}

// do returns the result for key, computing it with fn at most once.
func (c *Cache) do(key ir.InstanceKey, fn func() *result) *result {
	if r, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return r
	}
	computed := false
	v, _, _ := c.group.Do(string(key), func() (any, error) {
		if r, ok := c.lookup(key); ok {
			return r, nil
		}
		computed = true
		r := fn()
		if r.retry {
			return r, nil
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if prev, ok := c.entries[key]; ok {
			return prev, nil
		}
		c.entries[key] = r
		return r, nil
	})
	if computed {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}
	return v.(*result)
}

// Decl returns the materialized declaration for key, if any.
func (c *Cache) Decl(key ir.InstanceKey) (*ir.Decl, bool) {
	r, ok := c.lookup(key)
	if !ok || r.decl == nil {
		return nil, false
	}
	return r.decl, true
}

// Stats reports how many lookups were served from the cache and how many
// computed a new result.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
