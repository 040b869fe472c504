// Package cache is a sharded LRU in front of the index's point lookups.
// Entries are never invalidated: a stored key always maps to the value it
// was first inserted with.
package cache

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/elastic/go-freelru"
)

const (
	MinCacheSize = 16      // Smaller sizes are raised to this
	MaxCacheSize = 1 << 30 // Larger sizes are lowered to this
)

// Cache maps keys to the values the index holds for them
type Cache[K comparable, V any] struct {
	lru *freelru.ShardedLRU[K, V]

	// Stats
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache of roughly size entries, distributed over shards by
// hash.
func New[K comparable, V any](size int, hash func(K) uint32) (*Cache[K, V], error) {
	n := entries(size)
	lru, err := freelru.NewSharded[K, V](n, hash)
	if err != nil {
		return nil, errors.Wrapf(err, "creating cache of %d entries", n)
	}
	return &Cache[K, V]{lru: lru}, nil
}

// entries clamps a requested size to [MinCacheSize, MaxCacheSize]
func entries(size int) uint32 {
	return uint32(min(max(size, MinCacheSize), MaxCacheSize))
}

// Put records the value stored under key
func (c *Cache[K, V]) Put(key K, value V) {
	if c.lru.Add(key, value) {
		c.evictions.Add(1)
	}
}

// Get returns the cached value for key
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return v, false
	}
	c.hits.Add(1)
	return v, true
}

// Purge drops every entry
func (c *Cache[K, V]) Purge() {
	c.lru.Purge()
}

// Size returns current number of cached entries
func (c *Cache[K, V]) Size() int {
	return c.lru.Len()
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns cache statistics
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
