// Package treeindex is a concurrent ordered index for in-memory key/value
// data: a lock-free B+-tree supporting parallel inserts and lookups, with
// superseded nodes reclaimed once no reader can still see them.
//
// Keys are unique and values are immutable once inserted. There is no
// delete; inserting an existing key reports the stored value instead.
//
//	ix, err := treeindex.New[string, int](treeindex.WithCacheSize(4096))
//	if err != nil {
//	    panic(err)
//	}
//	defer ix.Close()
//
//	_ = ix.Insert("a", 1)
//	v, ok, _ := ix.Get("a")
package treeindex

import (
	"cmp"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/treeindex/internal/cache"
	"github.com/alexhholmes/treeindex/internal/epoch"
	"github.com/alexhholmes/treeindex/internal/index"
)

// Guard pins the structure a reader observes. Every Scanner obtained under a
// guard must be dropped before the guard is released.
type Guard = epoch.Guard

// Scanner iterates entries in key order starting at a searched key
type Scanner[K, V any] = index.Scanner[K, V]

// Stats is a point-in-time view of an Index
type Stats struct {
	index.Stats
	Cache cache.Stats
}

// lookaside is the Get cache. It needs comparable keys, which NewFunc
// indexes do not have.
type lookaside[K, V any] interface {
	Get(K) (V, bool)
	Put(K, V)
	Purge()
	Stats() cache.Stats
}

// Index is a concurrent ordered map from K to V. All methods are safe for
// concurrent use.
type Index[K, V any] struct {
	tree   *index.Tree[K, V]
	cache  lookaside[K, V]
	logger Logger
}

// New creates an index ordered by the natural order of K
func New[K cmp.Ordered, V any](opts ...Option) (*Index[K, V], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ix := newIndex[K, V](cmp.Compare[K], o)
	if o.cacheSize > 0 {
		c, err := cache.New[K, V](o.cacheSize, cache.Hash[K])
		if err != nil {
			return nil, err
		}
		ix.cache = c
	}
	return ix, nil
}

// NewFunc creates an index ordered by compare, which must return a negative
// number, zero or a positive number as a < b, a == b or a > b. WithCacheSize
// is ignored.
func NewFunc[K, V any](compare func(a, b K) int, opts ...Option) *Index[K, V] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheSize > 0 {
		o.logger.Warn("cache disabled for custom key order", "size", o.cacheSize)
	}
	return newIndex[K, V](compare, o)
}

func newIndex[K, V any](compare func(a, b K) int, o Options) *Index[K, V] {
	return &Index[K, V]{
		tree: index.New[K, V](compare, index.Config{
			Capacity:           o.capacity,
			MaxGuards:          o.maxGuards,
			RetryWarnThreshold: o.retryWarnThreshold,
			Logger:             o.logger,
		}),
		logger: o.logger,
	}
}

// Insert stores value under key. If key is already present nothing changes
// and the error is a *DuplicateError carrying the stored value.
func (ix *Index[K, V]) Insert(key K, value V) error {
	return ix.tree.Insert(key, value)
}

// Get returns the value stored under key
func (ix *Index[K, V]) Get(key K) (V, bool, error) {
	if ix.cache != nil {
		if ix.tree.Closed() {
			var zero V
			return zero, false, ErrClosed
		}
		if v, ok := ix.cache.Get(key); ok {
			return v, true, nil
		}
	}

	v, ok, err := ix.tree.Get(key)
	if ok && ix.cache != nil {
		ix.cache.Put(key, v)
	}
	return v, ok, err
}

// Pin returns a guard for Search. Release it when done with the scanners
// obtained under it.
func (ix *Index[K, V]) Pin() *Guard {
	return ix.tree.Pin()
}

// Search returns a scanner positioned on key, or nil if key is absent. The
// scanner continues past key in ascending order and is valid until g is
// released.
func (ix *Index[K, V]) Search(key K, g *Guard) (*Scanner[K, V], error) {
	return ix.tree.Search(key, g)
}

// Ascend calls fn for every entry with key >= from in ascending order until
// fn returns false.
func (ix *Index[K, V]) Ascend(from K, fn func(K, V) bool) error {
	return ix.tree.Ascend(from, fn)
}

// All calls fn for every entry in ascending order until fn returns false
func (ix *Index[K, V]) All(fn func(K, V) bool) error {
	return ix.tree.All(fn)
}

// Len returns the number of entries
func (ix *Index[K, V]) Len() int {
	return ix.tree.Len()
}

// Height returns the number of node levels
func (ix *Index[K, V]) Height() int {
	return ix.tree.Height()
}

// Stats returns index statistics
func (ix *Index[K, V]) Stats() Stats {
	s := Stats{Stats: ix.tree.Stats()}
	if ix.cache != nil {
		s.Cache = ix.cache.Stats()
	}
	return s
}

// Validate walks the whole structure checking its invariants and returns the
// number of entries. It is meant for tests and debugging on an index without
// concurrent inserts.
func (ix *Index[K, V]) Validate() (int, error) {
	n, err := ix.tree.Validate()
	if err == nil || errors.Is(err, ErrClosed) {
		return n, err
	}
	ix.logger.Error("index validation failed", "error", err, "entries", n)
	return n, errors.Mark(errors.Wrap(err, "validate"), ErrCorruption)
}

// Dump renders the tree structure for debugging
func (ix *Index[K, V]) Dump() string {
	return ix.tree.Dump()
}

// Close releases the index. Inserts in flight finish first; readers holding
// guards keep their view until they release them. Later calls return
// ErrClosed.
func (ix *Index[K, V]) Close() error {
	if err := ix.tree.Close(); err != nil {
		return err
	}
	if ix.cache != nil {
		ix.cache.Purge()
	}
	return nil
}
