package treeindex

import (
	"github.com/alexhholmes/treeindex/internal/epoch"
	"github.com/alexhholmes/treeindex/internal/index"
)

// Options configures an Index.
type Options struct {
	capacity           int // Entries per leaf and buckets per node
	maxGuards          int // Simultaneously pinned guards
	cacheSize          int // Entries in the Get cache. 0 disables it.
	retryWarnThreshold int // Insert attempts before a warning is logged
	logger             Logger
}

func defaultOptions() Options {
	return Options{
		capacity:           index.DefaultCapacity,
		maxGuards:          epoch.DefaultMaxGuards,
		cacheSize:          0,
		retryWarnThreshold: index.DefaultRetryWarnThreshold,
		logger:             DiscardLogger{},
	}
}

// Option configures index options using the functional options pattern.
type Option func(*Options)

// WithCapacity sets the fanout of the tree: the number of entries a leaf
// holds and the number of buckets a node routes through. Values are clamped
// to [2, 256].
//
//goland:noinspection GoUnusedExportedFunction
func WithCapacity(n int) Option {
	return func(opts *Options) {
		opts.capacity = min(max(n, index.MinCapacity), index.MaxCapacity)
	}
}

// MinGuards is the smallest guard count WithMaxGuards accepts. A goroutine
// holding a Search guard pins a second one for Insert, Get, Ascend or All.
const MinGuards = 4

// WithMaxGuards sets how many guards may be pinned at once. Pin blocks while
// every guard is taken, including when the calling goroutine holds them all
// itself, so n must exceed the number of scanners a goroutine keeps open
// while it calls into the index. Values below MinGuards are raised to it.
//
//goland:noinspection GoUnusedExportedFunction
func WithMaxGuards(n int) Option {
	return func(opts *Options) {
		opts.maxGuards = max(n, MinGuards)
	}
}

// WithCacheSize enables a sharded LRU of n entries in front of Get. Stored
// values never change, so cached entries never go stale. Only indexes
// created with New can use it.
//
//goland:noinspection GoUnusedExportedFunction
func WithCacheSize(n int) Option {
	return func(opts *Options) {
		opts.cacheSize = n
	}
}

// WithRetryWarnThreshold sets the number of attempts after which an insert
// that keeps losing races logs a warning.
//
//goland:noinspection GoUnusedExportedFunction
func WithRetryWarnThreshold(n int) Option {
	return func(opts *Options) {
		opts.retryWarnThreshold = n
	}
}

// WithLogger sets the logger. See pkg logger for zap and logrus adapters.
//
//goland:noinspection GoUnusedExportedFunction
func WithLogger(l Logger) Option {
	return func(opts *Options) {
		if l == nil {
			l = DiscardLogger{}
		}
		opts.logger = l
	}
}
