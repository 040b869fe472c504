package index

import (
	"runtime"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/treeindex/internal/epoch"
	"github.com/alexhholmes/treeindex/internal/leaf"
)

// Logger matches the logging methods of slog.Logger
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Error(string, ...any) {}

func (discardLogger) Warn(string, ...any) {}

func (discardLogger) Info(string, ...any) {}

const (
	MinCapacity     = 2
	MaxCapacity     = 256
	DefaultCapacity = 14

	// DefaultRetryWarnThreshold is the attempt count at which a single
	// insert logs that it keeps losing races
	DefaultRetryWarnThreshold = 1000
)

// Config configures a Tree. Zero fields take defaults.
type Config struct {
	Capacity           int // Entries per leaf and buckets per node
	MaxGuards          int // Simultaneously pinned guards
	RetryWarnThreshold int
	Logger             Logger
}

// Tree owns the root pointer. It drives the retry loop, grows the root when
// a split escapes the top level and tears the structure down on Close.
type Tree[K, V any] struct {
	cfg       *config[K, V]
	collector *epoch.Collector
	logger    Logger
	retryWarn int

	root    atomic.Pointer[Node[K, V]]
	closed  atomic.Bool
	writers atomic.Int64 // inserts in flight, drained by Close
	count   atomic.Int64

	retries  atomic.Uint64
	restarts atomic.Uint64
	growths  atomic.Uint64
}

// Stats is a point-in-time view of a Tree
type Stats struct {
	Len        int
	Height     int
	Retries    uint64 // Insert and search attempts restarted from the root
	Restarts   uint64 // Ordered walks restarted after racing a split
	LeafSplits uint64
	NodeSplits uint64
	Rebuilds   uint64 // Nodes rebuilt around a staged split
	Growths    uint64 // New root levels
	Retired    uint64
	Reclaimed  uint64
	Epoch      epoch.Stats
}

// New creates an empty tree ordered by compare
func New[K, V any](compare func(a, b K) int, c Config) *Tree[K, V] {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	c.Capacity = min(max(c.Capacity, MinCapacity), MaxCapacity)
	if c.RetryWarnThreshold <= 0 {
		c.RetryWarnThreshold = DefaultRetryWarnThreshold
	}
	if c.Logger == nil {
		c.Logger = discardLogger{}
	}

	t := &Tree[K, V]{
		cfg:       newConfig[K, V](c.Capacity, compare),
		collector: epoch.NewCollector(c.MaxGuards),
		logger:    c.Logger,
		retryWarn: c.RetryWarnThreshold,
	}
	t.root.Store(newNode(0, t.cfg))
	return t
}

// Pin returns a guard for Search. References obtained under the guard must
// not be used after Release.
func (t *Tree[K, V]) Pin() *epoch.Guard {
	return t.collector.Pin()
}

// Insert adds key/value. An existing key is never overwritten: the result is
// then a *DuplicateError carrying the stored value. Structural races are
// retried internally until the insert succeeds or the tree is closed.
func (t *Tree[K, V]) Insert(key K, value V) error {
	t.writers.Add(1)
	defer t.writers.Add(-1)

	for attempt := 1; ; attempt++ {
		if t.closed.Load() {
			return ErrClosed
		}

		g := t.collector.Pin()
		err := t.insert(key, value, g)
		g.Release()

		if err == nil {
			t.count.Add(1)
			return nil
		}
		if !errors.Is(err, ErrRetry) {
			return err
		}

		t.retries.Add(1)
		if attempt == t.retryWarn {
			t.logger.Warn("insert keeps retrying", "key", key, "attempts", attempt)
		}
		runtime.Gosched()
	}
}

func (t *Tree[K, V]) insert(key K, value V, g *epoch.Guard) error {
	root := t.root.Load()
	if root == nil {
		return ErrClosed
	}

	err := root.Insert(key, value, g)
	var f *fullError[K, V]
	if errors.As(err, &f) {
		return t.grow(root, f, g)
	}
	return err
}

// grow absorbs a Full that escaped the root. The root is rebuilt under a new
// top node; if the rebuild fits one node it replaces the root at the same
// floor, otherwise the top node becomes the root one floor up.
func (t *Tree[K, V]) grow(root *Node[K, V], f *fullError[K, V], g *epoch.Guard) error {
	cfg := t.cfg
	top := newNode(root.floor+1, cfg)
	top.inner.unbounded.Store(root)
	s := slot[K, Node[K, V]]{cell: &top.inner.unbounded}

	r, err := top.stage(s, f, g)
	if err != nil {
		return err
	}

	next := r.low
	if r.pair {
		st, _ := top.inner.bounded.Insert(r.key, cellOf(r.low))
		mustInsert(st, "grow: registering low half")
		top.inner.unbounded.Store(r.high)
		top.inner.unlock()
		next = top
	}

	if !t.root.CompareAndSwap(root, next) {
		// Only Close replaces the root behind a staged split
		f.unlock(g)
		return ErrClosed
	}
	f.retire(g)

	if r.pair {
		t.growths.Add(1)
		cfg.nodeSplits.Add(1)
		t.logger.Info("index grew", "height", next.floor+1)
	} else {
		cfg.retireNode(g, r.high)
	}
	return nil
}

// Search returns a scanner positioned on key, or nil if key is absent
func (t *Tree[K, V]) Search(key K, g *epoch.Guard) (*Scanner[K, V], error) {
	for {
		root := t.root.Load()
		if root == nil {
			return nil, ErrClosed
		}
		sc, err := root.Search(key, g)
		if errors.Is(err, ErrRetry) {
			t.retries.Add(1)
			continue
		}
		if sc != nil {
			// Repositioning follows root growth
			sc.root = t.root.Load
		}
		return sc, err
	}
}

// Get returns the value stored under key
func (t *Tree[K, V]) Get(key K) (V, bool, error) {
	g := t.collector.Pin()
	defer g.Release()

	var zero V
	sc, err := t.Search(key, g)
	if err != nil || sc == nil {
		return zero, false, err
	}
	_, v, ok := sc.Get()
	return v, ok, nil
}

// Ascend calls fn for every entry with key >= from in ascending order until
// fn returns false. Entries inserted concurrently may or may not be seen.
func (t *Tree[K, V]) Ascend(from K, fn func(K, V) bool) error {
	return t.walk(&ascent[K, V]{cfg: t.cfg, fn: fn, after: from, set: true, incl: true})
}

// All calls fn for every entry in ascending order until fn returns false
func (t *Tree[K, V]) All(fn func(K, V) bool) error {
	return t.walk(&ascent[K, V]{cfg: t.cfg, fn: fn})
}

func (t *Tree[K, V]) walk(a *ascent[K, V]) error {
	g := t.collector.Pin()
	defer g.Release()

	for {
		root := t.root.Load()
		if root == nil {
			return ErrClosed
		}
		if _, restart := a.node(root); !restart {
			return nil
		}
		t.restarts.Add(1)
	}
}

// Len returns the number of entries
func (t *Tree[K, V]) Len() int {
	return int(t.count.Load())
}

// Closed reports whether Close has been called
func (t *Tree[K, V]) Closed() bool {
	return t.closed.Load()
}

// Height returns the number of node levels, 0 once closed
func (t *Tree[K, V]) Height() int {
	root := t.root.Load()
	if root == nil {
		return 0
	}
	return root.floor + 1
}

// Stats returns tree statistics
func (t *Tree[K, V]) Stats() Stats {
	cfg := t.cfg
	return Stats{
		Len:        t.Len(),
		Height:     t.Height(),
		Retries:    t.retries.Load(),
		Restarts:   t.restarts.Load(),
		LeafSplits: cfg.leafSplits.Load(),
		NodeSplits: cfg.nodeSplits.Load(),
		Rebuilds:   cfg.rebuilds.Load(),
		Growths:    t.growths.Load(),
		Retired:    cfg.retired.Load(),
		Reclaimed:  cfg.reclaimed.Load(),
		Epoch:      t.collector.Stats(),
	}
}

// Close tears the tree down. In-flight inserts are drained first; readers
// still holding guards keep their view until they release them.
func (t *Tree[K, V]) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	for t.writers.Load() > 0 {
		runtime.Gosched()
	}

	root := t.root.Swap(nil)
	if root == nil {
		return nil
	}

	g := t.collector.Pin()
	root.teardown(g)
	g.Release()
	t.collector.Collect()

	stats := t.Stats()
	t.logger.Info("index closed",
		"len", stats.Len,
		"retired", stats.Retired,
		"reclaimed", stats.Reclaimed,
		"pending", stats.Epoch.Pending)
	return nil
}

// teardown retires n and everything below it: children, tail and staged
// pointers. Staged nodes only hold cells shared with live nodes, so they are
// retired without their children.
func (n *Node[K, V]) teardown(g *epoch.Guard) {
	cfg := n.cfg
	retireLeaf := func(l *leaf.Leaf[K, V]) { cfg.retireLeaf(g, l) }
	if n.outer != nil {
		teardownChildren(n.outer, cfg.sealedLeaf, retireLeaf, retireLeaf)
	} else {
		teardownChildren(n.inner, cfg.sealedNode,
			func(c *Node[K, V]) { c.teardown(g) },
			func(c *Node[K, V]) { cfg.retireNode(g, c) })
	}
	cfg.retireNode(g, n)
}

func teardownChildren[K, C any](ch *children[K, C], sentinel *C, child, staged func(*C)) {
	sc := ch.bounded.Scan()
	for _, cell, ok := sc.Next(); ok; _, cell, ok = sc.Next() {
		if c := cell.Load(); c != nil {
			child(c)
		}
	}
	if c := ch.unbounded.Load(); c != nil && c != sentinel {
		child(c)
	}
	if c := ch.high.Swap(nil); c != nil {
		staged(c)
	}
	if c := ch.low.Swap(nil); c != nil {
		staged(c)
	}
}
