// Package index implements the concurrent routing structure: a lock-free
// B+-tree of nodes whose terminal level points at fixed-capacity data leaves.
//
// Every node keeps a sorted bucket index (a leaf of child cells), an
// unbounded tail child for keys above every bucket, and two staging slots. A
// split claims both staging slots, builds the replacement there and then
// publishes it with a single pointer swap; losing the claim means Retry.
// Superseded objects are retired through the epoch collector and recycled
// only once no guard pinned before the swap remains.
package index

import (
	"sync"
	"sync/atomic"

	"github.com/alexhholmes/treeindex/internal/epoch"
	"github.com/alexhholmes/treeindex/internal/leaf"
)

// Node is one level of the tree. Exactly one of inner and outer is set:
// inner when floor > 0 (children are nodes), outer when floor == 0 (children
// are data leaves).
type Node[K, V any] struct {
	floor int
	side  atomic.Pointer[Node[K, V]] // next node at the same floor, a hint
	cfg   *config[K, V]

	// Exclusive lower bound on keys, set on the high half of a split before
	// it is published. Writers and readers arriving with a key at or below
	// it raced the split and restart from the root.
	fence  K
	fenced bool

	inner *children[K, Node[K, V]]
	outer *children[K, leaf.Leaf[K, V]]
}

// children is the variant-specific part of a node
type children[K, C any] struct {
	bounded   *leaf.Leaf[K, *atomic.Pointer[C]] // bucket key -> child cell
	unbounded atomic.Pointer[C]                 // keys above every bucket
	low, high atomic.Pointer[C]                 // staging slots
}

// slot addresses one child position of a node: a bucket cell or the
// unbounded pointer.
type slot[K, C any] struct {
	cell    *atomic.Pointer[C]
	bound   K
	bounded bool
}

// config is shared by every node of one tree
type config[K, V any] struct {
	compare  func(a, b K) int
	capacity int
	leaves   sync.Pool

	// Sentinels stored in the unbounded slot of a node being rebuilt
	sealedNode *Node[K, V]
	sealedLeaf *leaf.Leaf[K, V]

	leafSplits atomic.Uint64
	nodeSplits atomic.Uint64
	rebuilds   atomic.Uint64
	retired    atomic.Uint64
	reclaimed  atomic.Uint64
}

func newConfig[K, V any](capacity int, compare func(a, b K) int) *config[K, V] {
	c := &config[K, V]{
		compare:    compare,
		capacity:   capacity,
		sealedNode: &Node[K, V]{},
		sealedLeaf: leaf.New[K, V](0, compare),
	}
	c.leaves.New = func() any {
		return leaf.New[K, V](capacity, compare)
	}
	return c
}

func (c *config[K, V]) newLeaf() *leaf.Leaf[K, V] {
	return c.leaves.Get().(*leaf.Leaf[K, V])
}

// releaseLeaf recycles a leaf that was never reachable by other goroutines
func (c *config[K, V]) releaseLeaf(l *leaf.Leaf[K, V]) {
	l.Reset()
	c.leaves.Put(l)
}

// retireLeaf recycles l once every guard that could have loaded it is gone
func (c *config[K, V]) retireLeaf(g *epoch.Guard, l *leaf.Leaf[K, V]) {
	c.retired.Add(1)
	g.Defer(func() {
		c.releaseLeaf(l)
		c.reclaimed.Add(1)
	})
}

// retireNode schedules n for reclamation. Nodes are left to the garbage
// collector; the deferred step only accounts for them.
func (c *config[K, V]) retireNode(g *epoch.Guard, n *Node[K, V]) {
	c.retired.Add(1)
	g.Defer(func() {
		c.reclaimed.Add(1)
	})
}

func newNode[K, V any](floor int, cfg *config[K, V]) *Node[K, V] {
	n := &Node[K, V]{floor: floor, cfg: cfg}
	if floor == 0 {
		n.outer = newChildren[K, leaf.Leaf[K, V]](cfg.capacity, cfg.compare)
	} else {
		n.inner = newChildren[K, Node[K, V]](cfg.capacity, cfg.compare)
	}
	return n
}

func newChildren[K, C any](capacity int, compare func(a, b K) int) *children[K, C] {
	return &children[K, C]{
		bounded: leaf.New[K, *atomic.Pointer[C]](capacity, compare),
	}
}

// Floor returns the height above the data leaves, 0 for a leaf node
func (n *Node[K, V]) Floor() int {
	return n.floor
}

// Side returns the next node at the same floor. Side links are maintained
// as hints and may lag behind concurrent splits.
func (n *Node[K, V]) Side() *Node[K, V] {
	return n.side.Load()
}

func (n *Node[K, V]) setFence(key K) {
	n.fence = key
	n.fenced = true
}

func (n *Node[K, V]) inheritFence(from *Node[K, V]) {
	n.fence, n.fenced = from.fence, from.fenced
}

func (n *Node[K, V]) below(key K) bool {
	return n.fenced && n.cfg.compare(key, n.fence) <= 0
}

// maxBucket returns the largest bucket key of a node
func (n *Node[K, V]) maxBucket() K {
	var k K
	var ok bool
	if n.outer != nil {
		k, ok = n.outer.bounded.MaxKey()
	} else {
		k, ok = n.inner.bounded.MaxKey()
	}
	if !ok {
		panic(assertionFailed("node at floor %d has no buckets", n.floor))
	}
	return k
}

func leafMax[K, V any](l *leaf.Leaf[K, V]) K {
	k, ok := l.MaxKey()
	if !ok {
		panic(assertionFailed("staged leaf is empty"))
	}
	return k
}

// Insert adds key/value below n. It returns nil, a *DuplicateError, ErrRetry,
// or an error matching ErrFull that the caller must absorb by rebuilding n.
// The guard must stay pinned for the whole call.
func (n *Node[K, V]) Insert(key K, value V, g *epoch.Guard) error {
	if n.below(key) {
		return ErrRetry
	}
	if n.outer != nil {
		return n.insertLeaf(key, value, g)
	}

	cfg := n.cfg
	s, child, err := n.inner.route(key, cfg.sealedNode, func() *Node[K, V] {
		return newNode(n.floor-1, cfg)
	}, func(*Node[K, V]) {})
	if err != nil {
		return err
	}
	return n.handleResult(s, child.Insert(key, value, g), g)
}

func (n *Node[K, V]) insertLeaf(key K, value V, g *epoch.Guard) error {
	cfg := n.cfg
	s, l, err := n.outer.route(key, cfg.sealedLeaf, cfg.newLeaf, cfg.releaseLeaf)
	if err != nil {
		return err
	}

	switch st, existing := l.Insert(key, value); st {
	case leaf.Inserted:
		return nil
	case leaf.Duplicated:
		return &DuplicateError[K, V]{Key: key, Existing: existing}
	case leaf.Full:
		return n.splitLeaf(s, l, key, value, g)
	case leaf.OutOfRange:
		return ErrRetry
	default:
		panic(assertionFailed("data leaf insert: unexpected status %s", st))
	}
}

// route finds the child slot for key, growing the bucket index or
// materializing the child on the way.
func (ch *children[K, C]) route(
	key K, sealed *C, fresh func() *C, discard func(*C),
) (slot[K, C], *C, error) {
	for {
		if bound, cell, ok := ch.bounded.MinGE(key); ok {
			s := slot[K, C]{cell: cell, bound: bound, bounded: true}
			return s, materialize(cell, fresh, discard), nil
		}

		// No bucket covers key. While the tail is unused the key gets a
		// bucket of its own; appends only ever extend the index upward.
		if ch.unbounded.Load() == nil && !ch.bounded.Full() {
			if st, _ := ch.bounded.Append(key, new(atomic.Pointer[C])); st == leaf.Frozen {
				return slot[K, C]{}, nil, ErrRetry
			}
			continue
		}

		s := slot[K, C]{cell: &ch.unbounded}
		child := materialize(&ch.unbounded, fresh, discard)
		if child == sealed {
			return slot[K, C]{}, nil, ErrRetry
		}
		return s, child, nil
	}
}

// lookup is route without side effects; the child is nil when nothing
// covers key yet.
func (ch *children[K, C]) lookup(key K, sealed *C) (slot[K, C], *C) {
	if bound, cell, ok := ch.bounded.MinGE(key); ok {
		return slot[K, C]{cell: cell, bound: bound, bounded: true}, cell.Load()
	}
	child := ch.unbounded.Load()
	if child == sealed {
		child = nil
	}
	return slot[K, C]{cell: &ch.unbounded}, child
}

// materialize returns the child in cell, installing a fresh one if empty.
// On a lost race the winner's child is adopted.
func materialize[C any](cell *atomic.Pointer[C], fresh func() *C, discard func(*C)) *C {
	if c := cell.Load(); c != nil {
		return c
	}
	c := fresh()
	if cell.CompareAndSwap(nil, c) {
		return c
	}
	discard(c)
	return cell.Load()
}

// Search returns a scanner positioned on key, or nil if key is absent.
// ErrRetry means the search raced a split and must restart from the root.
// The scanner is valid only while g stays pinned.
func (n *Node[K, V]) Search(key K, g *epoch.Guard) (*Scanner[K, V], error) {
	ln, s, l, err := n.locate(key)
	if err != nil || l == nil {
		return nil, err
	}

	sc := newScanner(ln, s, l.ScanFrom(key), g)
	sc.root = func() *Node[K, V] { return n }
	if k, _, ok := sc.Next(); !ok || n.cfg.compare(k, key) != 0 {
		return nil, nil
	}
	return sc, nil
}

// locate descends from n to the leaf node and data leaf covering key. The
// leaf is nil when nothing covers key yet.
func (n *Node[K, V]) locate(key K) (*Node[K, V], slot[K, leaf.Leaf[K, V]], *leaf.Leaf[K, V], error) {
	var s slot[K, leaf.Leaf[K, V]]
	for n.inner != nil {
		if n.below(key) {
			return nil, s, nil, ErrRetry
		}
		_, child := n.inner.lookup(key, n.cfg.sealedNode)
		if child == nil {
			return nil, s, nil, nil
		}
		n = child
	}
	if n.below(key) {
		return nil, s, nil, ErrRetry
	}

	s, l := n.outer.lookup(key, n.cfg.sealedLeaf)
	if l == nil {
		return nil, s, nil, nil
	}
	if l.Below(key) {
		return nil, s, nil, ErrRetry
	}
	return n, s, l, nil
}

// seal stops n from changing while its children are copied: the bucket
// index rejects appends and an empty tail is replaced by a sentinel.
func (n *Node[K, V]) seal() {
	if n.outer != nil {
		sealChildren(n.outer, n.cfg.sealedLeaf)
	} else {
		sealChildren(n.inner, n.cfg.sealedNode)
	}
}

func (n *Node[K, V]) unseal() {
	if n.outer != nil {
		unsealChildren(n.outer, n.cfg.sealedLeaf)
	} else {
		unsealChildren(n.inner, n.cfg.sealedNode)
	}
}

func sealChildren[K, C any](ch *children[K, C], sentinel *C) {
	ch.bounded.Freeze()
	ch.unbounded.CompareAndSwap(nil, sentinel)
}

func unsealChildren[K, C any](ch *children[K, C], sentinel *C) {
	ch.unbounded.CompareAndSwap(sentinel, nil)
	ch.bounded.Thaw()
}

// claim takes both staging slots or neither
func (ch *children[K, C]) claim(low, high *C) bool {
	if !ch.low.CompareAndSwap(nil, low) {
		return false
	}
	if !ch.high.CompareAndSwap(nil, high) {
		ch.low.Store(nil)
		return false
	}
	return true
}

// unlock clears the staging slots, high first
func (ch *children[K, C]) unlock() {
	ch.high.Store(nil)
	ch.low.Store(nil)
}

// staged reports whether a split currently holds the staging slots
func (ch *children[K, C]) staged() bool {
	return ch.low.Load() != nil || ch.high.Load() != nil
}

// abandonStaging clears the staging slots of an abandoned split and retires
// what they held. Staged objects were never published, so staged nodes are
// retired without their children.
func (n *Node[K, V]) abandonStaging(g *epoch.Guard) {
	cfg := n.cfg
	if n.outer != nil {
		if l := n.outer.high.Swap(nil); l != nil {
			cfg.retireLeaf(g, l)
		}
		if l := n.outer.low.Swap(nil); l != nil {
			cfg.retireLeaf(g, l)
		}
		return
	}
	if c := n.inner.high.Swap(nil); c != nil {
		cfg.retireNode(g, c)
	}
	if c := n.inner.low.Swap(nil); c != nil {
		cfg.retireNode(g, c)
	}
}
