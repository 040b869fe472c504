package index

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/treeindex/internal/epoch"
	"github.com/alexhholmes/treeindex/internal/leaf"
)

// Scanner walks the entries of one leaf node in ascending order: the rest of
// the current data leaf, the leaves of the following buckets, then the
// unbounded leaf. It is lazy, finite and single-pass. Entries are only valid
// while the guard it was created under stays pinned.
type Scanner[K, V any] struct {
	node    *Node[K, V]
	root    func() *Node[K, V] // where repositioning descends from
	guard   *epoch.Guard
	buckets leaf.Scanner[K, *atomic.Pointer[leaf.Leaf[K, V]]]
	entries leaf.Scanner[K, V]
	tail    bool // unbounded leaf already entered

	// Last key returned; entries not above it are skipped so the sequence
	// stays strictly ascending across leaves replaced mid-scan.
	last    K
	started bool
	done    bool

	// Leaf that last triggered a reseek. Reaching it again through the live
	// structure means nothing newer covers the gap.
	reseeked *leaf.Leaf[K, V]
}

// newScanner starts inside slot s of leaf node n with the given entry scanner
func newScanner[K, V any](n *Node[K, V], s slot[K, leaf.Leaf[K, V]], entries leaf.Scanner[K, V], g *epoch.Guard) *Scanner[K, V] {
	sc := &Scanner[K, V]{node: n, guard: g, entries: entries}
	sc.position(n, s)
	return sc
}

// position points the bucket walk of sc just past slot s of leaf node n
func (sc *Scanner[K, V]) position(n *Node[K, V], s slot[K, leaf.Leaf[K, V]]) {
	sc.node = n
	sc.buckets = leaf.Scanner[K, *atomic.Pointer[leaf.Leaf[K, V]]]{}
	sc.tail = !s.bounded
	if s.bounded {
		sc.buckets = n.outer.bounded.ScanAfter(s.bound)
	}
}

// Get returns the current entry without advancing
func (sc *Scanner[K, V]) Get() (K, V, bool) {
	sc.checkGuard()
	if sc.done || !sc.started {
		var zk K
		var zv V
		return zk, zv, false
	}
	return sc.entries.Get()
}

// Next advances to the following entry and returns it
func (sc *Scanner[K, V]) Next() (K, V, bool) {
	sc.checkGuard()
	var zk K
	var zv V
	if sc.done {
		return zk, zv, false
	}

	cfg := sc.node.cfg
	for {
		if k, v, ok := sc.entries.Next(); ok {
			if sc.started && cfg.compare(k, sc.last) <= 0 {
				continue
			}
			sc.last, sc.started = k, true
			return k, v, true
		}
		if _, cell, ok := sc.buckets.Next(); ok {
			if l := cell.Load(); l != nil {
				sc.enter(l)
			}
			continue
		}
		if !sc.tail {
			sc.tail = true
			if l := sc.node.outer.unbounded.Load(); l != nil && l != cfg.sealedLeaf {
				sc.enter(l)
			}
			continue
		}
		sc.done = true
		return zk, zv, false
	}
}

// enter moves the entry walk into l. A leaf fenced above the last key
// returned is the high half of a split the bucket walk predates; the low
// half is registered under a bucket the walk has not seen, so the scanner
// repositions through the live structure instead.
func (sc *Scanner[K, V]) enter(l *leaf.Leaf[K, V]) {
	if fence, ok := l.Fence(); ok && sc.started && l != sc.reseeked &&
		sc.node.cfg.compare(fence, sc.last) > 0 {
		sc.reseeked = l
		if sc.reseek() {
			return
		}
	}
	sc.entries = l.Scan()
}

// reseek repositions just after the last key returned by descending from the
// root again. It reports false when the structure is gone.
func (sc *Scanner[K, V]) reseek() bool {
	for {
		root := sc.root()
		if root == nil {
			return false
		}
		n, s, l, err := root.locate(sc.last)
		if errors.Is(err, ErrRetry) {
			continue
		}
		if err != nil || l == nil {
			return false
		}
		sc.position(n, s)
		sc.entries = l.ScanAfter(sc.last)
		return true
	}
}

func (sc *Scanner[K, V]) checkGuard() {
	if sc.guard != nil && sc.guard.Released() {
		panic(assertionFailed("scanner used after its guard was released"))
	}
}
