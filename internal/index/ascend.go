package index

import (
	"github.com/alexhholmes/treeindex/internal/leaf"
)

// ascent is an ordered depth-first walk. after tracks progress: every key
// below it (or at it, unless incl) has been handled. A fenced object whose
// fence lies above that point was reached through a routing snapshot older
// than a split, so some keys may now live in a sibling; the walk then
// restarts from the root at the same position.
type ascent[K, V any] struct {
	cfg   *config[K, V]
	fn    func(K, V) bool
	after K
	set   bool
	incl  bool
}

func (a *ascent[K, V]) stale(fence K, fenced bool) bool {
	if !fenced {
		return false
	}
	if !a.set {
		return true
	}
	c := a.cfg.compare(a.after, fence)
	return c < 0 || (c == 0 && a.incl)
}

// advance records that every key <= k has been handled
func (a *ascent[K, V]) advance(k K) {
	if !a.set {
		a.after, a.set, a.incl = k, true, false
		return
	}
	if c := a.cfg.compare(k, a.after); c > 0 || (c == 0 && a.incl) {
		a.after, a.incl = k, false
	}
}

func (a *ascent[K, V]) node(n *Node[K, V]) (stop, restart bool) {
	if a.stale(n.fence, n.fenced) {
		return false, true
	}
	if n.outer != nil {
		return ascendChildren(a, n.outer, a.cfg.sealedLeaf, a.leaf)
	}
	return ascendChildren(a, n.inner, a.cfg.sealedNode, a.node)
}

func ascendChildren[K, V, C any](a *ascent[K, V], ch *children[K, C], sentinel *C, visit func(*C) (bool, bool)) (bool, bool) {
	buckets := ch.bounded.Scan()
	if a.set {
		buckets = ch.bounded.ScanFrom(a.after)
	}
	for k, cell, ok := buckets.Next(); ok; k, cell, ok = buckets.Next() {
		if c := cell.Load(); c != nil {
			if stop, restart := visit(c); stop || restart {
				return stop, restart
			}
		}
		a.advance(k)
	}
	if c := ch.unbounded.Load(); c != nil && c != sentinel {
		return visit(c)
	}
	return false, false
}

func (a *ascent[K, V]) leaf(l *leaf.Leaf[K, V]) (stop, restart bool) {
	if a.stale(l.Fence()) {
		return false, true
	}

	sc := l.Scan()
	switch {
	case a.set && a.incl:
		sc = l.ScanFrom(a.after)
	case a.set:
		sc = l.ScanAfter(a.after)
	}
	for k, v, ok := sc.Next(); ok; k, v, ok = sc.Next() {
		a.after, a.set, a.incl = k, true, false
		if !a.fn(k, v) {
			return true, false
		}
	}
	return false, false
}
