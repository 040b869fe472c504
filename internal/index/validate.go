package index

import (
	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/treeindex/internal/leaf"
)

// bounds is the key range a child may hold: (lo, hi]. Unset ends are open.
type bounds[K any] struct {
	lo, hi       K
	hasLo, hasHi bool
}

// Validate checks the structural invariants of a quiescent tree and returns
// the number of entries found. With inserts in flight it may report staged
// or sealed nodes.
func (t *Tree[K, V]) Validate() (int, error) {
	g := t.collector.Pin()
	defer g.Release()

	root := t.root.Load()
	if root == nil {
		return 0, ErrClosed
	}
	if root.fenced {
		return 0, errors.Newf("root is fenced at %v", root.fence)
	}
	v := validator[K, V]{cfg: t.cfg}
	if err := v.node(root, bounds[K]{}); err != nil {
		return v.count, err
	}
	return v.count, nil
}

type validator[K, V any] struct {
	cfg   *config[K, V]
	count int
}

func (v *validator[K, V]) node(n *Node[K, V], b bounds[K]) error {
	if side := n.side.Load(); side != nil && side.floor != n.floor {
		return errors.Newf("floor %d: side link to floor %d", n.floor, side.floor)
	}
	if n.fenced && !v.fenceFits(n.fence, b) {
		return errors.Newf("floor %d: fence %v above range start %v", n.floor, n.fence, b.lo)
	}

	if n.outer != nil {
		return validateChildren(v, n.floor, n.outer, v.cfg.sealedLeaf, b, v.leaf)
	}
	return validateChildren(v, n.floor, n.inner, v.cfg.sealedNode, b, func(c *Node[K, V], cb bounds[K]) error {
		if c.floor != n.floor-1 {
			return errors.Newf("floor %d: child at floor %d", n.floor, c.floor)
		}
		return v.node(c, cb)
	})
}

func validateChildren[K, V, C any](
	v *validator[K, V], floor int, ch *children[K, C], sentinel *C, b bounds[K],
	child func(*C, bounds[K]) error,
) error {
	if ch.staged() {
		return errors.Newf("floor %d: split still staged", floor)
	}
	if ch.bounded.Frozen() {
		return errors.Newf("floor %d: bucket index frozen", floor)
	}

	lo, hasLo := b.lo, b.hasLo
	sc := ch.bounded.Scan()
	for k, cell, ok := sc.Next(); ok; k, cell, ok = sc.Next() {
		if !v.within(k, b) {
			return errors.Newf("floor %d: bucket %v outside its parent range", floor, k)
		}
		if c := cell.Load(); c != nil {
			if err := child(c, bounds[K]{lo: lo, hasLo: hasLo, hi: k, hasHi: true}); err != nil {
				return err
			}
		}
		lo, hasLo = k, true
	}

	switch c := ch.unbounded.Load(); {
	case c == sentinel:
		return errors.Newf("floor %d: tail sealed", floor)
	case c != nil:
		return child(c, bounds[K]{lo: lo, hasLo: hasLo, hi: b.hi, hasHi: b.hasHi})
	}
	return nil
}

func (v *validator[K, V]) leaf(l *leaf.Leaf[K, V], b bounds[K]) error {
	if fence, ok := l.Fence(); ok && !v.fenceFits(fence, b) {
		return errors.Newf("leaf fence %v above range start %v", fence, b.lo)
	}

	sc := l.Scan()
	var prev K
	first := true
	for k, _, ok := sc.Next(); ok; k, _, ok = sc.Next() {
		if !first && v.cfg.compare(prev, k) >= 0 {
			return errors.Newf("leaf keys out of order: %v before %v", prev, k)
		}
		if !v.within(k, b) {
			return errors.Newf("leaf key %v outside its bucket range", k)
		}
		prev, first = k, false
		v.count++
	}
	return nil
}

func (v *validator[K, V]) within(k K, b bounds[K]) bool {
	if b.hasLo && v.cfg.compare(k, b.lo) <= 0 {
		return false
	}
	return !b.hasHi || v.cfg.compare(k, b.hi) <= 0
}

// fenceFits reports whether every key of the range passes the fence
func (v *validator[K, V]) fenceFits(fence K, b bounds[K]) bool {
	return b.hasLo && v.cfg.compare(fence, b.lo) <= 0
}
