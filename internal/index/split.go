package index

import (
	"sync/atomic"

	"github.com/alexhholmes/treeindex/internal/algo"
	"github.com/alexhholmes/treeindex/internal/epoch"
	"github.com/alexhholmes/treeindex/internal/leaf"
)

// splitLeaf handles a full data leaf l in slot s of leaf node n, carrying the
// entry that did not fit.
func (n *Node[K, V]) splitLeaf(s slot[K, leaf.Leaf[K, V]], l *leaf.Leaf[K, V], key K, value V, g *epoch.Guard) error {
	cfg := n.cfg
	ch := n.outer

	low, high := cfg.newLeaf(), cfg.newLeaf()
	if !ch.claim(low, high) {
		cfg.releaseLeaf(low)
		cfg.releaseLeaf(high)
		return ErrRetry
	}
	// The slot may have been split already by a writer that saw l first
	if s.cell.Load() != l {
		ch.unlock()
		cfg.releaseLeaf(low)
		cfg.releaseLeaf(high)
		return ErrRetry
	}

	_, nhigh := l.Distribute(low, high)
	if fence, ok := l.Fence(); ok {
		low.SetFence(fence)
	}

	dst := low
	if nhigh > 0 && cfg.compare(key, leafMax(low)) > 0 {
		dst = high
	}
	st, _ := dst.Insert(key, value)
	mustInsert(st, "split leaf placement")

	if !s.bounded {
		// No routing key can be added for the tail here; the parent rebuilds
		// this node around the staged pair.
		high.SetFence(leafMax(low))
		return &fullError[K, V]{node: n, chain: []*Node[K, V]{n}, leaf: l}
	}

	if nhigh == 0 {
		if !s.cell.CompareAndSwap(l, low) {
			panic(assertionFailed("split leaf: slot %v changed while staged", s.bound))
		}
		cfg.retireLeaf(g, l)
		cfg.retireLeaf(g, high)
		ch.unlock()
		cfg.leafSplits.Add(1)
		return nil
	}

	lowMax := leafMax(low)
	high.SetFence(lowMax)
	cell := new(atomic.Pointer[leaf.Leaf[K, V]])
	cell.Store(low)
	switch st, _ := ch.bounded.Insert(lowMax, cell); st {
	case leaf.Inserted:
	case leaf.Full:
		return &fullError[K, V]{node: n, bound: s.bound, bounded: true, chain: []*Node[K, V]{n}, leaf: l}
	default:
		panic(assertionFailed("split leaf: registering %v: unexpected status %s", lowMax, st))
	}

	if !s.cell.CompareAndSwap(l, high) {
		panic(assertionFailed("split leaf: slot %v changed while staged", s.bound))
	}
	cfg.retireLeaf(g, l)
	ch.unlock()
	cfg.leafSplits.Add(1)
	return nil
}

// rebuilt is the replacement for one child built in a parent's staging
// slots. When pair is false low replaces the child alone; otherwise low
// covers keys up to and including key and high the rest.
type rebuilt[K, V any] struct {
	low, high *Node[K, V]
	pair      bool
	key       K
}

// stage claims n's staging slots and builds in them the replacement for
// f.node, which sits in n's slot s. On failure the whole chain of f is
// unlocked and ErrRetry returned.
func (n *Node[K, V]) stage(s slot[K, Node[K, V]], f *fullError[K, V], g *epoch.Guard) (rebuilt[K, V], error) {
	cfg := n.cfg
	child := f.node

	low, high := newNode(child.floor, cfg), newNode(child.floor, cfg)
	if !n.inner.claim(low, high) {
		f.unlock(g)
		return rebuilt[K, V]{}, ErrRetry
	}
	if s.cell.Load() != child {
		n.inner.unlock()
		f.unlock(g)
		return rebuilt[K, V]{}, ErrRetry
	}

	child.seal()

	var r rebuilt[K, V]
	if child.outer != nil {
		r.pair, r.key = rebuild(child.outer, low.outer, high.outer, f, cfg.sealedLeaf, leafMax[K, V])
	} else {
		r.pair, r.key = rebuild(child.inner, low.inner, high.inner, f, cfg.sealedNode, (*Node[K, V]).maxBucket)
	}
	r.low, r.high = low, high

	low.inheritFence(child)
	if r.pair {
		high.setFence(r.key)
		low.side.Store(high)
		high.side.Store(child.side.Load())
	} else {
		low.side.Store(child.side.Load())
	}
	cfg.rebuilds.Add(1)
	return r, nil
}

// rebuild copies the children of a sealed node into dstLow (and dstHigh),
// substituting the staged pair of src for the slot that overflowed. Cells
// are shared with src so concurrent writes through src stay visible.
func rebuild[K, V, C any](
	src, dstLow, dstHigh *children[K, C],
	f *fullError[K, V],
	sentinel *C,
	maxKey func(*C) K,
) (pair bool, lowMax K) {
	cfg := f.node.cfg
	stagedLow, stagedHigh := src.low.Load(), src.high.Load()
	if stagedLow == nil || stagedHigh == nil {
		panic(assertionFailed("rebuild: floor %d has no staged pair", f.node.floor))
	}

	var keys []K
	var cells []*atomic.Pointer[C]
	at := -1
	sc := src.bounded.Scan()
	for k, cell, ok := sc.Next(); ok; k, cell, ok = sc.Next() {
		if f.bounded && cfg.compare(k, f.bound) == 0 {
			at = len(keys)
			keys = append(keys, maxKey(stagedLow), k)
			cells = append(cells, cellOf(stagedLow), cellOf(stagedHigh))
			continue
		}
		keys = append(keys, k)
		cells = append(cells, cell)
	}

	tail := src.unbounded.Load()
	if tail == sentinel {
		tail = nil
	}
	if !f.bounded {
		at = len(keys)
		keys = append(keys, maxKey(stagedLow))
		cells = append(cells, cellOf(stagedLow))
		tail = stagedHigh
	}
	if at < 0 {
		panic(assertionFailed("rebuild: bound %v not found at floor %d", f.bound, f.node.floor))
	}

	if len(keys) <= cfg.capacity {
		dstLow.bounded.Fill(keys, cells)
		if tail != nil {
			dstLow.unbounded.Store(tail)
		}
		return false, lowMax
	}

	hint := algo.HintFor(at, len(keys), !f.bounded)
	cut := algo.SplitPoint(len(keys), cfg.capacity, hint)
	dstLow.bounded.Fill(keys[:cut], cells[:cut])
	dstHigh.bounded.Fill(keys[cut:], cells[cut:])
	if tail != nil {
		dstHigh.unbounded.Store(tail)
	}
	return true, keys[cut-1]
}

func cellOf[C any](c *C) *atomic.Pointer[C] {
	cell := new(atomic.Pointer[C])
	cell.Store(c)
	return cell
}

// splitNode absorbs a Full reported by the child in slot s: the child is
// rebuilt in n's staging slots and published in its place. If the rebuilt
// pair cannot be registered in n's own bucket index the Full moves up with
// n added to the chain.
func (n *Node[K, V]) splitNode(s slot[K, Node[K, V]], f *fullError[K, V], g *epoch.Guard) error {
	cfg := n.cfg
	child := f.node

	r, err := n.stage(s, f, g)
	if err != nil {
		return err
	}

	if !r.pair {
		if !s.cell.CompareAndSwap(child, r.low) {
			panic(assertionFailed("split node: slot changed while staged at floor %d", n.floor))
		}
		n.relink(s, child, r.low, r.low)
		f.retire(g)
		cfg.retireNode(g, r.high)
		n.inner.unlock()
		return nil
	}

	switch st, _ := n.inner.bounded.Insert(r.key, cellOf(r.low)); st {
	case leaf.Inserted:
	case leaf.Full:
		return f.raise(n, s.bound, s.bounded)
	default:
		panic(assertionFailed("split node: registering %v: unexpected status %s", r.key, st))
	}

	if !s.cell.CompareAndSwap(child, r.high) {
		panic(assertionFailed("split node: slot changed while staged at floor %d", n.floor))
	}
	n.relink(s, child, r.low, r.high)
	f.retire(g)
	n.inner.unlock()
	cfg.nodeSplits.Add(1)
	return nil
}

// relink points the side link of the node preceding first inside n at first
// if it still pointed at old. last is the node now in slot s. Predecessors
// under other parents are left alone.
func (n *Node[K, V]) relink(s slot[K, Node[K, V]], old, first, last *Node[K, V]) {
	cfg := n.cfg
	var pred *Node[K, V]
	sc := n.inner.bounded.Scan()
	for k, cell, ok := sc.Next(); ok; k, cell, ok = sc.Next() {
		c := cell.Load()
		if c == first || c == last {
			break
		}
		if s.bounded && cfg.compare(k, s.bound) >= 0 {
			break
		}
		if c != nil {
			pred = c
		}
	}
	if pred != nil {
		pred.side.CompareAndSwap(old, first)
	}
}
