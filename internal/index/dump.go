package index

import (
	"fmt"
	"strings"

	"github.com/xlab/treeprint"

	"github.com/alexhholmes/treeindex/internal/leaf"
)

// dumpKeys is the number of keys printed per data leaf
const dumpKeys = 8

// Dump renders the tree for debugging. It is meant for quiescent trees;
// concurrent inserts may show up partially.
func (t *Tree[K, V]) Dump() string {
	g := t.collector.Pin()
	defer g.Release()

	root := t.root.Load()
	if root == nil {
		return "closed\n"
	}

	header := fmt.Sprintf("tree(height=%d len=%d)\n", root.floor+1, t.Len())
	p := treeprint.New()
	root.dump(p)
	return header + p.String()
}

func (n *Node[K, V]) dump(p treeprint.Tree) {
	branch := p.AddBranch(n.label())
	if n.outer != nil {
		dumpChildren(branch, n.outer, n.cfg.sealedLeaf, func(p treeprint.Tree, l *leaf.Leaf[K, V]) {
			p.AddNode(leafLabel(l))
		})
		return
	}
	dumpChildren(branch, n.inner, n.cfg.sealedNode, func(p treeprint.Tree, c *Node[K, V]) {
		c.dump(p)
	})
}

func dumpChildren[K, C any](p treeprint.Tree, ch *children[K, C], sentinel *C, child func(treeprint.Tree, *C)) {
	sc := ch.bounded.Scan()
	for k, cell, ok := sc.Next(); ok; k, cell, ok = sc.Next() {
		meta := fmt.Sprintf("<= %v", k)
		c := cell.Load()
		if c == nil {
			p.AddMetaNode(meta, "empty")
			continue
		}
		child(p.AddMetaBranch(meta, ""), c)
	}
	switch c := ch.unbounded.Load(); {
	case c == sentinel:
		p.AddMetaNode("tail", "sealed")
	case c != nil:
		child(p.AddMetaBranch("tail", ""), c)
	}
}

func (n *Node[K, V]) label() string {
	var b strings.Builder
	fmt.Fprintf(&b, "floor=%d", n.floor)
	if n.outer != nil {
		fmt.Fprintf(&b, " buckets=%d", n.outer.bounded.Len())
		if n.outer.staged() {
			b.WriteString(" staged")
		}
	} else {
		fmt.Fprintf(&b, " buckets=%d", n.inner.bounded.Len())
		if n.inner.staged() {
			b.WriteString(" staged")
		}
	}
	if n.fenced {
		fmt.Fprintf(&b, " fence=%v", n.fence)
	}
	return b.String()
}

func leafLabel[K, V any](l *leaf.Leaf[K, V]) string {
	var b strings.Builder
	b.WriteByte('[')
	sc := l.Scan()
	i := 0
	for k, _, ok := sc.Next(); ok; k, _, ok = sc.Next() {
		if i == dumpKeys {
			b.WriteString(" ...")
			break
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%v", k)
		i++
	}
	fmt.Fprintf(&b, "] n=%d", l.Len())
	if fence, ok := l.Fence(); ok {
		fmt.Fprintf(&b, " fence=%v", fence)
	}
	return b.String()
}
