package index

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/treeindex/internal/epoch"
	"github.com/alexhholmes/treeindex/internal/leaf"
)

var (
	// ErrDuplicated means the key is already present. The stored value is
	// never replaced; the concrete error is a *DuplicateError.
	ErrDuplicated = errors.New("key already present")

	// ErrFull means the addressed container has no room. It is absorbed by a
	// split one level up and never escapes Tree.Insert.
	ErrFull = errors.New("container full")

	// ErrRetry means the insert raced a structural change and must restart
	// from the root.
	ErrRetry = errors.New("retry from root")

	// ErrClosed means the tree has been torn down
	ErrClosed = errors.New("index closed")
)

// DuplicateError reports the key that was already present and the value
// stored under it.
type DuplicateError[K, V any] struct {
	Key      K
	Existing V
}

func (e *DuplicateError[K, V]) Error() string {
	return fmt.Sprintf("key %v already present", e.Key)
}

func (e *DuplicateError[K, V]) Is(target error) bool {
	return target == ErrDuplicated
}

// fullError travels up the recursion when a split could not be published at
// the level where it was staged.
//
// node holds, in its staging slots, a finished replacement pair for the
// child slot identified by bound/bounded. chain lists every node whose staging
// slots are still claimed by this split, bottom-up; node is always last. leaf
// is the full data leaf the whole chain replaces.
type fullError[K, V any] struct {
	node    *Node[K, V]
	bound   K
	bounded bool
	chain   []*Node[K, V]
	leaf    *leaf.Leaf[K, V]
}

func (e *fullError[K, V]) Error() string {
	if e.bounded {
		return fmt.Sprintf("container full at floor %d below bound %v", e.node.floor, e.bound)
	}
	return fmt.Sprintf("container full at floor %d in unbounded slot", e.node.floor)
}

func (e *fullError[K, V]) Is(target error) bool {
	return target == ErrFull
}

// raise moves the error one level up: n now holds the replacement pair for
// its own slot s.
func (e *fullError[K, V]) raise(n *Node[K, V], bound K, bounded bool) *fullError[K, V] {
	e.node = n
	e.bound = bound
	e.bounded = bounded
	e.chain = append(e.chain, n)
	return e
}

// unlock abandons the split: every node of the chain is unsealed and its
// staging slots are cleared, and the staged objects are retired.
func (e *fullError[K, V]) unlock(g *epoch.Guard) {
	for _, n := range e.chain {
		n.unseal()
		n.abandonStaging(g)
	}
}

// retire runs after the replacement is published: every node of the chain
// and the full leaf are unreachable from the root. Chain nodes keep their
// staging slots claimed so stale writers can never split them again.
func (e *fullError[K, V]) retire(g *epoch.Guard) {
	for _, n := range e.chain {
		n.cfg.retireNode(g, n)
	}
	e.node.cfg.retireLeaf(g, e.leaf)
}

// handleResult folds a child's outcome into the parent n, where s is the
// parent's slot that routed to the child. Full triggers a rebuild of the
// child inside n; everything else propagates unchanged.
func (n *Node[K, V]) handleResult(s slot[K, Node[K, V]], err error, g *epoch.Guard) error {
	if err == nil {
		return nil
	}
	var f *fullError[K, V]
	if !errors.As(err, &f) {
		return err
	}
	return n.splitNode(s, f, g)
}

func assertionFailed(format string, args ...any) error {
	return errors.AssertionFailedf(format, args...)
}

// mustInsert panics unless st is Inserted. Anything else means the routing
// invariants were violated by a concurrent writer.
func mustInsert(st leaf.Status, what string) {
	if st != leaf.Inserted {
		panic(assertionFailed("%s: unexpected status %s", what, st))
	}
}
