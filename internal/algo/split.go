// Package algo contains the split-point arithmetic used when a routing index
// is rebuilt into two nodes.
package algo

// SplitHint guides how to bias the split point
type SplitHint int

const (
	SplitBalanced  SplitHint = iota // Default: 50/50
	SplitLeftBias                   // Left minimal, right keeps as much as fits (descending inserts)
	SplitRightBias                  // Left keeps as much as fits, right minimal (ascending inserts)
)

func (h SplitHint) String() string {
	switch h {
	case SplitLeftBias:
		return "left"
	case SplitRightBias:
		return "right"
	default:
		return "balanced"
	}
}

// HintFor picks a hint from where the overflow happened. at is the position
// of the first replacement child among the n collected children; tail reports that
// the overflow came from the unbounded child, which only grows on keys above
// every bucket.
func HintFor(at, n int, tail bool) SplitHint {
	switch {
	case tail:
		return SplitRightBias
	case at == 0 && n > 2:
		return SplitLeftBias
	default:
		return SplitBalanced
	}
}

// SplitPoint returns how many of n entries go to the left node when neither
// side may hold more than capacity. It panics if n does not fit in two nodes.
func SplitPoint(n, capacity int, hint SplitHint) int {
	if n < 2 || n > 2*capacity {
		panic("algo: entries do not fit in two nodes")
	}

	var left int
	switch hint {
	case SplitRightBias:
		left = min(capacity, n-1)
	case SplitLeftBias:
		left = max(1, n-capacity)
	default:
		left = n / 2
	}

	// Both sides must fit and be non-empty
	left = max(left, n-capacity, 1)
	left = min(left, capacity, n-1)
	return left
}
