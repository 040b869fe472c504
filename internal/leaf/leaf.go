// Package leaf implements a fixed-capacity sorted array that tolerates
// concurrent readers and writers.
//
// The contents of a Leaf are an immutable snapshot. Writers build the next
// snapshot and publish it with a compare-and-swap, so concurrent inserts into
// one leaf serialize on that CAS while readers keep the snapshot they loaded.
package leaf

import (
	"slices"
	"sync/atomic"
)

// Status reports the outcome of Insert and Append
type Status uint8

const (
	// Inserted means the entry is now in the leaf
	Inserted Status = iota
	// Duplicated means the key was already present; nothing changed
	Duplicated
	// Full means the leaf holds capacity entries; nothing changed
	Full
	// OutOfOrder means Append was given a key not above the current maximum
	OutOfOrder
	// OutOfRange means the key is at or below the leaf's fence
	OutOfRange
	// Frozen means the leaf rejects writes until Thaw
	Frozen
)

func (s Status) String() string {
	switch s {
	case Inserted:
		return "inserted"
	case Duplicated:
		return "duplicated"
	case Full:
		return "full"
	case OutOfOrder:
		return "out of order"
	case OutOfRange:
		return "out of range"
	case Frozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// Leaf is a sorted associative array holding at most Capacity unique keys
type Leaf[K, V any] struct {
	compare  func(a, b K) int
	capacity int
	state    atomic.Pointer[state[K, V]]

	// Exclusive lower bound on accepted keys. Set before the leaf is
	// published and never changed while it is reachable.
	fence  K
	fenced bool
}

// state is one immutable version of a leaf's entries
type state[K, V any] struct {
	keys   []K
	vals   []V
	frozen bool
}

// New creates an empty leaf. Capacity is fixed for the leaf's lifetime.
func New[K, V any](capacity int, compare func(a, b K) int) *Leaf[K, V] {
	l := &Leaf[K, V]{
		compare:  compare,
		capacity: capacity,
	}
	l.state.Store(&state[K, V]{})
	return l
}

// Capacity returns the maximum number of entries
func (l *Leaf[K, V]) Capacity() int {
	return l.capacity
}

// Len returns the number of entries
func (l *Leaf[K, V]) Len() int {
	return len(l.state.Load().keys)
}

// Full reports whether no more entries fit
func (l *Leaf[K, V]) Full() bool {
	return l.Len() >= l.capacity
}

// SetFence makes the leaf reject keys <= key with OutOfRange. Call it only
// before the leaf becomes reachable by other goroutines.
func (l *Leaf[K, V]) SetFence(key K) {
	l.fence = key
	l.fenced = true
}

// Fence returns the exclusive lower bound, false if the leaf has none
func (l *Leaf[K, V]) Fence() (K, bool) {
	return l.fence, l.fenced
}

// Below reports whether key is at or below the fence
func (l *Leaf[K, V]) Below(key K) bool {
	return l.fenced && l.compare(key, l.fence) <= 0
}

// MaxKey returns the largest key, false if the leaf is empty
func (l *Leaf[K, V]) MaxKey() (K, bool) {
	s := l.state.Load()
	if len(s.keys) == 0 {
		var zero K
		return zero, false
	}
	return s.keys[len(s.keys)-1], true
}

// MinGE returns the first entry whose key is >= key
func (l *Leaf[K, V]) MinGE(key K) (K, V, bool) {
	s := l.state.Load()
	i, _ := slices.BinarySearchFunc(s.keys, key, l.compare)
	if i < len(s.keys) {
		return s.keys[i], s.vals[i], true
	}
	var zk K
	var zv V
	return zk, zv, false
}

// Insert adds key/value in order. On Duplicated the stored value is returned
// and left untouched; duplicates are detected before capacity.
func (l *Leaf[K, V]) Insert(key K, value V) (Status, V) {
	var zero V
	if l.Below(key) {
		return OutOfRange, zero
	}
	for {
		s := l.state.Load()
		if s.frozen {
			return Frozen, zero
		}
		i, found := slices.BinarySearchFunc(s.keys, key, l.compare)
		if found {
			return Duplicated, s.vals[i]
		}
		if len(s.keys) >= l.capacity {
			return Full, zero
		}
		if l.state.CompareAndSwap(s, s.insertAt(i, key, value)) {
			return Inserted, value
		}
	}
}

// Append adds key/value only if key sorts after every present key
func (l *Leaf[K, V]) Append(key K, value V) (Status, V) {
	var zero V
	if l.Below(key) {
		return OutOfRange, zero
	}
	for {
		s := l.state.Load()
		if s.frozen {
			return Frozen, zero
		}
		if n := len(s.keys); n > 0 {
			switch c := l.compare(key, s.keys[n-1]); {
			case c == 0:
				return Duplicated, s.vals[n-1]
			case c < 0:
				if i, found := slices.BinarySearchFunc(s.keys, key, l.compare); found {
					return Duplicated, s.vals[i]
				}
				return OutOfOrder, zero
			}
		}
		if len(s.keys) >= l.capacity {
			return Full, zero
		}
		if l.state.CompareAndSwap(s, s.insertAt(len(s.keys), key, value)) {
			return Inserted, value
		}
	}
}

// Distribute copies the entries into two empty leaves, order preserving: low
// receives the smaller half. It returns the number of entries each received.
func (l *Leaf[K, V]) Distribute(low, high *Leaf[K, V]) (int, int) {
	s := l.state.Load()
	half := len(s.keys) / 2
	low.state.Store(&state[K, V]{
		keys: slices.Clone(s.keys[:half]),
		vals: slices.Clone(s.vals[:half]),
	})
	high.state.Store(&state[K, V]{
		keys: slices.Clone(s.keys[half:]),
		vals: slices.Clone(s.vals[half:]),
	})
	return half, len(s.keys) - half
}

// Fill replaces the contents of an unpublished leaf. keys must be sorted,
// unique and no longer than the capacity; the slices are copied.
func (l *Leaf[K, V]) Fill(keys []K, vals []V) {
	l.state.Store(&state[K, V]{
		keys: slices.Clone(keys),
		vals: slices.Clone(vals),
	})
}

// Freeze makes Insert and Append report Frozen until Thaw. The entries
// visible after Freeze returns are final.
func (l *Leaf[K, V]) Freeze() {
	l.setFrozen(true)
}

// Thaw undoes Freeze
func (l *Leaf[K, V]) Thaw() {
	l.setFrozen(false)
}

// Frozen reports whether the leaf currently rejects writes
func (l *Leaf[K, V]) Frozen() bool {
	return l.state.Load().frozen
}

func (l *Leaf[K, V]) setFrozen(frozen bool) {
	for {
		s := l.state.Load()
		if s.frozen == frozen {
			return
		}
		next := *s
		next.frozen = frozen
		if l.state.CompareAndSwap(s, &next) {
			return
		}
	}
}

// Reset empties the leaf and drops its fence so it can be reused
func (l *Leaf[K, V]) Reset() {
	var zero K
	l.fence, l.fenced = zero, false
	l.state.Store(&state[K, V]{})
}

// insertAt returns a new state with the entry placed at index i
func (s *state[K, V]) insertAt(i int, key K, value V) *state[K, V] {
	n := len(s.keys)
	next := &state[K, V]{
		keys: make([]K, n+1),
		vals: make([]V, n+1),
	}
	copy(next.keys, s.keys[:i])
	copy(next.vals, s.vals[:i])
	next.keys[i] = key
	next.vals[i] = value
	copy(next.keys[i+1:], s.keys[i:])
	copy(next.vals[i+1:], s.vals[i:])
	return next
}
