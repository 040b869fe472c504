package leaf

import "slices"

// Scanner iterates the entries of one leaf snapshot in ascending key order.
// Entries inserted after the scanner was created are not observed.
type Scanner[K, V any] struct {
	s    *state[K, V]
	next int // index Next yields
	cur  int // index Get reports, -1 before the first Next
}

// Scan returns a scanner positioned before the first entry
func (l *Leaf[K, V]) Scan() Scanner[K, V] {
	return Scanner[K, V]{s: l.state.Load(), cur: -1}
}

// ScanFrom returns a scanner whose first Next yields the first entry with
// key >= key.
func (l *Leaf[K, V]) ScanFrom(key K) Scanner[K, V] {
	s := l.state.Load()
	i, _ := slices.BinarySearchFunc(s.keys, key, l.compare)
	return Scanner[K, V]{s: s, next: i, cur: -1}
}

// ScanAfter returns a scanner whose first Next yields the first entry with
// key > key.
func (l *Leaf[K, V]) ScanAfter(key K) Scanner[K, V] {
	s := l.state.Load()
	i, found := slices.BinarySearchFunc(s.keys, key, l.compare)
	if found {
		i++
	}
	return Scanner[K, V]{s: s, next: i, cur: -1}
}

// Get returns the entry the last Next returned without advancing
func (sc *Scanner[K, V]) Get() (K, V, bool) {
	if sc.s == nil || sc.cur < 0 || sc.cur >= len(sc.s.keys) {
		var zk K
		var zv V
		return zk, zv, false
	}
	return sc.s.keys[sc.cur], sc.s.vals[sc.cur], true
}

// Next advances to the next entry and returns it
func (sc *Scanner[K, V]) Next() (K, V, bool) {
	if sc.s == nil {
		var zk K
		var zv V
		return zk, zv, false
	}
	sc.cur = sc.next
	if sc.next < len(sc.s.keys) {
		sc.next++
	}
	return sc.Get()
}

// Len returns the number of entries in the scanned snapshot
func (sc *Scanner[K, V]) Len() int {
	if sc.s == nil {
		return 0
	}
	return len(sc.s.keys)
}
