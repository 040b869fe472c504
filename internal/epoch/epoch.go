// Package epoch implements epoch-based reclamation for objects unlinked from
// lock-free structures.
//
// A reader pins the current epoch before dereferencing shared pointers and
// releases the guard when done. A writer that unlinks an object hands its
// destructor to Guard.Defer; the destructor runs only once every guard that
// was pinned before the unlink has been released.
package epoch

import (
	"cmp"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

const (
	// DefaultMaxGuards is the number of guard slots used when none is configured
	DefaultMaxGuards = 1024

	// collectThreshold is the number of pending destructors that makes Defer
	// attempt a collection on its own
	collectThreshold = 64

	cacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})
)

// slot holds the epoch pinned by one guard (0 = free). Each slot owns a full
// cache line so that guards pinned on different cores do not false-share.
type slot struct {
	epoch atomic.Uint64
	_     [cacheLineSize - 8]byte
}

// retired is a destructor waiting for its epoch to drain
type retired struct {
	epoch uint64
	fn    func()
}

// Collector tracks pinned guards and the destructors of retired objects
type Collector struct {
	epoch  atomic.Uint64 // Global epoch, advanced by every retirement
	slots  []slot        // Fixed-size array of guard slots
	active atomic.Int32  // Count of pinned guards

	mu       sync.Mutex
	pending  []retired    // Destructors not yet safe to run, ordered by epoch
	npending atomic.Int64 // len(pending), readable without mu

	// Stats
	pins      atomic.Uint64
	deferred  atomic.Uint64
	reclaimed atomic.Uint64
}

// Stats is a point-in-time view of a Collector
type Stats struct {
	Epoch     uint64 // Current global epoch
	Pinned    int    // Guards currently pinned
	Pending   int    // Destructors waiting for older guards
	Pins      uint64 // Total guards pinned
	Deferred  uint64 // Total destructors deferred
	Reclaimed uint64 // Total destructors run
}

// NewCollector creates a collector with room for maxGuards simultaneously
// pinned guards.
func NewCollector(maxGuards int) *Collector {
	if maxGuards <= 0 {
		maxGuards = DefaultMaxGuards
	}
	c := &Collector{
		slots: make([]slot, maxGuards),
	}
	c.epoch.Store(1) // 0 marks a free slot
	return c
}

// Pin claims a guard slot for the current epoch. Objects unlinked after Pin
// returns stay alive until the guard is released. When every slot is taken
// Pin yields until one frees up.
func (c *Collector) Pin() *Guard {
	n := len(c.slots)
	for {
		start := rand.IntN(n)
		for i := 0; i < n; i++ {
			idx := start + i
			if idx >= n {
				idx -= n
			}
			e := c.epoch.Load()
			if c.slots[idx].epoch.CompareAndSwap(0, e) {
				c.active.Add(1)
				c.pins.Add(1)
				return &Guard{c: c, slot: idx, epoch: e}
			}
		}
		runtime.Gosched()
	}
}

// Collect runs every deferred destructor whose epoch is older than all
// pinned guards and returns how many ran.
func (c *Collector) Collect() int {
	c.mu.Lock()
	ready := c.drainLocked()
	c.mu.Unlock()
	return c.run(ready)
}

// tryCollect is Collect without waiting on a concurrent collection
func (c *Collector) tryCollect() {
	if !c.mu.TryLock() {
		return
	}
	ready := c.drainLocked()
	c.mu.Unlock()
	c.run(ready)
}

// drainLocked detaches the prefix of pending whose epochs are older than
// every pinned guard. pending is ordered by epoch, so the scan stops at the
// first entry still visible to a guard.
func (c *Collector) drainLocked() []retired {
	if len(c.pending) == 0 {
		return nil
	}
	oldest := c.minPinned()
	if c.pending[0].epoch >= oldest {
		return nil
	}

	n, _ := slices.BinarySearchFunc(c.pending, oldest, func(r retired, e uint64) int {
		return cmp.Compare(r.epoch, e)
	})
	ready := c.pending[:n:n]
	c.pending = c.pending[n:]
	if len(c.pending) == 0 {
		c.pending = nil
	}
	c.npending.Store(int64(len(c.pending)))
	return ready
}

// run calls the destructors of ready. The entries are cleared afterwards;
// pending never grows back over them.
func (c *Collector) run(ready []retired) int {
	for _, r := range ready {
		r.fn()
	}
	clear(ready)
	c.reclaimed.Add(uint64(len(ready)))
	return len(ready)
}

// minPinned scans the slots for the oldest pinned epoch (MaxUint64 when no
// guard is pinned).
func (c *Collector) minPinned() uint64 {
	if c.active.Load() == 0 {
		return math.MaxUint64
	}
	oldest := uint64(math.MaxUint64)
	for i := range c.slots {
		if e := c.slots[i].epoch.Load(); e != 0 && e < oldest {
			oldest = e
		}
	}
	return oldest
}

// Stats returns collector statistics
func (c *Collector) Stats() Stats {
	return Stats{
		Epoch:     c.epoch.Load(),
		Pinned:    int(c.active.Load()),
		Pending:   int(c.npending.Load()),
		Pins:      c.pins.Load(),
		Deferred:  c.deferred.Load(),
		Reclaimed: c.reclaimed.Load(),
	}
}
