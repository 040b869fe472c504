package epoch

// Guard is a pinned epoch. Pointers loaded while the guard is pinned remain
// valid until Release, even if they are unlinked concurrently. A guard
// belongs to one goroutine; references derived from it must not outlive it.
type Guard struct {
	c        *Collector
	slot     int
	epoch    uint64
	released bool
}

// Epoch returns the epoch the guard pinned
func (g *Guard) Epoch() uint64 {
	return g.epoch
}

// Released reports whether Release has been called
func (g *Guard) Released() bool {
	return g.released
}

// Defer schedules fn to run once no guard pinned at or before the current
// epoch is still active. It is the destroy half of retiring an object: the
// caller unlinks the object first, then defers its destruction.
func (g *Guard) Defer(fn func()) {
	c := g.c

	// The epoch is taken under mu so pending stays ordered
	c.mu.Lock()
	e := c.epoch.Add(1) - 1
	c.pending = append(c.pending, retired{epoch: e, fn: fn})
	n := len(c.pending)
	c.npending.Store(int64(n))
	c.mu.Unlock()

	c.deferred.Add(1)
	if n >= collectThreshold {
		c.tryCollect()
	}
}

// Release unpins the guard and opportunistically runs destructors that
// became safe. Releasing twice is a no-op.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true

	c := g.c
	c.slots[g.slot].epoch.Store(0)
	c.active.Add(-1)

	if c.npending.Load() > 0 {
		c.tryCollect()
	}
}
