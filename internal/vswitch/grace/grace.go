// Package grace provides the read-side guarantee the vport layer is
// specified against: a lightweight, non-exclusive critical section that
// never blocks writers, paired with deferred execution of reclamation
// callbacks once every section that predates them has ended.
//
// The implementation is an epoch scheme. Each reader publishes the
// epoch it entered at into a slot; Defer advances the epoch and queues
// the callback; a callback runs once no active reader remains pinned to
// an earlier epoch.
package grace

import (
	"runtime"
	"sync"
	"sync/atomic"
)

const readerSlots = 1024

// Domain is one reclamation domain. Guards and deferred callbacks in
// different domains are unrelated.
type Domain struct {
	epoch atomic.Uint64

	// Each slot holds 0 when free, otherwise the pinned epoch plus one.
	slots [readerSlots]atomic.Uint64

	mu         sync.Mutex
	pending    []callback
	hasPending atomic.Bool
}

type callback struct {
	epoch uint64
	fn    func()
}

// NewDomain returns an empty reclamation domain.
func NewDomain() *Domain {
	return &Domain{}
}

// Guard is one acquisition of the read-side guarantee. Acquisitions
// nest freely: each ReadLock returns its own guard, so a reader that is
// already inside a section may enter again.
type Guard struct {
	d   *Domain
	idx int
}

// ReadLock enters a read-side section. Entities reachable through
// shared structure at this point will not be reclaimed until Unlock.
// Never blocks a concurrent Defer caller.
func (d *Domain) ReadLock() *Guard {
	for {
		pin := d.epoch.Load() + 1
		for i := range d.slots {
			if d.slots[i].CompareAndSwap(0, pin) {
				return &Guard{d: d, idx: i}
			}
		}
		// All slots busy; extremely unlikely outside stress tests.
		runtime.Gosched()
	}
}

// Unlock leaves the read-side section.
func (g *Guard) Unlock() {
	g.d.slots[g.idx].Store(0)
	if g.d.hasPending.Load() {
		g.d.reap()
	}
}

// Defer queues fn to run after every reader that was inside a section
// when Defer was called has left it. Readers entering afterwards do not
// delay fn. fn may run synchronously in the caller when no reader is
// active.
func (d *Domain) Defer(fn func()) {
	d.mu.Lock()
	e := d.epoch.Add(1)
	d.pending = append(d.pending, callback{epoch: e, fn: fn})
	d.hasPending.Store(true)
	d.mu.Unlock()
	d.reap()
}

// Synchronize blocks until a full grace period has elapsed: every
// section active at the call has ended when it returns.
func (d *Domain) Synchronize() {
	done := make(chan struct{})
	d.Defer(func() { close(done) })
	<-done
}

// reap runs every pending callback whose grace period has elapsed.
func (d *Domain) reap() {
	d.mu.Lock()
	minPinned := uint64(1<<64 - 1)
	for i := range d.slots {
		if v := d.slots[i].Load(); v != 0 && v-1 < minPinned {
			minPinned = v - 1
		}
	}
	var ready []callback
	rest := d.pending[:0]
	for _, cb := range d.pending {
		// A reader pinned at epoch p entered before any removal that
		// advanced the epoch beyond p. The callback queued at epoch e
		// must wait for readers with p < e.
		if cb.epoch <= minPinned {
			ready = append(ready, cb)
		} else {
			rest = append(rest, cb)
		}
	}
	d.pending = rest
	d.hasPending.Store(len(rest) != 0)
	d.mu.Unlock()

	for _, cb := range ready {
		cb.fn()
	}
}
