package vport

import (
	"math/rand"
	"sync/atomic"
)

// Stats is a point-in-time snapshot of a vport's traffic and error
// counters, plus any externally supplied offset.
type Stats struct {
	RxPackets uint64
	RxBytes   uint64
	TxPackets uint64
	TxBytes   uint64
	RxErrors  uint64
	RxDropped uint64
	TxErrors  uint64
	TxDropped uint64
}

// ErrorKind selects which error counter RecordError increments.
type ErrorKind int

const (
	RxDropped ErrorKind = iota
	RxError
	TxDropped
	TxError
)

type errorStats struct {
	rxDropped uint64
	rxErrors  uint64
	txDropped uint64
	txErrors  uint64
}

// Traffic counters are sharded to keep concurrent contexts off each
// other's cache lines. Every field is a native 64-bit atomic, so a
// reader summing the shards can never observe a torn value; no
// sequence-stamp retry protocol is needed.
const statsShards = 16 // power of two

type trafficCounters struct {
	rxPackets atomic.Uint64
	rxBytes   atomic.Uint64
	txPackets atomic.Uint64
	txBytes   atomic.Uint64
	_         [32]byte // pad to a cache line
}

// shard picks a counter shard for this call. The pick only spreads
// contention; any shard is correct.
func (v *Vport) shard() *trafficCounters {
	return &v.shards[rand.Uint32()&(statsShards-1)]
}

// SetStats replaces the offset baseline added into every snapshot.
// Requires the management lock.
func (v *Vport) SetStats(offset Stats) {
	v.statsMu.Lock()
	v.offsetStats = offset
	v.statsMu.Unlock()
}

// GetStats merges the offset baseline, the locally recorded error
// counters, and the sum of the per-context traffic shards into one
// snapshot. Callable under the management lock or a read-side guard.
func (v *Vport) GetStats() Stats {
	v.statsMu.Lock()
	out := v.offsetStats
	out.RxErrors += v.errStats.rxErrors
	out.TxErrors += v.errStats.txErrors
	out.TxDropped += v.errStats.txDropped
	out.RxDropped += v.errStats.rxDropped
	v.statsMu.Unlock()

	for i := range v.shards {
		c := &v.shards[i]
		out.RxPackets += c.rxPackets.Load()
		out.RxBytes += c.rxBytes.Load()
		out.TxPackets += c.txPackets.Load()
		out.TxBytes += c.txBytes.Load()
	}
	return out
}

// RecordError counts a backend-observed error of the given kind.
// Callable from any context.
func (v *Vport) RecordError(kind ErrorKind) {
	v.statsMu.Lock()
	switch kind {
	case RxDropped:
		v.errStats.rxDropped++
	case RxError:
		v.errStats.rxErrors++
	case TxDropped:
		v.errStats.txDropped++
	case TxError:
		v.errStats.txErrors++
	}
	v.statsMu.Unlock()
}
