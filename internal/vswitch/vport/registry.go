package vport

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"firestige.xyz/vswitch/internal/vswitch/grace"
)

// hashBuckets is fixed for the registry's lifetime; the table is never
// rehashed. Must be a power of two.
const hashBuckets = 1024

// Bucket chains are built from immutable nodes: once a node is
// published through the bucket head it is never modified, so a reader
// that loaded a head keeps a valid chain even while Add and Del replace
// the head underneath it. Unlinked nodes stay reachable to such readers
// until their read-side section ends, which is what makes deferred
// reclamation safe.
type node struct {
	vport *Vport
	next  *node
}

// Registry is the name-keyed index over all attached vports. Locate is
// safe under a read-side guard concurrent with Add/Del, which require
// the management lock.
type Registry struct {
	dom     *grace.Domain
	ops     []Ops
	buckets [hashBuckets]atomic.Pointer[node]

	mu     sync.Mutex
	locked atomic.Bool
}

// NewRegistry builds a registry over the given reclamation domain with
// the compiled-in backend list.
func NewRegistry(dom *grace.Domain, ops ...Ops) *Registry {
	return &Registry{dom: dom, ops: ops}
}

// Close shuts the registry down, waiting out a full grace period so
// every deferred free has run. All ports must have been deleted first.
func (r *Registry) Close() {
	r.dom.Synchronize()
}

// Lock acquires the management lock. Registry mutation, options
// changes, and backend destroy all happen under it. It is never held
// across a packet send or receive.
func (r *Registry) Lock() {
	r.mu.Lock()
	r.locked.Store(true)
}

// Unlock releases the management lock.
func (r *Registry) Unlock() {
	r.locked.Store(false)
	r.mu.Unlock()
}

// assertLocked panics when the management lock is not held. Calling a
// mutating operation without it is a programmer error, not a
// recoverable condition.
func (r *Registry) assertLocked() {
	if !r.locked.Load() {
		panic("vport: management lock not held")
	}
}

// ReadLock enters a read-side section on the registry's reclamation
// domain. Vports located while it is held stay valid until Unlock.
func (r *Registry) ReadLock() *grace.Guard {
	return r.dom.ReadLock()
}

func (r *Registry) bucket(ns *Netns, name string) *atomic.Pointer[node] {
	h := fnv.New64a()
	h.Write([]byte(name))
	return &r.buckets[(h.Sum64()^ns.id)&(hashBuckets-1)]
}

// Locate finds the attached vport with the given backend-reported name
// in the given namespace, or nil. Callable under the management lock or
// a read-side guard.
func (r *Registry) Locate(ns *Netns, name string) *Vport {
	for n := r.bucket(ns, name).Load(); n != nil; n = n.next {
		v := n.vport
		if v.Name() == name && v.dp.Netns() == ns {
			return v
		}
	}
	return nil
}

// Add creates a vport from parms: the compiled-in backend list is
// scanned for the requested type, the backend's Create runs, and the
// result is inserted into the registry, visible to concurrent Locate
// calls from that point. Requires the management lock. Returns
// ErrNotSupported when no backend serves parms.Type.
func (r *Registry) Add(parms *Parms) (*Vport, error) {
	r.assertLocked()
	for _, ops := range r.ops {
		if ops.Type() != parms.Type {
			continue
		}
		p := *parms
		p.Grace = r.dom
		v, err := ops.Create(&p)
		if err != nil {
			return nil, err
		}
		b := r.bucket(v.dp.Netns(), v.Name())
		// The node is fully built before the head store publishes it.
		b.Store(&node{vport: v, next: b.Load()})
		return v, nil
	}
	return nil, ErrNotSupported
}

// Del detaches v from the registry and runs the backend's Destroy.
// Requires the management lock. Readers already traversing the bucket
// may keep observing v until their section ends; the caller requests
// DeferredFree once v is unreachable through every path.
func (r *Registry) Del(v *Vport) {
	r.assertLocked()
	b := r.bucket(v.dp.Netns(), v.Name())

	// Rebuild the chain without v's node. Nodes in front of it are
	// copied; the suffix is shared. Readers mid-traversal hold either
	// the old head (and see the old, fully linked chain) or the new one.
	var prefix []*Vport
	n := b.Load()
	for ; n != nil && n.vport != v; n = n.next {
		prefix = append(prefix, n.vport)
	}
	if n != nil {
		head := n.next
		for i := len(prefix) - 1; i >= 0; i-- {
			head = &node{vport: prefix[i], next: head}
		}
		b.Store(head)
	}

	v.ops.Destroy(v)
}

// ForEach visits every attached vport. Callable under the management
// lock or a read-side guard.
func (r *Registry) ForEach(fn func(*Vport)) {
	for i := range r.buckets {
		for n := r.buckets[i].Load(); n != nil; n = n.next {
			fn(n.vport)
		}
	}
}

// DeferredFree schedules the release of v's backing storage for after
// the grace period: no reader that could still observe v through the
// registry at the time of its removal will outlive the wait. A nil v is
// a no-op. The vport must already be detached; the layer does not touch
// it again between scheduling and the callback.
func (r *Registry) DeferredFree(v *Vport) {
	if v == nil {
		return
	}
	r.dom.Defer(v.free)
}
