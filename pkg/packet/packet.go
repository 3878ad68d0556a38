// Package packet provides the buffer type the datapath moves frames
// around in: a byte slice with reserved headroom for header pushes, a
// per-packet metadata side channel, and wire-level accessors for the
// Ethernet, 802.1Q and IPv4 headers the transmit pipeline edits in
// place.
package packet

import (
	"net/netip"
	"sync"

	"github.com/google/gopacket/layers"
)

const (
	// EthernetHeaderLen is the length of an untagged Ethernet header.
	EthernetHeaderLen = 14
	// VLANHeaderLen is the length of a single 802.1Q tag.
	VLANHeaderLen = 4
)

// VLANTag records an 802.1Q tag stripped from a frame so it can be
// reapplied later (per fragment, on the transmit path).
type VLANTag struct {
	Proto layers.EthernetType // outer EtherType, normally Dot1Q
	TCI   uint16
}

// TunnelKey carries the tunnel header fields of an encapsulated packet.
// The receive path attaches it to the buffer; the datapath core reads it.
type TunnelKey struct {
	ID    uint64
	Src   netip.Addr
	Dst   netip.Addr
	Flags uint16
	TOS   uint8
	TTL   uint8
}

// Buffer is a packet buffer. The frame occupies store[off:end]; bytes
// before off are headroom available to Push. The exported fields form
// the per-packet control block.
type Buffer struct {
	store []byte
	off   int
	end   int

	// Tunnel is the tunnel header the packet arrived with, nil for
	// non-encapsulated traffic.
	Tunnel *TunnelKey

	// FragMaxSize caps the IPv4 datagram size on transmit regardless of
	// the egress device MTU. Zero means no override.
	FragMaxSize uint32

	// VLAN holds a tag stripped by UntagVLAN, waiting to be reapplied.
	VLAN *VLANTag

	released bool
}

var bufPool = sync.Pool{New: func() any { return new(Buffer) }}

// NewBuffer returns an empty buffer with capacity bytes of headroom.
// Headers and payload are added front-to-back with Push, mirroring how
// the transmit pipeline assembles fragments.
func NewBuffer(capacity int) *Buffer {
	b := bufPool.Get().(*Buffer)
	if cap(b.store) < capacity {
		b.store = make([]byte, capacity)
	}
	b.off = capacity
	b.end = capacity
	b.Tunnel = nil
	b.FragMaxSize = 0
	b.VLAN = nil
	b.released = false
	return b
}

// FromBytes wraps an existing frame in a buffer with a small headroom
// reserve so a VLAN tag can still be pushed in front of it.
func FromBytes(frame []byte) *Buffer {
	b := NewBuffer(len(frame) + VLANHeaderLen)
	copy(b.Push(len(frame)), frame)
	return b
}

// Len returns the current frame length.
func (b *Buffer) Len() int { return b.end - b.off }

// Bytes returns the current frame contents.
func (b *Buffer) Bytes() []byte { return b.store[b.off:b.end] }

// Push extends the frame by n bytes at the front and returns the new
// front region. Panics if the headroom is exhausted; the caller sizes
// the buffer when it allocates it.
func (b *Buffer) Push(n int) []byte {
	if n > b.off {
		panic("packet: push exceeds headroom")
	}
	b.off -= n
	return b.store[b.off : b.off+n]
}

// Pull removes n bytes from the front of the frame.
func (b *Buffer) Pull(n int) {
	if n > b.Len() {
		panic("packet: pull exceeds frame length")
	}
	b.off += n
}

// Release returns the buffer to the pool. A buffer must be released
// exactly once; a second release is a bug in the disposal accounting
// and panics.
func (b *Buffer) Release() {
	if b.released {
		panic("packet: double release")
	}
	b.released = true
	b.Tunnel = nil
	b.VLAN = nil
	bufPool.Put(b)
}
