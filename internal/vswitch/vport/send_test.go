package vport

import (
	"encoding/binary"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"

	"firestige.xyz/vswitch/pkg/packet"
)

func newSendVport(t *testing.T, ops *fakeOps) *Vport {
	t.Helper()
	dp := newFakeDatapath("dp0", NewNetns("default"))
	return newTestVport(dp, ops, "eth0", 1)
}

// frag is one transmitted fragment, decoded.
type frag struct {
	hdr     *ipv4.Header
	payload []byte
}

// decodeFrags decodes the frames a backend saw into IPv4 fragments,
// checking the link-layer framing along the way. When vlan is set,
// every frame must carry an 802.1Q tag with the given VID.
func decodeFrags(t *testing.T, frames [][]byte, vlan bool, vid uint16) []frag {
	t.Helper()
	out := make([]frag, 0, len(frames))
	for _, f := range frames {
		ipOff := packet.EthernetHeaderLen
		if vlan {
			require.Equal(t, uint16(0x8100), binary.BigEndian.Uint16(f[12:14]), "frame must be 802.1Q tagged")
			require.Equal(t, vid, binary.BigEndian.Uint16(f[14:16])&0x0fff, "VID must survive retagging")
			require.Equal(t, uint16(0x0800), binary.BigEndian.Uint16(f[16:18]), "inner type must be IPv4")
			ipOff += packet.VLANHeaderLen
		} else {
			require.Equal(t, uint16(0x0800), binary.BigEndian.Uint16(f[12:14]))
		}

		h, err := ipv4.ParseHeader(f[ipOff:])
		require.NoError(t, err)
		require.True(t, packet.IPv4Header(f[ipOff:ipOff+h.Len]).Valid(), "fragment header checksum must be valid")
		require.Equal(t, h.TotalLen, len(f)-ipOff, "frame length must match the IP total length")
		out = append(out, frag{hdr: h, payload: append([]byte(nil), f[ipOff+h.Len:]...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].hdr.FragOff < out[j].hdr.FragOff })
	return out
}

// reassemble stitches sorted fragments back into the original datagram
// payload, checking offset contiguity and the more-fragments chain.
func reassemble(t *testing.T, frags []frag) []byte {
	t.Helper()
	var out []byte
	for i, f := range frags {
		require.Equal(t, len(out), f.hdr.FragOff<<3, "fragments must be contiguous")
		if i < len(frags)-1 {
			require.NotZero(t, f.hdr.Flags&ipv4.MoreFragments, "non-final fragment must set MF")
		} else {
			require.Zero(t, f.hdr.Flags&ipv4.MoreFragments, "final fragment must clear MF")
		}
		out = append(out, f.payload...)
	}
	return out
}

func payloadPattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 7)
	}
	return p
}

func TestSendNoMTUPassesThrough(t *testing.T) {
	ops := &fakeOps{typ: TypeNetdev} // mtu 0: no ceiling
	v := newSendVport(t, ops)

	frame := ipv4Frame(t, false, false, 3000)
	n := v.Send(packet.FromBytes(frame))

	assert.Equal(t, len(frame), n)
	sent := ops.sentFrames()
	require.Len(t, sent, 1)
	assert.Equal(t, frame, sent[0], "no ceiling means the frame goes out untouched")
}

func TestSendFitsMTUPassesThrough(t *testing.T) {
	ops := &fakeOps{typ: TypeNetdev, mtu: 1500}
	v := newSendVport(t, ops)

	// 1480 payload + 20 header: total length exactly the MTU.
	frame := ipv4Frame(t, false, false, 1480)
	v.Send(packet.FromBytes(frame))

	sent := ops.sentFrames()
	require.Len(t, sent, 1)
	assert.Equal(t, frame, sent[0])
}

func TestSendOneOverMTUFragments(t *testing.T) {
	ops := &fakeOps{typ: TypeNetdev, mtu: 1500}
	v := newSendVport(t, ops)

	frame := ipv4Frame(t, false, false, 1481)
	v.Send(packet.FromBytes(frame))

	frags := decodeFrags(t, ops.sentFrames(), false, 0)
	require.Len(t, frags, 2)
	assert.Len(t, frags[0].payload, 1480)
	assert.Len(t, frags[1].payload, 1)
	assert.Equal(t, payloadPattern(1481), reassemble(t, frags))
}

func TestSendDFOversizedPassesThrough(t *testing.T) {
	ops := &fakeOps{typ: TypeNetdev, mtu: 1500}
	v := newSendVport(t, ops)

	frame := ipv4Frame(t, false, true, 3000)
	v.Send(packet.FromBytes(frame))

	sent := ops.sentFrames()
	require.Len(t, sent, 1)
	assert.Equal(t, frame, sent[0], "DF datagrams are never fragmented here")
}

func TestSendFragmentsOversized(t *testing.T) {
	ops := &fakeOps{typ: TypeNetdev, mtu: 1500}
	v := newSendVport(t, ops)

	// 2980 payload: total length 3000. The 1480-byte fragment unit
	// splits it 1480/1480/20.
	frame := ipv4Frame(t, false, false, 2980)
	n := v.Send(packet.FromBytes(frame))

	frags := decodeFrags(t, ops.sentFrames(), false, 0)
	require.Len(t, frags, 3)
	assert.Len(t, frags[0].payload, 1480)
	assert.Len(t, frags[1].payload, 1480)
	assert.Len(t, frags[2].payload, 20)

	for _, f := range frags {
		assert.Equal(t, 0xbeef, f.hdr.ID, "all fragments share the datagram ID")
		assert.Equal(t, "192.168.1.1", f.hdr.Src.String())
		assert.Equal(t, "192.168.1.2", f.hdr.Dst.String())
		assert.Equal(t, 17, f.hdr.Protocol)
	}
	assert.Equal(t, payloadPattern(2980), reassemble(t, frags))

	// All fragments carry the original link addressing.
	for _, f := range ops.sentFrames() {
		assert.Equal(t, frame[:12], f[:12])
	}

	// Send's return value is the last fragment's transmit result.
	assert.Equal(t, packet.EthernetHeaderLen+20+20, n)

	s := v.GetStats()
	assert.Equal(t, uint64(3), s.TxPackets)
	assert.Equal(t, uint64(2*1514+54), s.TxBytes)
}

func TestSendVLANOversizedRetagsFragments(t *testing.T) {
	ops := &fakeOps{typ: TypeNetdev, mtu: 1500}
	v := newSendVport(t, ops)

	frame := ipv4Frame(t, true, false, 2980)
	v.Send(packet.FromBytes(frame))

	frags := decodeFrags(t, ops.sentFrames(), true, 100)
	require.Len(t, frags, 3)
	assert.Equal(t, payloadPattern(2980), reassemble(t, frags))
}

func TestSendVLANDFOversizedPassesThrough(t *testing.T) {
	ops := &fakeOps{typ: TypeNetdev, mtu: 1500}
	v := newSendVport(t, ops)

	frame := ipv4Frame(t, true, true, 3000)
	v.Send(packet.FromBytes(frame))

	sent := ops.sentFrames()
	require.Len(t, sent, 1)
	assert.Equal(t, frame, sent[0])
}

func TestSendFragSizeOverride(t *testing.T) {
	ops := &fakeOps{typ: TypeNetdev, mtu: 1500}
	v := newSendVport(t, ops)

	// A 1000-byte datagram fits the MTU, but the per-packet ceiling of
	// 600 still forces fragmentation: unit (600-20)&^7 = 576.
	pkt := packet.FromBytes(ipv4Frame(t, false, false, 980))
	pkt.FragMaxSize = 600
	v.Send(pkt)

	frags := decodeFrags(t, ops.sentFrames(), false, 0)
	require.Len(t, frags, 2)
	assert.Len(t, frags[0].payload, 576)
	assert.Len(t, frags[1].payload, 404)
	assert.Equal(t, payloadPattern(980), reassemble(t, frags))
}

func TestSendFragSizeOverrideVLAN(t *testing.T) {
	ops := &fakeOps{typ: TypeNetdev, mtu: 1500}
	v := newSendVport(t, ops)

	// The tag is still on the wire when the override forces
	// fragmentation; it must come off before the split and reappear on
	// every fragment, with a well-formed IPv4 header behind it.
	pkt := packet.FromBytes(ipv4Frame(t, true, false, 980))
	pkt.FragMaxSize = 600
	v.Send(pkt)

	frags := decodeFrags(t, ops.sentFrames(), true, 100)
	require.Len(t, frags, 2)
	for _, f := range frags {
		assert.Equal(t, 4, f.hdr.Version)
		assert.Equal(t, 0xbeef, f.hdr.ID)
	}
	assert.Len(t, frags[0].payload, 576)
	assert.Len(t, frags[1].payload, 404)
	assert.Equal(t, payloadPattern(980), reassemble(t, frags))
}

func TestSendTinyCeilingDrops(t *testing.T) {
	ops := &fakeOps{typ: TypeNetdev, mtu: 1500}
	v := newSendVport(t, ops)

	// Ceiling no larger than the IP header leaves no room for payload.
	pkt := packet.FromBytes(ipv4Frame(t, false, false, 980))
	pkt.FragMaxSize = 20
	n := v.Send(pkt)

	assert.Zero(t, n)
	assert.Empty(t, ops.sentFrames())
	assert.Equal(t, uint64(1), v.GetStats().TxDropped)
}

func TestSendNonIPPassesThrough(t *testing.T) {
	ops := &fakeOps{typ: TypeNetdev, mtu: 100}
	v := newSendVport(t, ops)

	frame := make([]byte, 300)
	frame[12] = 0x08
	frame[13] = 0x06 // ARP
	v.Send(packet.FromBytes(frame))

	sent := ops.sentFrames()
	require.Len(t, sent, 1)
	assert.Equal(t, frame, sent[0])
}

func TestSendBackendError(t *testing.T) {
	ops := &fakeOps{
		typ:        TypeNetdev,
		mtu:        1500,
		sendResult: func(*packet.Buffer) int { return -1 },
	}
	v := newSendVport(t, ops)

	pkt := packet.FromBytes(ipv4Frame(t, false, false, 100))
	n := v.Send(pkt)

	assert.Equal(t, -1, n)
	s := v.GetStats()
	assert.Equal(t, uint64(1), s.TxErrors)
	assert.Zero(t, s.TxPackets)
	assert.Panics(t, func() { pkt.Release() }, "a failed transmit disposes of the buffer")
}

func TestSendBackendDrop(t *testing.T) {
	ops := &fakeOps{
		typ:        TypeNetdev,
		mtu:        1500,
		sendResult: func(*packet.Buffer) int { return 0 },
	}
	v := newSendVport(t, ops)

	pkt := packet.FromBytes(ipv4Frame(t, false, false, 100))
	n := v.Send(pkt)

	assert.Zero(t, n)
	s := v.GetStats()
	assert.Equal(t, uint64(1), s.TxDropped)
	assert.Zero(t, s.TxErrors)
	// A zero result means the backend did not take the buffer; it is
	// still ours to dispose of.
	assert.NotPanics(t, func() { pkt.Release() })
}

func TestSendFragmentsCopyTunnelMetadata(t *testing.T) {
	ops := &fakeOps{typ: TypeNetdev, mtu: 1500}
	var tunnels []*packet.TunnelKey
	ops.sendResult = func(p *packet.Buffer) int {
		tunnels = append(tunnels, p.Tunnel)
		n := p.Len()
		p.Release()
		return n
	}
	v := newSendVport(t, ops)

	tun := &packet.TunnelKey{ID: 42}
	pkt := packet.FromBytes(ipv4Frame(t, false, false, 2980))
	pkt.Tunnel = tun
	v.Send(pkt)

	require.Len(t, tunnels, 3)
	for _, got := range tunnels {
		assert.Same(t, tun, got)
	}
}
