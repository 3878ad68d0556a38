package packet

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"
)

// EtherType returns the outer EtherType of the frame, or zero if the
// frame is too short to carry an Ethernet header.
func (b *Buffer) EtherType() layers.EthernetType {
	f := b.Bytes()
	if len(f) < EthernetHeaderLen {
		return 0
	}
	return layers.EthernetType(binary.BigEndian.Uint16(f[12:14]))
}

// VLANInnerType returns the EtherType encapsulated by an 802.1Q tag.
// Only meaningful when EtherType reports Dot1Q.
func (b *Buffer) VLANInnerType() layers.EthernetType {
	f := b.Bytes()
	if len(f) < EthernetHeaderLen+VLANHeaderLen {
		return 0
	}
	return layers.EthernetType(binary.BigEndian.Uint16(f[16:18]))
}

// UntagVLAN strips the 802.1Q tag from the frame in place and records
// it in b.VLAN for later reapplication. The destination and source MAC
// addresses slide over the tag, exactly undoing what TagVLAN does.
// Returns false if the frame carries no tag.
func (b *Buffer) UntagVLAN() bool {
	f := b.Bytes()
	if b.EtherType() != layers.EthernetTypeDot1Q ||
		len(f) < EthernetHeaderLen+VLANHeaderLen {
		return false
	}
	tci := binary.BigEndian.Uint16(f[14:16])
	copy(f[VLANHeaderLen:VLANHeaderLen+12], f[:12])
	b.Pull(VLANHeaderLen)
	b.VLAN = &VLANTag{Proto: layers.EthernetTypeDot1Q, TCI: tci}
	return true
}

// TagVLAN inserts an 802.1Q tag after the MAC addresses, pushing the
// addresses forward into headroom.
func (b *Buffer) TagVLAN(tag VLANTag) {
	inner := b.EtherType()
	b.Push(VLANHeaderLen)
	f := b.Bytes()
	copy(f[:12], f[VLANHeaderLen:VLANHeaderLen+12])
	binary.BigEndian.PutUint16(f[12:14], uint16(tag.Proto))
	binary.BigEndian.PutUint16(f[14:16], tag.TCI)
	binary.BigEndian.PutUint16(f[16:18], uint16(inner))
}

// NetworkHeader returns the bytes after the Ethernet header, accounting
// for a single 802.1Q tag when present.
func (b *Buffer) NetworkHeader() []byte {
	f := b.Bytes()
	hlen := EthernetHeaderLen
	if b.EtherType() == layers.EthernetTypeDot1Q {
		hlen += VLANHeaderLen
	}
	if len(f) < hlen {
		return nil
	}
	return f[hlen:]
}

// IPv4Header returns the frame's IPv4 header (and trailing payload) or
// nil when the frame does not carry plain or VLAN-tagged IPv4.
func (b *Buffer) IPv4Header() IPv4Header {
	switch b.EtherType() {
	case layers.EthernetTypeIPv4:
	case layers.EthernetTypeDot1Q:
		if b.VLANInnerType() != layers.EthernetTypeIPv4 {
			return nil
		}
	default:
		return nil
	}
	h := b.NetworkHeader()
	if len(h) < ipv4MinHeaderLen {
		return nil
	}
	return IPv4Header(h)
}
