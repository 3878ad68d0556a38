package packet

import (
	"encoding/binary"
	"net/netip"
)

const ipv4MinHeaderLen = 20

// Fragment-field bits of the IPv4 flags/offset halfword.
const (
	IPv4DontFragment  = 0x4000
	IPv4MoreFragments = 0x2000
	IPv4OffsetMask    = 0x1fff
)

// IPv4Header is a view over an IPv4 header in wire format. The slice
// may extend past the header into the payload; accessors only touch the
// header bytes.
type IPv4Header []byte

// HeaderLen returns the header length in bytes, from the IHL field.
func (h IPv4Header) HeaderLen() int { return int(h[0]&0x0f) << 2 }

// TotalLen returns the datagram total length field.
func (h IPv4Header) TotalLen() uint16 { return binary.BigEndian.Uint16(h[2:4]) }

// SetTotalLen rewrites the total length field.
func (h IPv4Header) SetTotalLen(v uint16) { binary.BigEndian.PutUint16(h[2:4], v) }

// FragmentField returns the raw flags/fragment-offset halfword.
func (h IPv4Header) FragmentField() uint16 { return binary.BigEndian.Uint16(h[6:8]) }

// SetFragmentField rewrites the flags/fragment-offset halfword.
func (h IPv4Header) SetFragmentField(v uint16) { binary.BigEndian.PutUint16(h[6:8], v) }

// DontFragment reports whether the DF flag is set.
func (h IPv4Header) DontFragment() bool { return h.FragmentField()&IPv4DontFragment != 0 }

// MoreFragments reports whether the MF flag is set.
func (h IPv4Header) MoreFragments() bool { return h.FragmentField()&IPv4MoreFragments != 0 }

// Protocol returns the transport protocol number.
func (h IPv4Header) Protocol() uint8 { return h[9] }

// Src returns the source address.
func (h IPv4Header) Src() netip.Addr { return netip.AddrFrom4([4]byte(h[12:16])) }

// Dst returns the destination address.
func (h IPv4Header) Dst() netip.Addr { return netip.AddrFrom4([4]byte(h[16:20])) }

// UpdateChecksum recomputes the header checksum over the current header
// bytes, the equivalent of ip_send_check after header edits.
func (h IPv4Header) UpdateChecksum() {
	binary.BigEndian.PutUint16(h[10:12], 0)
	binary.BigEndian.PutUint16(h[10:12], Checksum(h[:h.HeaderLen()]))
}

// Valid reports whether the header checksum verifies: the ones'
// complement sum of the header, checksum field included, must be zero.
func (h IPv4Header) Valid() bool {
	return foldChecksum(h[:h.HeaderLen()]) == 0xffff
}

// Checksum computes the RFC 791 ones' complement checksum of b, which
// must not include the checksum field (or include it as zero).
func Checksum(b []byte) uint16 {
	return ^foldChecksum(b)
}

func foldChecksum(b []byte) uint16 {
	var sum uint32
	for len(b) >= 2 {
		sum += uint32(binary.BigEndian.Uint16(b[:2]))
		b = b[2:]
	}
	if len(b) == 1 {
		sum += uint32(b[0]) << 8
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(sum)
}
