package vport

import (
	"log/slog"

	"github.com/google/gopacket/layers"

	"firestige.xyz/vswitch/pkg/packet"
)

// Send transmits a packet out v, fragmenting when the frame is IPv4 and
// exceeds the egress ceiling. Requires the management lock or a
// read-side guard. Returns the bytes sent by the final transmit, zero
// for a drop, negative on backend failure; the datapath core reads the
// value for accounting only.
//
// The ceiling comes from the device MTU for device-backed and internal
// ports, or from the packet's FragMaxSize override, which wins when
// set. Fragmentation has to happen here, after port selection, because
// both are properties of the chosen egress.
func (v *Vport) Send(pkt *packet.Buffer) int {
	mtu := 0
	if t := v.ops.Type(); t == TypeNetdev || t == TypeInternal {
		if dev, ok := v.priv.(Device); ok {
			mtu = dev.MTU()
		}
	}

	if pkt.FragMaxSize > 0 {
		// The fragmenter works on an untagged layout; a tag still on
		// the wire comes off here and goes back on each fragment.
		if pkt.EtherType() == layers.EthernetTypeDot1Q &&
			pkt.VLANInnerType() == layers.EthernetTypeIPv4 {
			if !pkt.UntagVLAN() {
				pkt.Release()
				return 0
			}
		}
		return v.fragment(pkt, int(pkt.FragMaxSize), mtu)
	}
	if mtu == 0 {
		return v.sendOne(pkt)
	}

	switch pkt.EtherType() {
	case layers.EthernetTypeIPv4:
		h := pkt.IPv4Header()
		if h == nil || h.DontFragment() {
			break
		}
		if int(h.TotalLen()) > mtu {
			return v.fragment(pkt, 0, mtu)
		}
	case layers.EthernetTypeDot1Q:
		if pkt.VLANInnerType() != layers.EthernetTypeIPv4 {
			break
		}
		h := pkt.IPv4Header()
		if h == nil || h.DontFragment() {
			break
		}
		if int(h.TotalLen()) > mtu {
			// Fragment headers are computed against the inner IPv4
			// header, so the tag comes off first and goes back on each
			// fragment.
			if !pkt.UntagVLAN() {
				pkt.Release()
				return 0
			}
			return v.fragment(pkt, 0, mtu)
		}
	}
	return v.sendOne(pkt)
}

// sendOne hands one frame to the backend and accounts for the result:
// positive results feed the tx counters, negative ones record a tx
// error and dispose of the buffer, zero records a tx drop and leaves
// the buffer alone (the backend did not take it and nothing more
// happens to it here).
func (v *Vport) sendOne(pkt *packet.Buffer) int {
	sent := v.ops.Send(v, pkt)
	if sent > 0 {
		c := v.shard()
		c.txPackets.Add(1)
		c.txBytes.Add(uint64(sent))
	} else if sent < 0 {
		v.RecordError(TxError)
		pkt.Release()
	} else {
		v.RecordError(TxDropped)
	}
	return sent
}

// fragment splits an IPv4 frame into fragments no larger than the
// ceiling (the FragMaxSize override when positive, the MTU otherwise)
// and sends each through sendOne. Fragment payload sizes are multiples
// of 8 bytes, as the fragment-offset field requires, except for the
// final piece. A VLAN tag stripped from the original is reapplied to
// every fragment. The original buffer is released exactly once; the
// return value is the final fragment's send result.
func (v *Vport) fragment(pkt *packet.Buffer, fragMaxSize, mtu int) int {
	h := pkt.IPv4Header()
	if h == nil {
		v.RecordError(TxDropped)
		pkt.Release()
		return 0
	}
	ipHlen := h.HeaderLen()
	flag := h.FragmentField() & packet.IPv4DontFragment
	left := int(h.TotalLen()) - ipHlen

	ceiling := mtu
	if fragMaxSize > 0 {
		ceiling = fragMaxSize
	}
	fragUnit := (ceiling - ipHlen) &^ 7
	if fragUnit <= 0 {
		v.RecordError(TxDropped)
		pkt.Release()
		return 0
	}

	slog.Info("fragmenting packet",
		"dp", v.dp.Name(),
		"port", v.Name(),
		"port_no", v.portNo,
		"src", h.Src().String(),
		"dst", h.Dst().String(),
		"proto", h.Protocol(),
		"tot_len", h.TotalLen(),
		"frag_max_size", fragMaxSize,
		"mtu", mtu,
	)

	orig := pkt.Bytes()
	fragOff := 0
	sent := 0
	for left > 0 {
		fragLen := fragUnit
		if left > fragUnit {
			flag |= packet.IPv4MoreFragments
		} else {
			flag &^= packet.IPv4MoreFragments
			fragLen = left
		}

		frag := packet.NewBuffer(packet.EthernetHeaderLen + packet.VLANHeaderLen + ipHlen + fragLen)
		copy(frag.Push(fragLen), orig[packet.EthernetHeaderLen+ipHlen+fragOff:])
		fh := packet.IPv4Header(frag.Push(ipHlen))
		copy(fh, orig[packet.EthernetHeaderLen:])
		fh.SetTotalLen(uint16(ipHlen + fragLen))
		fh.SetFragmentField(uint16(fragOff>>3)&packet.IPv4OffsetMask | flag)
		fh.UpdateChecksum()
		copy(frag.Push(packet.EthernetHeaderLen), orig)

		frag.Tunnel = pkt.Tunnel
		if pkt.VLAN != nil {
			frag.TagVLAN(*pkt.VLAN)
		}

		sent = v.sendOne(frag)

		left -= fragLen
		fragOff += fragLen
	}

	pkt.Release()
	return sent
}
