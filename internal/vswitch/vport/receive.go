package vport

import "firestige.xyz/vswitch/pkg/packet"

// Receive passes a packet received by the backend up to the owning
// datapath for processing. The caller must hold a read-side guard.
// tun carries the tunnel header for encapsulated traffic, nil
// otherwise; it is attached to the packet's control block before the
// datapath sees it. Downstream processing failures are the datapath
// core's to account for.
func (v *Vport) Receive(pkt *packet.Buffer, tun *packet.TunnelKey) {
	c := v.shard()
	c.rxPackets.Add(1)
	c.rxBytes.Add(uint64(pkt.Len()))

	pkt.Tunnel = tun
	v.dp.ProcessReceived(v, pkt)
}
