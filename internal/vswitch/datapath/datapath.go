// Package datapath implements the switch instance that owns a set of
// vports. The forwarding pipeline proper lives elsewhere; this type
// provides what the vport layer consumes (a namespace identity, a
// display name, and the ingress entry point) and delegates received
// packets to a pluggable handler.
package datapath

import (
	"log/slog"

	"firestige.xyz/vswitch/internal/vswitch/vport"
	"firestige.xyz/vswitch/pkg/packet"
)

// Handler processes a packet received on a vport. It takes ownership of
// the buffer.
type Handler func(v *vport.Vport, pkt *packet.Buffer)

// Datapath is one switch instance.
type Datapath struct {
	name    string
	ns      *vport.Netns
	handler Handler
}

// New builds a datapath in the given namespace. A nil handler drops
// received packets after a debug log line.
func New(name string, ns *vport.Netns, handler Handler) *Datapath {
	dp := &Datapath{name: name, ns: ns, handler: handler}
	if dp.handler == nil {
		dp.handler = dp.drop
	}
	return dp
}

// Name returns the switch's display name.
func (dp *Datapath) Name() string { return dp.name }

// Netns returns the switch's namespace identity.
func (dp *Datapath) Netns() *vport.Netns { return dp.ns }

// ProcessReceived is the ingress entry point the vport receive path
// hands packets to.
func (dp *Datapath) ProcessReceived(v *vport.Vport, pkt *packet.Buffer) {
	dp.handler(v, pkt)
}

func (dp *Datapath) drop(v *vport.Vport, pkt *packet.Buffer) {
	slog.Debug("no ingress handler, dropping packet",
		"dp", dp.name, "port", v.Name(), "len", pkt.Len())
	pkt.Release()
}
