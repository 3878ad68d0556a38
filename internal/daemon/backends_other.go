//go:build !linux

package daemon

import (
	"firestige.xyz/vswitch/internal/vswitch/vport"
	"firestige.xyz/vswitch/internal/vswitch/vport/internaldev"
)

// backendOps is the fixed list of compiled-in backends. Device-backed
// ports need AF_PACKET and are linux-only.
func backendOps() []vport.Ops {
	return []vport.Ops{
		internaldev.Ops,
	}
}
