//go:build linux

package daemon

import (
	"firestige.xyz/vswitch/internal/vswitch/vport"
	"firestige.xyz/vswitch/internal/vswitch/vport/internaldev"
	"firestige.xyz/vswitch/internal/vswitch/vport/netdev"
)

// backendOps is the fixed list of compiled-in backends.
func backendOps() []vport.Ops {
	return []vport.Ops{
		netdev.Ops,
		internaldev.Ops,
	}
}
