//go:build linux

package netdev

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// compileFilter turns a pcap filter expression into the raw BPF program
// the RX ring socket accepts.
func compileFilter(expr string) ([]bpf.RawInstruction, error) {
	prog, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, frameSize, expr)
	if err != nil {
		return nil, fmt.Errorf("netdev: compile filter %q: %w", expr, err)
	}
	raw := make([]bpf.RawInstruction, len(prog))
	for i, ins := range prog {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}
