package vport

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"firestige.xyz/vswitch/internal/vswitch/grace"
	"firestige.xyz/vswitch/pkg/packet"
)

// fakeDatapath records packets handed to the ingress entry point.
type fakeDatapath struct {
	name string
	ns   *Netns

	mu       sync.Mutex
	received []*packet.Buffer
}

func newFakeDatapath(name string, ns *Netns) *fakeDatapath {
	return &fakeDatapath{name: name, ns: ns}
}

func (dp *fakeDatapath) Name() string  { return dp.name }
func (dp *fakeDatapath) Netns() *Netns { return dp.ns }

func (dp *fakeDatapath) ProcessReceived(v *Vport, pkt *packet.Buffer) {
	dp.mu.Lock()
	dp.received = append(dp.received, pkt)
	dp.mu.Unlock()
}

// fakePort is the private data of a fakeOps vport.
type fakePort struct {
	name string
	mtu  int
}

func (p *fakePort) MTU() int { return p.mtu }

// fakeOps is a loopback-style backend for tests. sendResult, when set,
// overrides the returned byte count; frames passed to Send are recorded.
type fakeOps struct {
	typ        PortType
	mtu        int
	createErr  error
	sendResult func(pkt *packet.Buffer) int

	mu        sync.Mutex
	sent      [][]byte
	destroyed int
}

func (o *fakeOps) Type() PortType { return o.typ }

func (o *fakeOps) Create(parms *Parms) (*Vport, error) {
	if o.createErr != nil {
		return nil, o.createErr
	}
	return Alloc(o, parms, &fakePort{name: parms.Name, mtu: o.mtu}), nil
}

func (o *fakeOps) Destroy(v *Vport) {
	o.mu.Lock()
	o.destroyed++
	o.mu.Unlock()
}

func (o *fakeOps) Name(v *Vport) string { return v.Priv().(*fakePort).name }

func (o *fakeOps) Send(v *Vport, pkt *packet.Buffer) int {
	if o.sendResult != nil {
		return o.sendResult(pkt)
	}
	o.mu.Lock()
	o.sent = append(o.sent, append([]byte(nil), pkt.Bytes()...))
	o.mu.Unlock()
	n := pkt.Len()
	pkt.Release()
	return n
}

func (o *fakeOps) sentFrames() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]byte(nil), o.sent...)
}

// newTestVport builds a standalone attached-to-nothing vport over a
// fakeOps backend.
func newTestVport(dp Datapath, ops *fakeOps, name string, portNo uint32) *Vport {
	v, err := ops.Create(&Parms{
		Name:     name,
		Type:     ops.typ,
		Datapath: dp,
		PortNo:   portNo,
	})
	if err != nil {
		panic(fmt.Sprintf("fakeOps.Create: %v", err))
	}
	return v
}

// newTestRegistry builds a registry over a fresh grace domain with the
// given backends.
func newTestRegistry(ops ...Ops) *Registry {
	return NewRegistry(grace.NewDomain(), ops...)
}

// addPort attaches a port under the management lock.
func addPort(t *testing.T, r *Registry, dp Datapath, typ PortType, name string, portNo uint32) *Vport {
	t.Helper()
	r.Lock()
	defer r.Unlock()
	v, err := r.Add(&Parms{Name: name, Type: typ, Datapath: dp, PortNo: portNo})
	require.NoError(t, err)
	return v
}

// delPort detaches a port under the management lock.
func delPort(r *Registry, v *Vport) {
	r.Lock()
	r.Del(v)
	r.Unlock()
	r.DeferredFree(v)
}

// ipv4Frame builds an Ethernet[/802.1Q]/IPv4 frame carrying payloadLen
// payload bytes with a recognizable pattern.
func ipv4Frame(t *testing.T, vlan, df bool, payloadLen int) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       []byte{0x02, 0, 0, 0, 0, 1},
		DstMAC:       []byte{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       0xbeef,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    []byte{192, 168, 1, 1},
		DstIP:    []byte{192, 168, 1, 2},
	}
	if df {
		ip.Flags = layers.IPv4DontFragment
	}
	payload := make([]byte, payloadLen)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	var err error
	if vlan {
		eth.EthernetType = layers.EthernetTypeDot1Q
		dot1q := &layers.Dot1Q{VLANIdentifier: 100, Type: layers.EthernetTypeIPv4}
		err = gopacket.SerializeLayers(buf, opts, eth, dot1q, ip, gopacket.Payload(payload))
	} else {
		err = gopacket.SerializeLayers(buf, opts, eth, ip, gopacket.Payload(payload))
	}
	require.NoError(t, err)
	return append([]byte(nil), buf.Bytes()...)
}
