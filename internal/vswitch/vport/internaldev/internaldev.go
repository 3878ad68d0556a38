// Package internaldev implements the internal (loopback) vport backend:
// a port backed by an in-process device rather than a host interface.
// Frames sent out the port land on the device's egress queue for a
// local consumer; frames a consumer injects into the device come back
// up through the vport receive path.
package internaldev

import (
	"fmt"
	"strconv"
	"sync"

	"firestige.xyz/vswitch/internal/vswitch/grace"
	"firestige.xyz/vswitch/internal/vswitch/vport"
	"firestige.xyz/vswitch/pkg/nlattr"
	"firestige.xyz/vswitch/pkg/packet"
)

const (
	defaultMTU      = 1500
	egressQueueSize = 256
)

// Attribute types GetOptions reports.
const (
	attrMTU uint16 = 1
)

// Device is the in-process device behind an internal vport.
type Device struct {
	name string

	mu     sync.Mutex
	mtu    int
	closed bool

	egress    chan []byte
	closeOnce sync.Once

	dom *grace.Domain
}

// MTU returns the device MTU; transmits above it are fragmented by the
// generic layer.
func (d *Device) MTU() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mtu
}

func (d *Device) setMTU(mtu int) {
	d.mu.Lock()
	d.mtu = mtu
	d.mu.Unlock()
}

// Egress exposes the device's outbound queue: frames the switch
// transmitted out this port, ready for a local consumer.
func (d *Device) Egress() <-chan []byte { return d.egress }

// Inject delivers a frame from the local consumer into the switch, as
// if it arrived on the device. It runs the receive path under a
// read-side guard, as that path requires.
func (d *Device) Inject(v *vport.Vport, frame []byte) {
	g := d.dom.ReadLock()
	defer g.Unlock()
	v.Receive(packet.FromBytes(frame), nil)
}

// close marks the device down and closes the egress queue. The flag is
// flipped under the mutex queueing sends hold across their channel
// send, so no send can race the close itself.
func (d *Device) close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.egress)
	})
}

type ops struct{}

// Ops is the internal backend's capability table.
var Ops vport.Ops = ops{}

func (ops) Type() vport.PortType { return vport.TypeInternal }

func (ops) Create(parms *vport.Parms) (*vport.Vport, error) {
	mtu := defaultMTU
	if s, ok := parms.Options["mtu"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("internaldev: invalid mtu option %q", s)
		}
		mtu = n
	}
	d := &Device{
		name:   parms.Name,
		mtu:    mtu,
		egress: make(chan []byte, egressQueueSize),
		dom:    parms.Grace,
	}
	return vport.Alloc(ops{}, parms, d), nil
}

func (ops) Destroy(v *vport.Vport) {
	v.Priv().(*Device).close()
}

func (ops) Name(v *vport.Vport) string {
	return v.Priv().(*Device).name
}

// Send queues the frame on the device egress. A full queue, or a
// device already destroyed while a reader still holds the vport through
// its guard, drops the frame: the buffer is left untouched and zero is
// returned, as the generic layer's contract requires.
func (ops) Send(v *vport.Vport, pkt *packet.Buffer) int {
	d := v.Priv().(*Device)
	frame := append([]byte(nil), pkt.Bytes()...)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0
	}
	select {
	case d.egress <- frame:
		n := pkt.Len()
		pkt.Release()
		return n
	default:
		return 0
	}
}

func (ops) SetOptions(v *vport.Vport, opts map[string]string) error {
	d := v.Priv().(*Device)
	if s, ok := opts["mtu"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return fmt.Errorf("internaldev: invalid mtu option %q", s)
		}
		d.setMTU(n)
	}
	return nil
}

func (ops) GetOptions(v *vport.Vport, w *nlattr.Writer) error {
	return w.PutUint32(attrMTU, uint32(v.Priv().(*Device).MTU()))
}
