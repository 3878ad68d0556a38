//go:build linux

// Package netdev implements the device-backed vport backend: a port
// bound to a host network interface through an AF_PACKET socket. The
// RX ring comes from gopacket's afpacket TPacket; transmit goes through
// a bound raw socket.
package netdev

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/sys/unix"

	"firestige.xyz/vswitch/internal/vswitch/grace"
	"firestige.xyz/vswitch/internal/vswitch/vport"
	"firestige.xyz/vswitch/pkg/nlattr"
	"firestige.xyz/vswitch/pkg/packet"
)

// Attribute types GetOptions reports.
const (
	attrIfName uint16 = 1
	attrMTU    uint16 = 2
	attrFilter uint16 = 3
)

const (
	frameSize = 4096
	blockSize = frameSize * 128
	numBlocks = 128
)

type device struct {
	name    string
	ifindex int
	mtu     int

	tp   *afpacket.TPacket
	txFD int

	mu     sync.Mutex
	filter string

	stop    chan struct{}
	pumpWG  sync.WaitGroup
	destroy sync.Once
}

// MTU returns the interface MTU read at creation.
func (d *device) MTU() int { return d.mtu }

func htons(v uint16) uint16 { return v<<8 | v>>8 }

type ops struct{}

// Ops is the netdev backend's capability table.
var Ops vport.Ops = ops{}

func (ops) Type() vport.PortType { return vport.TypeNetdev }

func (ops) Create(parms *vport.Parms) (*vport.Vport, error) {
	iface, err := net.InterfaceByName(parms.Name)
	if err != nil {
		return nil, fmt.Errorf("netdev: interface %s: %w", parms.Name, err)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(iface.Name),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(100*time.Millisecond),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("netdev: rx ring on %s: %w", iface.Name, err)
	}

	filter := parms.Options["filter"]
	if filter != "" {
		prog, err := compileFilter(filter)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(prog); err != nil {
			tp.Close()
			return nil, fmt.Errorf("netdev: attach filter on %s: %w", iface.Name, err)
		}
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		tp.Close()
		return nil, fmt.Errorf("netdev: tx socket on %s: %w", iface.Name, err)
	}
	sll := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, sll); err != nil {
		tp.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("netdev: bind tx socket on %s: %w", iface.Name, err)
	}

	d := &device{
		name:    iface.Name,
		ifindex: iface.Index,
		mtu:     iface.MTU,
		tp:      tp,
		txFD:    fd,
		filter:  filter,
		stop:    make(chan struct{}),
	}
	v := vport.Alloc(ops{}, parms, d)

	d.pumpWG.Add(1)
	go d.pump(v, parms.Grace)

	return v, nil
}

// pump moves frames from the RX ring into the receive path, holding a
// read-side guard across each delivery.
func (d *device) pump(v *vport.Vport, dom *grace.Domain) {
	defer d.pumpWG.Done()
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		data, _, err := d.tp.ZeroCopyReadPacketData()
		if err != nil {
			if err == afpacket.ErrTimeout {
				continue
			}
			return
		}
		g := dom.ReadLock()
		v.Receive(packet.FromBytes(data), nil)
		g.Unlock()
	}
}

func (ops) Destroy(v *vport.Vport) {
	d := v.Priv().(*device)
	d.destroy.Do(func() {
		close(d.stop)
		d.tp.Close()
		d.pumpWG.Wait()
		unix.Close(d.txFD)
	})
}

func (ops) Name(v *vport.Vport) string {
	return v.Priv().(*device).name
}

// Send writes the frame to the bound interface. Transmit failures are
// negative; the buffer is left for the generic layer to dispose of.
func (ops) Send(v *vport.Vport, pkt *packet.Buffer) int {
	d := v.Priv().(*device)
	n, err := unix.Write(d.txFD, pkt.Bytes())
	if err != nil || n <= 0 {
		return -1
	}
	pkt.Release()
	return n
}

// SetOptions swaps the capture filter on the live RX ring.
func (ops) SetOptions(v *vport.Vport, opts map[string]string) error {
	d := v.Priv().(*device)
	expr, ok := opts["filter"]
	if !ok {
		return nil
	}
	prog, err := compileFilter(expr)
	if err != nil {
		return err
	}
	if err := d.tp.SetBPF(prog); err != nil {
		return fmt.Errorf("netdev: attach filter on %s: %w", d.name, err)
	}
	d.mu.Lock()
	d.filter = expr
	d.mu.Unlock()
	return nil
}

func (ops) GetOptions(v *vport.Vport, w *nlattr.Writer) error {
	d := v.Priv().(*device)
	if err := w.PutString(attrIfName, d.name); err != nil {
		return err
	}
	if err := w.PutUint32(attrMTU, uint32(d.mtu)); err != nil {
		return err
	}
	d.mu.Lock()
	filter := d.filter
	d.mu.Unlock()
	if filter == "" {
		return nil
	}
	return w.PutString(attrFilter, filter)
}
