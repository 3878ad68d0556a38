// Package vport implements the virtual-port layer of the switch
// datapath: the registry of attached ports, the receive path into the
// datapath core, the transmit pipeline with MTU-aware IPv4
// fragmentation and VLAN handling, and per-port statistics.
package vport

import (
	"errors"
	"sync"
	"sync/atomic"

	"firestige.xyz/vswitch/internal/vswitch/grace"
	"firestige.xyz/vswitch/pkg/nlattr"
	"firestige.xyz/vswitch/pkg/packet"
)

// PortType identifies a backend implementation. The values follow the
// control-protocol port type numbering.
type PortType uint32

const (
	TypeUnspec PortType = iota
	TypeNetdev
	TypeInternal
	TypeGRE
	TypeVXLAN
)

func (t PortType) String() string {
	switch t {
	case TypeNetdev:
		return "netdev"
	case TypeInternal:
		return "internal"
	case TypeGRE:
		return "gre"
	case TypeVXLAN:
		return "vxlan"
	default:
		return "unspec"
	}
}

var (
	// ErrNotSupported reports that no compiled-in backend handles the
	// requested port type, or that the backend lacks the requested
	// optional operation.
	ErrNotSupported = errors.New("vport: not supported")
)

// Netns is an opaque network-namespace identity. Two datapaths share a
// namespace only if they hold the same *Netns.
type Netns struct {
	id   uint64
	name string
}

var netnsIDs atomic.Uint64

// NewNetns returns a fresh namespace identity.
func NewNetns(name string) *Netns {
	return &Netns{id: netnsIDs.Add(1), name: name}
}

// Name returns the namespace's display name.
func (ns *Netns) Name() string { return ns.name }

// Datapath is the owning switch instance, as seen from this layer: a
// namespace identity, a display name for diagnostics, and the ingress
// entry point the receive path hands packets to.
type Datapath interface {
	Name() string
	Netns() *Netns
	ProcessReceived(v *Vport, pkt *packet.Buffer)
}

// Parms carries the configuration for a new vport.
type Parms struct {
	Name     string
	Type     PortType
	Options  map[string]string
	Datapath Datapath
	PortNo   uint32
	UpcallID uint32

	// Grace is the reclamation domain backends must hold a read-side
	// guard from when injecting received packets. Filled in by
	// Registry.Add; callers leave it nil.
	Grace *grace.Domain
}

// Ops is the capability table a backend exposes. It is fixed for a
// vport's lifetime.
type Ops interface {
	// Type identifies which Parms.Type this backend serves.
	Type() PortType

	// Create allocates and initializes a vport of this backend, via
	// Alloc. Type-specific failures (device busy, bad configuration)
	// are returned as-is.
	Create(parms *Parms) (*Vport, error)

	// Destroy releases backend-owned resources. It runs synchronously
	// under the management lock, before deferred reclamation, and must
	// be safe to be the last backend operation on the vport.
	Destroy(v *Vport)

	// Name returns the backend-reported device name.
	Name(v *Vport) string

	// Send transmits the frame and returns the bytes sent, zero if the
	// backend dropped it, or a negative value on transmit failure.
	// On a zero or negative return the backend must not have disposed
	// of the buffer; the generic layer owns disposal on those paths.
	Send(v *Vport, pkt *packet.Buffer) int
}

// OptionSetter is implemented by backends that support reconfiguration.
type OptionSetter interface {
	SetOptions(v *Vport, opts map[string]string) error
}

// OptionReporter is implemented by backends that have configuration to
// describe. The backend appends its attributes to w.
type OptionReporter interface {
	GetOptions(v *Vport, w *nlattr.Writer) error
}

// Device is implemented by the private data of device-backed and
// internal ports; its MTU bounds unfragmented transmits.
type Device interface {
	MTU() int
}

// Vport is one attached logical port.
type Vport struct {
	dp       Datapath
	portNo   uint32
	upcallID uint32
	ops      Ops
	priv     any

	statsMu     sync.Mutex
	offsetStats Stats
	errStats    errorStats
	shards      *[statsShards]trafficCounters

	freed atomic.Bool
}

// Alloc builds a vport with zeroed statistics. priv is the
// backend-specific state; it lives exactly as long as the vport.
// Backends call this from Create.
func Alloc(ops Ops, parms *Parms, priv any) *Vport {
	return &Vport{
		dp:       parms.Datapath,
		portNo:   parms.PortNo,
		upcallID: parms.UpcallID,
		ops:      ops,
		priv:     priv,
		shards:   new([statsShards]trafficCounters),
	}
}

// Datapath returns the owning switch instance.
func (v *Vport) Datapath() Datapath { return v.dp }

// PortNo returns the caller-assigned port number, unique per datapath.
func (v *Vport) PortNo() uint32 { return v.portNo }

// UpcallID returns the destination for packets redirected to the
// control plane.
func (v *Vport) UpcallID() uint32 { return v.upcallID }

// Type returns the backend port type.
func (v *Vport) Type() PortType { return v.ops.Type() }

// Name returns the backend-reported device name.
func (v *Vport) Name() string { return v.ops.Name(v) }

// Priv returns the backend private data passed to Alloc.
func (v *Vport) Priv() any { return v.priv }

// SetOptions reconfigures the backend. Requires the management lock.
// Backends without the capability yield ErrNotSupported.
func (v *Vport) SetOptions(opts map[string]string) error {
	os, ok := v.ops.(OptionSetter)
	if !ok {
		return ErrNotSupported
	}
	return os.SetOptions(v, opts)
}

// AttrOptions is the attribute type GetOptions nests backend
// configuration under.
const AttrOptions uint16 = 4

// GetOptions appends the backend's configuration to w as a nested
// attribute. Backends without configuration append nothing. On error,
// including nlattr.ErrMsgSize when w is out of room, w is left as it
// was. Requires the management lock or a read-side guard.
func (v *Vport) GetOptions(w *nlattr.Writer) error {
	or, ok := v.ops.(OptionReporter)
	if !ok {
		return nil
	}
	nest, err := w.NestStart(AttrOptions)
	if err != nil {
		return err
	}
	if err := or.GetOptions(v, w); err != nil {
		w.NestCancel(nest)
		return err
	}
	w.NestEnd(nest)
	return nil
}

// free releases the vport's stat storage. Runs only through deferred
// reclamation, after the grace period.
func (v *Vport) free() {
	v.freed.Store(true)
	v.shards = nil
	v.priv = nil
}
