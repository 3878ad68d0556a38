// Package nlattr implements the length-prefixed attribute encoding the
// control plane uses to describe port configuration: a stream of
// 4-byte-aligned attributes, each a 2-byte length (header included),
// a 2-byte type, and a payload. Attributes may nest; a nested attribute
// is one whose payload is itself an attribute stream.
package nlattr

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMsgSize reports that the writer's room is exhausted. The writer is
// left unmodified by the operation that failed, so the caller can retry
// with a larger limit.
var ErrMsgSize = errors.New("nlattr: insufficient room in message")

const headerLen = 4

// Writer appends attributes to a size-limited message buffer.
type Writer struct {
	buf   []byte
	limit int
}

// NewWriter returns a writer that holds at most limit bytes.
func NewWriter(limit int) *Writer {
	return &Writer{limit: limit}
}

// Bytes returns the encoded attribute stream.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the current encoded length.
func (w *Writer) Len() int { return len(w.buf) }

func align(n int) int { return (n + 3) &^ 3 }

func (w *Writer) put(typ uint16, payload []byte) error {
	total := align(headerLen + len(payload))
	if len(w.buf)+total > w.limit {
		return ErrMsgSize
	}
	var hdr [headerLen]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(headerLen+len(payload)))
	binary.LittleEndian.PutUint16(hdr[2:4], typ)
	w.buf = append(w.buf, hdr[:]...)
	w.buf = append(w.buf, payload...)
	for pad := total - headerLen - len(payload); pad > 0; pad-- {
		w.buf = append(w.buf, 0)
	}
	return nil
}

// PutBytes appends a raw attribute.
func (w *Writer) PutBytes(typ uint16, payload []byte) error {
	return w.put(typ, payload)
}

// PutString appends a NUL-terminated string attribute.
func (w *Writer) PutString(typ uint16, s string) error {
	return w.put(typ, append([]byte(s), 0))
}

// PutUint32 appends a 32-bit attribute.
func (w *Writer) PutUint32(typ uint16, v uint32) error {
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], v)
	return w.put(typ, p[:])
}

// Nest marks an in-progress nested attribute.
type Nest struct {
	start int
}

// NestStart opens a nested attribute. The caller appends the contents
// and then either NestEnd or NestCancel.
func (w *Writer) NestStart(typ uint16) (Nest, error) {
	start := len(w.buf)
	if err := w.put(typ, nil); err != nil {
		return Nest{}, err
	}
	return Nest{start: start}, nil
}

// NestEnd closes a nested attribute, fixing up its length to cover
// everything appended since NestStart.
func (w *Writer) NestEnd(n Nest) {
	length := len(w.buf) - n.start
	binary.LittleEndian.PutUint16(w.buf[n.start:n.start+2], uint16(length))
}

// NestCancel discards a nested attribute and everything appended inside
// it, restoring the writer to its state before NestStart.
func (w *Writer) NestCancel(n Nest) {
	w.buf = w.buf[:n.start]
}

// Attr is a decoded attribute.
type Attr struct {
	Type    uint16
	Payload []byte
}

// Parse decodes a flat attribute stream, as produced by Writer. Nested
// payloads can be fed back through Parse.
func Parse(b []byte) ([]Attr, error) {
	var attrs []Attr
	for len(b) > 0 {
		if len(b) < headerLen {
			return nil, fmt.Errorf("nlattr: truncated header (%d bytes left)", len(b))
		}
		length := int(binary.LittleEndian.Uint16(b[0:2]))
		typ := binary.LittleEndian.Uint16(b[2:4])
		if length < headerLen || length > len(b) {
			return nil, fmt.Errorf("nlattr: bad attribute length %d", length)
		}
		attrs = append(attrs, Attr{Type: typ, Payload: b[headerLen:length]})
		adv := align(length)
		if adv > len(b) {
			adv = len(b)
		}
		b = b[adv:]
	}
	return attrs, nil
}
