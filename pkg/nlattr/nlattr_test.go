package nlattr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndParseRoundTrip(t *testing.T) {
	w := NewWriter(256)
	require.NoError(t, w.PutUint32(1, 1500))
	require.NoError(t, w.PutString(2, "eth0"))
	require.NoError(t, w.PutBytes(3, []byte{0xaa}))

	attrs, err := Parse(w.Bytes())
	require.NoError(t, err)
	require.Len(t, attrs, 3)

	assert.Equal(t, uint16(1), attrs[0].Type)
	assert.Equal(t, []byte{0xdc, 0x05, 0, 0}, attrs[0].Payload)
	assert.Equal(t, uint16(2), attrs[1].Type)
	assert.Equal(t, "eth0\x00", string(attrs[1].Payload))
	assert.Equal(t, []byte{0xaa}, attrs[2].Payload)
}

func TestAlignment(t *testing.T) {
	w := NewWriter(64)
	require.NoError(t, w.PutBytes(1, []byte{1}))
	assert.Equal(t, 8, w.Len(), "5-byte attribute must pad to 8")
	require.NoError(t, w.PutBytes(2, []byte{1, 2, 3, 4}))
	assert.Equal(t, 16, w.Len())
}

func TestNesting(t *testing.T) {
	w := NewWriter(256)
	n, err := w.NestStart(4)
	require.NoError(t, err)
	require.NoError(t, w.PutUint32(1, 9000))
	w.NestEnd(n)

	attrs, err := Parse(w.Bytes())
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, uint16(4), attrs[0].Type)

	inner, err := Parse(attrs[0].Payload)
	require.NoError(t, err)
	require.Len(t, inner, 1)
	assert.Equal(t, uint16(1), inner[0].Type)
}

func TestNestCancelRestoresWriter(t *testing.T) {
	w := NewWriter(256)
	require.NoError(t, w.PutUint32(1, 7))
	before := append([]byte(nil), w.Bytes()...)

	n, err := w.NestStart(4)
	require.NoError(t, err)
	require.NoError(t, w.PutString(2, "partial"))
	w.NestCancel(n)

	assert.Equal(t, before, w.Bytes())
}

func TestErrMsgSizeLeavesWriterUnmodified(t *testing.T) {
	w := NewWriter(8)
	require.NoError(t, w.PutUint32(1, 1))
	before := append([]byte(nil), w.Bytes()...)

	err := w.PutString(2, "does not fit")
	require.ErrorIs(t, err, ErrMsgSize)
	assert.Equal(t, before, w.Bytes())

	_, err = w.NestStart(4)
	require.ErrorIs(t, err, ErrMsgSize)
	assert.Equal(t, before, w.Bytes())
}

func TestParseRejectsTruncated(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	assert.Error(t, err)

	_, err = Parse([]byte{2, 0, 1, 0}) // length shorter than header
	assert.Error(t, err)
}
