package ioutil2

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robbinfan/cloud-scdb/errs"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteBytes([]byte("hello")))
	require.NoError(t, w.WriteUint8(0xAB))
	require.NoError(t, w.WriteBool(true))
	require.NoError(t, w.WriteBool(false))
	require.NoError(t, w.WriteUint32(0xdeadbeef))
	require.NoError(t, w.WriteInt32(-42))
	require.NoError(t, w.WriteUint64(0x0123456789abcdef))
	require.NoError(t, w.WriteInt64(-9999999999))
	require.NoError(t, w.WriteVarint(300))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Err())
	require.EqualValues(t, buf.Len(), w.Offset())

	r := NewReader(&buf)
	got := make([]byte, 5)
	require.NoError(t, r.ReadBytes(got))
	require.Equal(t, "hello", string(got))

	u8, err := r.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xAB), u8)

	b1, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, b1)

	b2, err := r.ReadBool()
	require.NoError(t, err)
	require.False(t, b2)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), u32)

	i32, err := r.ReadInt32()
	require.NoError(t, err)
	require.Equal(t, int32(-42), i32)

	u64, err := r.ReadUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x0123456789abcdef), u64)

	i64, err := r.ReadInt64()
	require.NoError(t, err)
	require.Equal(t, int64(-9999999999), i64)

	vi, err := r.ReadVarint()
	require.NoError(t, err)
	require.Equal(t, uint64(300), vi)

	require.EqualValues(t, r.Offset(), w.Offset())
}

func TestWriterStickyError(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteUint8(1))

	w.fail(errs.IoError)
	require.Error(t, w.WriteUint8(2))
	require.Error(t, w.Flush())
	require.ErrorIs(t, w.Err(), errs.IoError)
}

func TestReadBytesShortReadIsMalformed(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 2}))
	buf := make([]byte, 5)
	err := r.ReadBytes(buf)
	require.ErrorIs(t, err, errs.MalformedData)
}

func TestReadVarintMissingTerminator(t *testing.T) {
	allContinuation := make([]byte, 10)
	for i := range allContinuation {
		allContinuation[i] = 0x80
	}
	r := NewReader(bytes.NewReader(allContinuation))
	_, err := r.ReadVarint()
	require.ErrorIs(t, err, errs.MalformedData)
}

func TestTempFileCreatesAndCleansUp(t *testing.T) {
	f, err := TempFile(t.TempDir(), "scdb-test-")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	require.NoError(t, f.Close())
}
