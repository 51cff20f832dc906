// Package ioutil2 wraps buffered sequential file read/write with the
// little-endian fixed-width primitives and varint framing the artifact
// format needs, so the writer and reader packages don't repeat the same
// bufio/binary boilerplate.
package ioutil2

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/robbinfan/cloud-scdb/errs"
	"github.com/robbinfan/cloud-scdb/varint"
)

// Writer is a buffered sequential writer that tracks the number of bytes
// written so callers can record segment offsets without a separate Seek.
type Writer struct {
	w   *bufio.Writer
	n   int64
	err error
}

// NewWriter wraps w with a buffer sized for sequential append-only writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 1<<16)}
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int64 { return w.n }

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// WriteBytes writes b verbatim.
func (w *Writer) WriteBytes(b []byte) error {
	if w.err != nil {
		return w.err
	}
	n, err := w.w.Write(b)
	w.n += int64(n)
	if err != nil {
		w.fail(fmt.Errorf("ioutil2: write: %w", errs.IoError))
	}
	return w.err
}

// WriteUint8 writes a single byte, also used for bool fields (0/1).
func (w *Writer) WriteUint8(v uint8) error { return w.WriteBytes([]byte{v}) }

// WriteBool writes a 1-byte boolean.
func (w *Writer) WriteBool(v bool) error {
	if v {
		return w.WriteUint8(1)
	}
	return w.WriteUint8(0)
}

// WriteUint32 writes v little-endian in 4 bytes.
func (w *Writer) WriteUint32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return w.WriteBytes(buf[:])
}

// WriteInt32 writes v little-endian in 4 bytes.
func (w *Writer) WriteInt32(v int32) error { return w.WriteUint32(uint32(v)) }

// WriteUint64 writes v little-endian in 8 bytes.
func (w *Writer) WriteUint64(v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return w.WriteBytes(buf[:])
}

// WriteInt64 writes v little-endian in 8 bytes.
func (w *Writer) WriteInt64(v int64) error { return w.WriteUint64(uint64(v)) }

// WriteVarint writes v as an unsigned LEB128 varint.
func (w *Writer) WriteVarint(v uint64) error {
	var buf [varint.MaxLen]byte
	return w.WriteBytes(varint.Put(buf[:0], v))
}

// Flush flushes the underlying buffer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.w.Flush(); err != nil {
		w.fail(fmt.Errorf("ioutil2: flush: %w", errs.IoError))
	}
	return w.err
}

// Err returns the first error encountered by any Write* call.
func (w *Writer) Err() error { return w.err }

// Reader is a buffered sequential reader with the inverse primitives.
type Reader struct {
	r *bufio.Reader
	n int64
}

// NewReader wraps r with a read buffer.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 1<<16)}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int64 { return r.n }

// ReadBytes reads exactly len(buf) bytes into buf.
func (r *Reader) ReadBytes(buf []byte) error {
	n, err := io.ReadFull(r.r, buf)
	r.n += int64(n)
	if err != nil {
		return fmt.Errorf("ioutil2: read: %w", errs.MalformedData)
	}
	return nil
}

// ReadUint8 reads one byte.
func (r *Reader) ReadUint8() (uint8, error) {
	var buf [1]byte
	if err := r.ReadBytes(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadBool reads a 1-byte boolean.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

// ReadUint32 reads 4 little-endian bytes.
func (r *Reader) ReadUint32() (uint32, error) {
	var buf [4]byte
	if err := r.ReadBytes(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ReadInt32 reads 4 little-endian bytes as a signed int32.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads 8 little-endian bytes.
func (r *Reader) ReadUint64() (uint64, error) {
	var buf [8]byte
	if err := r.ReadBytes(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ReadInt64 reads 8 little-endian bytes as a signed int64.
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

// ReadVarint reads an unsigned LEB128 varint one byte at a time.
func (r *Reader) ReadVarint() (uint64, error) {
	var v uint64
	for i := 0; i < varint.MaxLen; i++ {
		b, err := r.ReadUint8()
		if err != nil {
			return 0, err
		}
		if i == varint.MaxLen-1 && b >= 0x80 {
			return 0, fmt.Errorf("ioutil2: varint too large: %w", errs.MalformedData)
		}
		v |= uint64(b&0x7f) << (7 * i)
		if b < 0x80 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("ioutil2: varint missing terminator: %w", errs.MalformedData)
}

// AtomicWriteFile writes data to a temp file in the same directory as
// outPath, then renames it into place, matching the writer's "MAY write to
// a sibling path and rename on success" finalization contract.
func AtomicWriteFile(outPath string, data []byte) error {
	tmp, err := TempFile(dirOf(outPath), "scdb-out-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ioutil2: write output: %w", errs.IoError)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ioutil2: close output: %w", errs.IoError)
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return fmt.Errorf("ioutil2: rename output: %w", errs.IoError)
	}
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// TempFile creates a temp file under dir with the given name prefix,
// matching the writer's lifecycle contract: one handle per per-length
// stream, released on Close.
func TempFile(dir, prefix string) (*os.File, error) {
	f, err := os.CreateTemp(dir, prefix)
	if err != nil {
		return nil, fmt.Errorf("ioutil2: create temp file: %w", errs.IoError)
	}
	return f, nil
}
