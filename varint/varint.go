// Package varint implements unsigned LEB128 varint encoding: 7 payload bits
// per byte, MSB=1 continues, MSB=0 terminates. A value never needs more than
// 10 bytes. A signed-to-unsigned zig-zag helper is provided for callers that
// want it, but the on-disk artifact format never uses it.
package varint

import (
	"fmt"

	"github.com/robbinfan/cloud-scdb/errs"
)

// MaxLen is the largest number of bytes an encoded uint64 can occupy.
const MaxLen = 10

// Put appends the varint encoding of v to dst and returns the result.
func Put(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// Len returns the number of bytes Put(nil, v) would produce.
func Len(v uint64) int {
	n := 1
	for v >= 0x80 {
		n++
		v >>= 7
	}
	return n
}

// Get decodes a varint from the front of buf, returning the value and the
// number of bytes consumed. It fails with errs.MalformedData if no
// terminating byte appears within MaxLen bytes or before the buffer ends.
func Get(buf []byte) (uint64, int, error) {
	var v uint64
	for i := 0; i < MaxLen; i++ {
		if i >= len(buf) {
			return 0, 0, fmt.Errorf("varint: truncated input: %w", errs.MalformedData)
		}
		b := buf[i]
		if i == MaxLen-1 && b >= 0x80 {
			return 0, 0, fmt.Errorf("varint: value too large: %w", errs.MalformedData)
		}
		v |= uint64(b&0x7f) << (7 * i)
		if b < 0x80 {
			return v, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("varint: no terminating byte: %w", errs.MalformedData)
}

// PutFixed appends the varint encoding of v to dst, padded with extra
// zero-valued continuation bytes so the encoding occupies exactly width
// bytes. width must be at least Len(v); trailing zero digits contribute
// nothing to the decoded value, so Get still recovers v unchanged. This is
// used by the hash-variant slot tables, whose offset field must be a fixed
// width across all slots of a given key length.
func PutFixed(dst []byte, v uint64, width int) []byte {
	for i := 0; i < width-1; i++ {
		dst = append(dst, byte(v&0x7f)|0x80)
		v >>= 7
	}
	return append(dst, byte(v&0x7f))
}

// ZigZagEncode maps a signed integer to an unsigned one so that small
// magnitude values (positive or negative) encode to small varints. Not used
// by the on-disk format; provided for callers that need it.
func ZigZagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

// ZigZagDecode reverses ZigZagEncode.
func ZigZagDecode(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
