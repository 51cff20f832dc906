// Package bitvector provides the rank-1-capable compressed bitmap used by
// the PForDelta codec (its packed/exception selector bitmaps) and the
// succinct trie adapter (its terminal bitmap). Rank support is provided by
// github.com/hillbig/rsdic, built incrementally with New()+PushBack().
//
// The raw bits are also kept in a plain bit-packed word array so the
// bitmap can be serialized compactly; on load the rsdic.RSDic rank
// structure is rebuilt from those words. Decoded rank structures are
// owned by the reader, not memory-mapped directly.
package bitvector

import (
	"encoding/binary"
	"fmt"

	"github.com/hillbig/rsdic"

	"github.com/robbinfan/cloud-scdb/errs"
)

// Bitmap is an immutable, rank-1-capable bit vector.
type Bitmap struct {
	words []uint64
	n     int
	rs    *rsdic.RSDic
	ones  uint64
}

// Builder accumulates bits in order and produces an immutable Bitmap.
type Builder struct {
	words []uint64
	n     int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// Add appends a single bit.
func (b *Builder) Add(bit bool) {
	wordIdx := b.n / 64
	if wordIdx >= len(b.words) {
		b.words = append(b.words, 0)
	}
	if bit {
		b.words[wordIdx] |= 1 << uint(b.n%64)
	}
	b.n++
}

// Len returns the number of bits appended so far.
func (b *Builder) Len() int { return b.n }

// Build finalizes the Builder into a Bitmap with rank support.
func (b *Builder) Build() *Bitmap {
	return fromWords(b.words, b.n)
}

func fromWords(words []uint64, n int) *Bitmap {
	rs := rsdic.New()
	var ones uint64
	for i := 0; i < n; i++ {
		bit := words[i/64]&(1<<uint(i%64)) != 0
		rs.PushBack(bit)
		if bit {
			ones++
		}
	}
	return &Bitmap{words: words, n: n, rs: rs, ones: ones}
}

// Len returns the number of bits in the bitmap.
func (bm *Bitmap) Len() int { return bm.n }

// Ones returns the total number of set bits.
func (bm *Bitmap) Ones() uint64 { return bm.ones }

// Bit returns the bit at position i.
func (bm *Bitmap) Bit(i int) bool {
	return bm.words[i/64]&(1<<uint(i%64)) != 0
}

// Rank1 returns the number of 1-bits in bm[0, i).
func (bm *Bitmap) Rank1(i int) uint64 {
	if i <= 0 {
		return 0
	}
	if i >= bm.n {
		return bm.ones
	}
	return bm.rs.Rank(uint64(i), true)
}

// Select1 returns the position of the k-th (1-indexed) set bit. k must
// satisfy 1 <= k <= Ones().
func (bm *Bitmap) Select1(k int) int {
	return int(bm.rs.Select(uint64(k-1), true))
}

// Serialize appends the bitmap's raw representation to dst: an 8-byte
// little-endian bit count followed by the packed words.
func (bm *Bitmap) Serialize(dst []byte) []byte {
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(bm.n))
	dst = append(dst, hdr[:]...)
	for _, w := range bm.words {
		var wb [8]byte
		binary.LittleEndian.PutUint64(wb[:], w)
		dst = append(dst, wb[:]...)
	}
	return dst
}

// ByteSize returns the number of bytes Serialize appends.
func (bm *Bitmap) ByteSize() int {
	return 8 + len(bm.words)*8
}

// Deserialize reads a Bitmap previously written by Serialize from the
// front of buf, returning the Bitmap and the number of bytes consumed.
func Deserialize(buf []byte) (*Bitmap, int, error) {
	if len(buf) < 8 {
		return nil, 0, fmt.Errorf("bitvector: truncated header: %w", errs.MalformedData)
	}
	n := int(binary.LittleEndian.Uint64(buf))
	numWords := (n + 63) / 64
	need := 8 + numWords*8
	if len(buf) < need {
		return nil, 0, fmt.Errorf("bitvector: truncated words: %w", errs.MalformedData)
	}
	words := make([]uint64, numWords)
	for i := 0; i < numWords; i++ {
		words[i] = binary.LittleEndian.Uint64(buf[8+i*8:])
	}
	return fromWords(words, n), need, nil
}
