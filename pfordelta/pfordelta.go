// Package pfordelta implements the PForDelta integer-vector codec: a
// vector V of N unsigned 64-bit integers compressed so that extract(i) ->
// V[i] runs in O(1) amortized time with a small footprint.
//
// The encoder partitions the value distribution into three disjoint
// ranges defined by [base_p, limit_p): values inside are the packed
// majority, stored as lg(limit_p-base_p)-bit offsets from base_p; values
// below base_p ("except-min") and values at or above limit_p
// ("except-max") are tracked in narrower side arrays. A rank-1-capable
// bitmap marks which positions are packed; when both exception kinds are
// present, a second bitmap distinguishes except-min from except-max among
// the exceptions ("middle" family).
//
// Parameter search tabulates, per bit-length, the count/min/max of values
// whose highest set bit sits at that position, then evaluates left-,
// right- and middle-packed boundary candidates and keeps whichever
// minimizes an estimated encoded size. Correctness of Extract does not
// depend on that estimate being optimal: once (base_p, limit_p) is fixed,
// every value is routed to exactly one of the three arrays and Extract
// reconstructs it exactly.
package pfordelta

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/robbinfan/cloud-scdb/bitpack"
	"github.com/robbinfan/cloud-scdb/bitvector"
	"github.com/robbinfan/cloud-scdb/errs"
)

// PForDelta is an immutable compressed representation of a uint64 vector.
type PForDelta struct {
	n int

	numP, numExMin, numExMax uint64
	min, baseP, limitP       uint64
	minBits, maxBits         uint32
	bitsExMin, packedWidth   uint32
	bitsExMax                uint32
	isMiddle                 bool

	p      *bitpack.Array
	exMin  *bitpack.Array
	exMax  *bitpack.Array
	bitmap *bitvector.Bitmap
	exBm   *bitvector.Bitmap // only when isMiddle
}

// Len returns N, the number of values encoded.
func (pfd *PForDelta) Len() int { return pfd.n }

func bitsNeeded(maxVal uint64) int {
	if maxVal == 0 {
		return 0
	}
	return bits.Len64(maxVal)
}

// bitmapCost estimates, in bits, the compressed size of a length-n bitmap
// with exactly k set bits. It is used only to choose between candidate
// (base_p, limit_p) boundaries; Extract's correctness never depends on
// this estimate.
func bitmapCost(n, k int) float64 {
	if n == 0 {
		return 0
	}
	if k == 0 || k == n {
		return 2
	}
	p := float64(k) / float64(n)
	h := -(p*math.Log2(p) + (1-p)*math.Log2(1-p))
	return h*float64(n) + 32
}

type bucketStat struct {
	count      int
	min, max   uint64
	lg         int
}

// Encode builds a PForDelta image over values.
func Encode(values []uint64) *PForDelta {
	n := len(values)
	if n == 0 {
		return &PForDelta{
			bitmap: bitvector.NewBuilder().Build(),
			p:      bitpack.NewArray(0, 0),
			exMin:  bitpack.NewArray(0, 0),
			exMax:  bitpack.NewArray(0, 0),
		}
	}

	min, max := values[0], values[0]
	var buckets [65]bucketStat
	for lg := range buckets {
		buckets[lg].lg = lg
	}
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		lg := bits.Len64(v)
		b := &buckets[lg]
		if b.count == 0 {
			b.min, b.max = v, v
		} else {
			if v < b.min {
				b.min = v
			}
			if v > b.max {
				b.max = v
			}
		}
		b.count++
	}

	var occ []bucketStat
	for _, b := range buckets {
		if b.count > 0 {
			occ = append(occ, b)
		}
	}
	k := len(occ)
	cum := make([]int, k+1)
	for i, b := range occ {
		cum[i+1] = cum[i] + b.count
	}

	type candidate struct {
		baseP, limitP uint64
		cost          float64
	}
	best := candidate{baseP: min, limitP: max + 1, cost: math.Inf(1)}

	consider := func(baseP, limitP uint64, numP, numExMin, numExMax int) {
		packedWidth := bitsNeeded(limitP - baseP - 1)
		var bitsExMin, bitsExMax int
		if numExMin > 0 {
			bitsExMin = bitsNeeded(baseP - 1 - min)
		}
		if numExMax > 0 {
			bitsExMax = bitsNeeded(max - limitP)
		}
		total := float64(numP)*float64(packedWidth) +
			float64(numExMin)*float64(bitsExMin) +
			float64(numExMax)*float64(bitsExMax) +
			bitmapCost(n, numExMin+numExMax)
		if numExMin > 0 && numExMax > 0 {
			total += bitmapCost(numExMin+numExMax, numExMin)
		}
		if total < best.cost {
			best = candidate{baseP: baseP, limitP: limitP, cost: total}
		}
	}

	// Left-packed: base_p = min, limit_p sweeps each occupied bucket's
	// upper edge; everything above is except-max.
	for s := 0; s < k; s++ {
		limitP := occ[s].max + 1
		numP := cum[s+1]
		consider(min, limitP, numP, 0, n-numP)
	}
	// Right-packed: limit_p = max+1, base_p sweeps each occupied bucket's
	// lower edge; everything below is except-min.
	for s := 0; s < k; s++ {
		baseP := occ[s].min
		numP := n - cum[s]
		consider(baseP, max+1, numP, cum[s], 0)
	}
	// Middle-packed: interior window, both exception kinds possible.
	for lo := 0; lo < k; lo++ {
		for hi := lo; hi < k; hi++ {
			baseP := occ[lo].min
			limitP := occ[hi].max + 1
			numP := cum[hi+1] - cum[lo]
			consider(baseP, limitP, numP, cum[lo], n-cum[hi+1])
		}
	}

	return build(values, min, max, best.baseP, best.limitP)
}

func build(values []uint64, min, max, baseP, limitP uint64) *PForDelta {
	n := len(values)
	packedWidth := bitsNeeded(limitP - baseP - 1)

	bmBuilder := bitvector.NewBuilder()
	var pVals, exMinVals, exMaxVals []uint64
	// isLowException[i] aligns with the exception stream order (arrival
	// order among non-packed values) and records whether that exception
	// is below base_p (true) or at/above limit_p (false).
	var isLowException []bool

	for _, v := range values {
		if v >= baseP && v < limitP {
			bmBuilder.Add(true)
			pVals = append(pVals, v-baseP)
			continue
		}
		bmBuilder.Add(false)
		if v < baseP {
			exMinVals = append(exMinVals, v-min)
			isLowException = append(isLowException, true)
		} else {
			exMaxVals = append(exMaxVals, v-limitP)
			isLowException = append(isLowException, false)
		}
	}

	numExMin := len(exMinVals)
	numExMax := len(exMaxVals)
	isMiddle := numExMin > 0 && numExMax > 0

	var bitsExMin, bitsExMax int
	if numExMin > 0 {
		bitsExMin = bitsNeeded(baseP - 1 - min)
	}
	if numExMax > 0 {
		bitsExMax = bitsNeeded(max - limitP)
	}

	pfd := &PForDelta{
		n:           n,
		numP:        uint64(len(pVals)),
		numExMin:    uint64(numExMin),
		numExMax:    uint64(numExMax),
		min:         min,
		baseP:       baseP,
		limitP:      limitP,
		minBits:     uint32(bitsNeeded(min)),
		maxBits:     uint32(bitsNeeded(max)),
		bitsExMin:   uint32(bitsExMin),
		packedWidth: uint32(packedWidth),
		bitsExMax:   uint32(bitsExMax),
		isMiddle:    isMiddle,
		p:           bitpack.NewArrayFromValues(pVals, packedWidth),
		exMin:       bitpack.NewArrayFromValues(exMinVals, bitsExMin),
		exMax:       bitpack.NewArrayFromValues(exMaxVals, bitsExMax),
		bitmap:      bmBuilder.Build(),
	}

	if isMiddle {
		exBmBuilder := bitvector.NewBuilder()
		for _, low := range isLowException {
			exBmBuilder.Add(low)
		}
		pfd.exBm = exBmBuilder.Build()
	}

	return pfd
}

// Extract returns V[i]. Calling Extract with i >= Len() is a programming
// error and panics rather than returning an error: an out-of-range index
// here means the caller's own indexing is wrong, not that the data is bad.
func (pfd *PForDelta) Extract(i int) uint64 {
	if i < 0 || i >= pfd.n {
		panic(fmt.Sprintf("pfordelta: Extract index %d out of range [0,%d)", i, pfd.n))
	}
	r := pfd.bitmap.Rank1(i + 1)
	if pfd.bitmap.Bit(i) {
		return pfd.baseP + pfd.p.Get(int(r-1))
	}
	e := uint64(i+1) - r
	if pfd.isMiddle {
		j := pfd.exBm.Rank1(int(e))
		if pfd.exBm.Bit(int(e - 1)) {
			return pfd.min + pfd.exMin.Get(int(j-1))
		}
		return pfd.limitP + pfd.exMax.Get(int(e-j-1))
	}
	if pfd.numExMax > 0 {
		return pfd.limitP + pfd.exMax.Get(int(e-1))
	}
	return pfd.min + pfd.exMin.Get(int(e-1))
}

const tag = "PFDV1."

// ByteSize returns the number of bytes Serialize appends.
func (pfd *PForDelta) ByteSize() int {
	size := len(tag) + 3*8 /* num_p, num_ex_min, num_ex_max */ +
		3*8 /* min, base_p, limit_p */ +
		5*4 /* min_bits, max_bits, bits_ex_min, b, bits_ex_max */ +
		1 /* is_middle */
	size += len(pfd.p.Words()) * 8
	size += len(pfd.exMin.Words()) * 8
	size += len(pfd.exMax.Words()) * 8
	size += pfd.bitmap.ByteSize()
	if pfd.isMiddle {
		size += pfd.exBm.ByteSize()
	}
	return size
}

// Serialize appends the PForDelta image to dst, per the PFDV1. layout
// documented in the file format spec.
func (pfd *PForDelta) Serialize(dst []byte) []byte {
	dst = append(dst, tag...)
	dst = appendU64(dst, pfd.numP)
	dst = appendU64(dst, pfd.numExMin)
	dst = appendU64(dst, pfd.numExMax)
	dst = appendU64(dst, pfd.min)
	dst = appendU64(dst, pfd.baseP)
	dst = appendU64(dst, pfd.limitP)
	dst = appendU32(dst, pfd.minBits)
	dst = appendU32(dst, pfd.maxBits)
	dst = appendU32(dst, pfd.bitsExMin)
	dst = appendU32(dst, pfd.packedWidth)
	dst = appendU32(dst, pfd.bitsExMax)
	if pfd.isMiddle {
		dst = append(dst, 1)
	} else {
		dst = append(dst, 0)
	}
	dst = appendWords(dst, pfd.p.Words())
	dst = appendWords(dst, pfd.exMin.Words())
	dst = appendWords(dst, pfd.exMax.Words())
	dst = pfd.bitmap.Serialize(dst)
	if pfd.isMiddle {
		dst = pfd.exBm.Serialize(dst)
	}
	return dst
}

// Deserialize reads a PForDelta image from the front of buf, returning the
// decoded codec and the number of bytes consumed.
func Deserialize(buf []byte) (*PForDelta, int, error) {
	if len(buf) < len(tag) || string(buf[:len(tag)]) != tag {
		return nil, 0, fmt.Errorf("pfordelta: bad tag: %w", errs.MalformedData)
	}
	off := len(tag)
	readU64 := func() (uint64, error) {
		if len(buf) < off+8 {
			return 0, fmt.Errorf("pfordelta: truncated header: %w", errs.MalformedData)
		}
		v := leU64(buf[off:])
		off += 8
		return v, nil
	}
	readU32 := func() (uint32, error) {
		if len(buf) < off+4 {
			return 0, fmt.Errorf("pfordelta: truncated header: %w", errs.MalformedData)
		}
		v := leU32(buf[off:])
		off += 4
		return v, nil
	}

	pfd := &PForDelta{}
	var err error
	if pfd.numP, err = readU64(); err != nil {
		return nil, 0, err
	}
	if pfd.numExMin, err = readU64(); err != nil {
		return nil, 0, err
	}
	if pfd.numExMax, err = readU64(); err != nil {
		return nil, 0, err
	}
	if pfd.min, err = readU64(); err != nil {
		return nil, 0, err
	}
	if pfd.baseP, err = readU64(); err != nil {
		return nil, 0, err
	}
	if pfd.limitP, err = readU64(); err != nil {
		return nil, 0, err
	}
	if pfd.minBits, err = readU32(); err != nil {
		return nil, 0, err
	}
	if pfd.maxBits, err = readU32(); err != nil {
		return nil, 0, err
	}
	if pfd.bitsExMin, err = readU32(); err != nil {
		return nil, 0, err
	}
	if pfd.packedWidth, err = readU32(); err != nil {
		return nil, 0, err
	}
	if pfd.bitsExMax, err = readU32(); err != nil {
		return nil, 0, err
	}
	if len(buf) < off+1 {
		return nil, 0, fmt.Errorf("pfordelta: truncated is_middle: %w", errs.MalformedData)
	}
	pfd.isMiddle = buf[off] != 0
	off++

	pWords, n, err := readWords(buf[off:], int(pfd.numP), int(pfd.packedWidth))
	if err != nil {
		return nil, 0, err
	}
	off += n
	pfd.p = bitpack.LoadArray(pWords, int(pfd.numP), int(pfd.packedWidth))

	exMinWords, n, err := readWords(buf[off:], int(pfd.numExMin), int(pfd.bitsExMin))
	if err != nil {
		return nil, 0, err
	}
	off += n
	pfd.exMin = bitpack.LoadArray(exMinWords, int(pfd.numExMin), int(pfd.bitsExMin))

	exMaxWords, n, err := readWords(buf[off:], int(pfd.numExMax), int(pfd.bitsExMax))
	if err != nil {
		return nil, 0, err
	}
	off += n
	pfd.exMax = bitpack.LoadArray(exMaxWords, int(pfd.numExMax), int(pfd.bitsExMax))

	bm, n, err := bitvector.Deserialize(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	pfd.bitmap = bm
	pfd.n = bm.Len()

	if pfd.isMiddle {
		exBm, n, err := bitvector.Deserialize(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		pfd.exBm = exBm
	}

	return pfd, off, nil
}

func readWords(buf []byte, n, width int) ([]uint64, int, error) {
	numWords := bitpack.WordsNeeded(n, width)
	need := numWords * 8
	if len(buf) < need {
		return nil, 0, fmt.Errorf("pfordelta: truncated array: %w", errs.MalformedData)
	}
	words := make([]uint64, numWords)
	for i := 0; i < numWords; i++ {
		words[i] = leU64(buf[i*8:])
	}
	return words, need, nil
}

func appendU64(dst []byte, v uint64) []byte {
	var b [8]byte
	putU64(b[:], v)
	return append(dst, b[:]...)
}

func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte
	putU32(b[:], v)
	return append(dst, b[:]...)
}

func appendWords(dst []byte, words []uint64) []byte {
	for _, w := range words {
		dst = appendU64(dst, w)
	}
	return dst
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func leU32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}
