package bitvector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRank1MatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	n := 2000
	bits := make([]bool, n)
	b := NewBuilder()
	for i := range bits {
		bits[i] = r.Float32() < 0.35
		b.Add(bits[i])
	}
	bm := b.Build()
	require.Equal(t, n, bm.Len())

	var ones uint64
	for i := 0; i <= n; i++ {
		require.Equal(t, ones, bm.Rank1(i), "rank mismatch at %d", i)
		if i < n {
			require.Equal(t, bits[i], bm.Bit(i))
			if bits[i] {
				ones++
			}
		}
	}
	require.Equal(t, ones, bm.Ones())
}

func TestSelect1MatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	n := 1500
	b := NewBuilder()
	var onePositions []int
	for i := 0; i < n; i++ {
		bit := r.Float32() < 0.4
		b.Add(bit)
		if bit {
			onePositions = append(onePositions, i)
		}
	}
	bm := b.Build()
	for k := 1; k <= len(onePositions); k++ {
		require.Equal(t, onePositions[k-1], bm.Select1(k))
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	b := NewBuilder()
	pattern := []bool{true, false, false, true, true, false, true}
	for i := 0; i < 300; i++ {
		b.Add(pattern[i%len(pattern)])
	}
	bm := b.Build()

	buf := bm.Serialize(nil)
	require.Len(t, buf, bm.ByteSize())

	got, n, err := Deserialize(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, bm.Len(), got.Len())
	for i := 0; i < bm.Len(); i++ {
		require.Equal(t, bm.Bit(i), got.Bit(i))
	}
	for i := 0; i <= bm.Len(); i++ {
		require.Equal(t, bm.Rank1(i), got.Rank1(i))
	}
}

func TestDeserializeTruncated(t *testing.T) {
	b := NewBuilder()
	for i := 0; i < 100; i++ {
		b.Add(i%3 == 0)
	}
	buf := b.Build().Serialize(nil)
	_, _, err := Deserialize(buf[:len(buf)-2])
	require.Error(t, err)
}

func TestEmptyBitmap(t *testing.T) {
	bm := NewBuilder().Build()
	require.Equal(t, 0, bm.Len())
	require.Equal(t, uint64(0), bm.Rank1(0))
}
