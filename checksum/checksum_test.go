package checksum

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robbinfan/cloud-scdb/errs"
)

func TestAppendVerifyRoundTrip(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	withSum := Append(append([]byte{}, data...))
	require.NoError(t, Verify(withSum))
}

func TestFlippedByteFailsIntegrity(t *testing.T) {
	data := []byte("static key value artifact payload bytes")
	withSum := Append(append([]byte{}, data...))
	withSum[5] ^= 0xFF
	err := Verify(withSum)
	require.ErrorIs(t, err, errs.IntegrityError)
}

func TestTooShortIsMalformed(t *testing.T) {
	err := Verify([]byte{1, 2, 3})
	require.ErrorIs(t, err, errs.MalformedData)
}
