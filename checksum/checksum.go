// Package checksum appends and verifies the artifact's trailing whole-file
// digest. The digest primitive is xxh3 (github.com/zeebo/xxh3), already a
// direct dependency of the core for the hash variant's probing function;
// reusing it here avoids pulling in a second hash family just for
// integrity checking.
package checksum

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/robbinfan/cloud-scdb/errs"
)

// Size is the width, in bytes, of the trailing digest.
const Size = 8

// Sum returns the 8-byte little-endian xxh3-64 digest of data.
func Sum(data []byte) [Size]byte {
	h := xxh3.Hash(data)
	var out [Size]byte
	binary.LittleEndian.PutUint64(out[:], h)
	return out
}

// Append computes Sum(data) and returns data with the digest appended.
func Append(data []byte) []byte {
	sum := Sum(data)
	return append(data, sum[:]...)
}

// Verify checks that the trailing Size bytes of data equal the digest over
// the preceding bytes. It fails with errs.IntegrityError on mismatch and
// errs.MalformedData if data is shorter than the digest itself.
func Verify(data []byte) error {
	if len(data) < Size {
		return fmt.Errorf("checksum: file shorter than digest: %w", errs.MalformedData)
	}
	body := data[:len(data)-Size]
	want := data[len(data)-Size:]
	got := Sum(body)
	for i := 0; i < Size; i++ {
		if got[i] != want[i] {
			return fmt.Errorf("checksum: mismatch: %w", errs.IntegrityError)
		}
	}
	return nil
}
