package hashwriter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robbinfan/cloud-scdb/errs"
	"github.com/robbinfan/cloud-scdb/scdbreader"
	"github.com/robbinfan/cloud-scdb/sformat"
)

func tmpOut(t *testing.T) string {
	return filepath.Join(t.TempDir(), "out.scdb")
}

func TestSetModeRoundTrip(t *testing.T) {
	w, err := New(t.TempDir(), sformat.Set, sformat.None)
	require.NoError(t, err)
	for _, k := range []string{"a", "ab", "abc"} {
		require.NoError(t, w.Put([]byte(k)))
	}
	out := tmpOut(t)
	require.NoError(t, w.Close(out))

	r, err := scdbreader.Open(out)
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.Exist([]byte("a")))
	require.True(t, r.Exist([]byte("ab")))
	require.True(t, r.Exist([]byte("abc")))
	require.False(t, r.Exist([]byte("abcd")))
	require.False(t, r.Exist([]byte("")))
}

func TestMapNoneRoundTrip(t *testing.T) {
	w, err := New(t.TempDir(), sformat.Map, sformat.None)
	require.NoError(t, err)
	require.NoError(t, w.PutKV([]byte("apple"), []byte("red")))
	require.NoError(t, w.PutKV([]byte("banana"), []byte("yellow")))
	require.NoError(t, w.PutKV([]byte("cherry"), []byte("red")))
	out := tmpOut(t)
	require.NoError(t, w.Close(out))

	r, err := scdbreader.Open(out)
	require.NoError(t, err)
	defer r.Close()

	v, ok := r.GetAsString([]byte("apple"))
	require.True(t, ok)
	require.Equal(t, "red", v)
	v, ok = r.GetAsString([]byte("banana"))
	require.True(t, ok)
	require.Equal(t, "yellow", v)
	v, ok = r.GetAsString([]byte("cherry"))
	require.True(t, ok)
	require.Equal(t, "red", v)
}

func TestMapSnappyLargeValue(t *testing.T) {
	w, err := New(t.TempDir(), sformat.Map, sformat.Snappy)
	require.NoError(t, err)
	big := make([]byte, 1<<20)
	require.NoError(t, w.PutKV([]byte("k"), big))
	out := tmpOut(t)
	require.NoError(t, w.Close(out))

	st, err := os.Stat(out)
	require.NoError(t, err)
	require.Less(t, st.Size(), int64(1<<20))

	r, err := scdbreader.Open(out)
	require.NoError(t, err)
	defer r.Close()
	v, ok := r.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, big, v)
}

func TestPrefixGetUnsupported(t *testing.T) {
	w, err := New(t.TempDir(), sformat.Set, sformat.None)
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte("car")))
	out := tmpOut(t)
	require.NoError(t, w.Close(out))

	r, err := scdbreader.Open(out)
	require.NoError(t, err)
	defer r.Close()
	_, err = r.PrefixGet([]byte("car"), 0)
	require.ErrorIs(t, err, errs.InvalidOperation)
}

func TestLoadFactorOutOfRangeRejected(t *testing.T) {
	_, err := New(t.TempDir(), sformat.Set, sformat.None, WithLoadFactor(1.0))
	require.ErrorIs(t, err, errs.InvalidOperation)
	_, err = New(t.TempDir(), sformat.Set, sformat.None, WithLoadFactor(0))
	require.ErrorIs(t, err, errs.InvalidOperation)
}

func TestDFAUnsupported(t *testing.T) {
	_, err := New(t.TempDir(), sformat.Map, sformat.DFA)
	require.ErrorIs(t, err, errs.UnsupportedFormat)
}

func TestManyKeysCollideAndResolve(t *testing.T) {
	w, err := New(t.TempDir(), sformat.Map, sformat.None, WithLoadFactor(0.5))
	require.NoError(t, err)
	want := map[string]string{}
	for i := 0; i < 300; i++ {
		k := []byte{byte(i % 128), byte(i / 128)}
		v := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		require.NoError(t, w.PutKV(k, v))
		want[string(k)] = string(v)
	}
	out := tmpOut(t)
	require.NoError(t, w.Close(out))

	r, err := scdbreader.Open(out)
	require.NoError(t, err)
	defer r.Close()
	for k, v := range want {
		got, ok := r.GetAsString([]byte(k))
		require.True(t, ok, "missing key %q", k)
		require.Equal(t, v, got)
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	w, err := New(t.TempDir(), sformat.Set, sformat.None, WithChecksum())
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte("a")))
	out := tmpOut(t)
	require.NoError(t, w.Close(out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(out, data, 0o644))

	_, err = scdbreader.Open(out)
	require.ErrorIs(t, err, errs.IntegrityError)
}

func TestCloseIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), sformat.Set, sformat.None)
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte("a")))
	out := tmpOut(t)
	require.NoError(t, w.Close(out))

	before, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NoError(t, w.Close(out))
	after, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, before, after)
}
