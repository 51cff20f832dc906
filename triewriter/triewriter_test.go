package triewriter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

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
	_, ok := r.Get([]byte("a"))
	require.False(t, ok)
}

func TestMapNoneRoundTripWithRepeatedValue(t *testing.T) {
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

func TestMapSnappyRoundTripLargeValue(t *testing.T) {
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

func TestMapDFARoundTrip(t *testing.T) {
	w, err := New(t.TempDir(), sformat.Map, sformat.DFA)
	require.NoError(t, err)
	pairs := map[string]string{"en": "hello", "fr": "bonjour", "es": "hola"}
	for k, v := range pairs {
		require.NoError(t, w.PutKV([]byte(k), []byte(v)))
	}
	out := tmpOut(t)
	require.NoError(t, w.Close(out))

	r, err := scdbreader.Open(out)
	require.NoError(t, err)
	defer r.Close()
	for k, v := range pairs {
		got, ok := r.GetAsString([]byte(k))
		require.True(t, ok)
		require.Equal(t, v, got)
	}
}

func TestPrefixGetCompleteness(t *testing.T) {
	w, err := New(t.TempDir(), sformat.Set, sformat.None)
	require.NoError(t, err)
	for _, k := range []string{"car", "cart", "cartoon", "dog"} {
		require.NoError(t, w.Put([]byte(k)))
	}
	out := tmpOut(t)
	require.NoError(t, w.Close(out))

	r, err := scdbreader.Open(out)
	require.NoError(t, err)
	defer r.Close()

	entries, err := r.PrefixGet([]byte("car"), 10)
	require.NoError(t, err)
	got := map[string]bool{}
	for _, e := range entries {
		got[string(e.Key)] = true
	}
	require.Equal(t, map[string]bool{"car": true, "cart": true, "cartoon": true}, got)
	require.Len(t, entries, 3)
}

func TestChecksumDetectsCorruption(t *testing.T) {
	w, err := New(t.TempDir(), sformat.Set, sformat.None, WithChecksum())
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte("a")))
	out := tmpOut(t)
	require.NoError(t, w.Close(out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	data[100%len(data)] ^= 0xFF
	require.NoError(t, os.WriteFile(out, data, 0o644))

	_, err = scdbreader.Open(out)
	require.Error(t, err)
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

func TestEmptyKeyDropped(t *testing.T) {
	w, err := New(t.TempDir(), sformat.Set, sformat.None)
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte("")))
	require.NoError(t, w.Put([]byte("a")))
	out := tmpOut(t)
	require.NoError(t, w.Close(out))

	r, err := scdbreader.Open(out)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 1, r.Stats().NumKeys)
}
