package scdbreader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robbinfan/cloud-scdb/errs"
	"github.com/robbinfan/cloud-scdb/hashwriter"
	"github.com/robbinfan/cloud-scdb/sformat"
	"github.com/robbinfan/cloud-scdb/triewriter"
)

func buildTrieSet(t *testing.T, keys ...string) string {
	w, err := triewriter.New(t.TempDir(), sformat.Set, sformat.None)
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, w.Put([]byte(k)))
	}
	out := filepath.Join(t.TempDir(), "out.scdb")
	require.NoError(t, w.Close(out))
	return out
}

func TestUnrecognizedMagicFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.scdb")
	require.NoError(t, os.WriteFile(path, []byte("NOTASCDB"), 0o644))
	_, err := Open(path)
	require.ErrorIs(t, err, errs.UnsupportedFormat)
}

func TestTooShortFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.scdb")
	require.NoError(t, os.WriteFile(path, []byte("ab"), 0o644))
	_, err := Open(path)
	require.ErrorIs(t, err, errs.MalformedData)
}

func TestOpenTrieSetAndQuery(t *testing.T) {
	out := buildTrieSet(t, "a", "ab", "abc")
	r, err := Open(out)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, sformat.Set, r.BuildType())
	require.True(t, r.Exist([]byte("a")))
	require.False(t, r.Exist([]byte("z")))
	_, ok := r.Get([]byte("a"))
	require.False(t, ok)
}

func TestOpenHashMapAndQuery(t *testing.T) {
	w, err := hashwriter.New(t.TempDir(), sformat.Map, sformat.None)
	require.NoError(t, err)
	require.NoError(t, w.PutKV([]byte("x"), []byte("1")))
	out := filepath.Join(t.TempDir(), "out.scdb")
	require.NoError(t, w.Close(out))

	r, err := Open(out)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, sformat.Map, r.BuildType())
	v, ok := r.GetAsString([]byte("x"))
	require.True(t, ok)
	require.Equal(t, "1", v)
}

func TestCloseThenUnmapReleasesResources(t *testing.T) {
	out := buildTrieSet(t, "a")
	r, err := Open(out)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close()) // idempotent
}

func TestWithPopulateStillQueries(t *testing.T) {
	out := buildTrieSet(t, "a", "b", "c")
	r, err := Open(out, WithPopulate())
	require.NoError(t, err)
	defer r.Close()
	require.True(t, r.Exist([]byte("b")))
}
