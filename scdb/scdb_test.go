package scdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robbinfan/cloud-scdb/sformat"
)

func TestNewWriterTrieMapThenOpen(t *testing.T) {
	w, err := NewWriter(t.TempDir(), TrieFormat, sformat.Map, sformat.None)
	require.NoError(t, err)
	require.NoError(t, w.PutKV([]byte("k1"), []byte("v1")))
	out := filepath.Join(t.TempDir(), "out.scdb")
	require.NoError(t, w.Close(out))

	r, err := Open(out)
	require.NoError(t, err)
	defer r.Close()
	v, ok := r.GetAsString([]byte("k1"))
	require.True(t, ok)
	require.Equal(t, "v1", v)
}

func TestNewWriterHashSetWithChecksum(t *testing.T) {
	w, err := NewWriter(t.TempDir(), HashFormat, sformat.Set, sformat.None, WithChecksum(), WithLoadFactor(0.6))
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte("k1")))
	out := filepath.Join(t.TempDir(), "out.scdb")
	require.NoError(t, w.Close(out))

	r, err := Open(out)
	require.NoError(t, err)
	defer r.Close()
	require.True(t, r.Exist([]byte("k1")))
}

func TestFormatString(t *testing.T) {
	require.Equal(t, "trie", TrieFormat.String())
	require.Equal(t, "hash", HashFormat.String())
}
