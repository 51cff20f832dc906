package sctrie

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func bkeys(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func TestLookupBasic(t *testing.T) {
	res, err := Build(bkeys("a", "ab", "abc"))
	require.NoError(t, err)
	tr := res.Trie
	require.Equal(t, 3, tr.NumKeys())

	for _, k := range []string{"a", "ab", "abc"} {
		found, _ := tr.Lookup([]byte(k))
		require.True(t, found, "expected %q found", k)
	}
	for _, k := range []string{"abcd", "", "b", "ac"} {
		found, _ := tr.Lookup([]byte(k))
		require.False(t, found, "expected %q not found", k)
	}
}

func TestLookupIDsAreUniqueAndInRange(t *testing.T) {
	keys := bkeys("apple", "banana", "cherry", "app", "ap", "application")
	res, err := Build(keys)
	require.NoError(t, err)
	tr := res.Trie

	seen := map[int]bool{}
	for _, k := range keys {
		found, id := tr.Lookup(k)
		require.True(t, found)
		require.GreaterOrEqual(t, id, 0)
		require.Less(t, id, tr.NumKeys())
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
}

func TestReverseLookupRoundTrip(t *testing.T) {
	keys := bkeys("en", "fr", "es", "de", "it")
	res, err := Build(keys)
	require.NoError(t, err)
	tr := res.Trie

	for _, k := range keys {
		_, id := tr.Lookup(k)
		got, err := tr.ReverseLookup(id)
		require.NoError(t, err)
		require.Equal(t, k, got)
	}
}

func TestReverseLookupOutOfRange(t *testing.T) {
	res, err := Build(bkeys("a"))
	require.NoError(t, err)
	_, err = res.Trie.ReverseLookup(5)
	require.Error(t, err)
}

func TestPredictiveSearchCompleteness(t *testing.T) {
	keys := bkeys("car", "cart", "cartoon", "dog")
	res, err := Build(keys)
	require.NoError(t, err)
	tr := res.Trie

	entries := tr.PredictiveSearch([]byte("car"), 0)
	got := map[string]bool{}
	for _, e := range entries {
		got[string(e.Key)] = true
	}
	require.Equal(t, map[string]bool{"car": true, "cart": true, "cartoon": true}, got)
	require.Len(t, entries, 3)
}

func TestPredictiveSearchNoMatch(t *testing.T) {
	res, err := Build(bkeys("dog", "cat"))
	require.NoError(t, err)
	entries := res.Trie.PredictiveSearch([]byte("zz"), 0)
	require.Empty(t, entries)
}

func TestPredictiveSearchLimit(t *testing.T) {
	res, err := Build(bkeys("a1", "a2", "a3", "a4", "a5"))
	require.NoError(t, err)
	entries := res.Trie.PredictiveSearch([]byte("a"), 2)
	require.Len(t, entries, 2)
}

func TestDuplicateKeysCoalesce(t *testing.T) {
	res, err := Build(bkeys("dup", "dup", "dup", "other"))
	require.NoError(t, err)
	require.Equal(t, 2, res.Trie.NumKeys())
	require.Equal(t, 2, res.Duplicates)
}

func TestEmptyKeyRejected(t *testing.T) {
	_, err := Build(bkeys("ok", ""))
	require.Error(t, err)
}

func TestSaveMapRoundTrip(t *testing.T) {
	keys := bkeys("car", "cart", "cartoon", "dog", "do")
	res, err := Build(keys)
	require.NoError(t, err)
	tr := res.Trie

	buf := tr.Save()
	require.Len(t, buf, tr.ByteSize())

	got, n, err := Map(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, tr.NumKeys(), got.NumKeys())

	for _, k := range keys {
		wantFound, wantID := tr.Lookup(k)
		gotFound, gotID := got.Lookup(k)
		require.Equal(t, wantFound, gotFound)
		require.Equal(t, wantID, gotID)
	}
	entries := got.PredictiveSearch([]byte("car"), 0)
	require.Len(t, entries, 3)
}

func TestManyKeysStressLookupAndPrefix(t *testing.T) {
	var keys [][]byte
	for i := 0; i < 500; i++ {
		keys = append(keys, []byte(fmt.Sprintf("key-%04d", i)))
	}
	res, err := Build(keys)
	require.NoError(t, err)
	tr := res.Trie
	require.Equal(t, 500, tr.NumKeys())

	for _, k := range keys {
		found, _ := tr.Lookup(k)
		require.True(t, found)
	}

	entries := tr.PredictiveSearch([]byte("key-01"), 0)
	require.Len(t, entries, 100) // key-0100..key-0199

	var gotKeys []string
	for _, e := range entries {
		gotKeys = append(gotKeys, string(e.Key))
	}
	sort.Strings(gotKeys)
	require.Equal(t, "key-0100", gotKeys[0])
	require.Equal(t, "key-0199", gotKeys[len(gotKeys)-1])
}
