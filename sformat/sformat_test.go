package sformat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildTypeString(t *testing.T) {
	require.Equal(t, "map", Map.String())
	require.Equal(t, "set", Set.String())
}

func TestValueEncodingString(t *testing.T) {
	require.Equal(t, "none", None.String())
	require.Equal(t, "snappy", Snappy.String())
	require.Equal(t, "dfa", DFA.String())
}

func TestMagicLengths(t *testing.T) {
	require.Len(t, MagicTrieV2, MagicLen)
	require.Len(t, MagicHashV1, MagicLen)
	require.NotEqual(t, MagicTrieV2, MagicHashV1)
}
