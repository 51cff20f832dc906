// Package sformat holds the wire-format constants shared by the writer and
// reader packages: the magic strings, the build-type/value-encoding
// discriminators, and the fixed header field widths from the file format
// section of the on-disk layout. Keeping these in one package means the
// writer and the reader can never disagree about a tag value.
package sformat

// BuildType discriminates a Set artifact (keys only) from a Map artifact
// (keys with values).
type BuildType int8

const (
	Map BuildType = 0
	Set BuildType = 1
)

func (b BuildType) String() string {
	if b == Set {
		return "set"
	}
	return "map"
}

// ValueEncoding discriminates how values are stored in Map mode.
type ValueEncoding int8

const (
	None   ValueEncoding = 0
	Snappy ValueEncoding = 1
	DFA    ValueEncoding = 2
)

func (e ValueEncoding) String() string {
	switch e {
	case Snappy:
		return "snappy"
	case DFA:
		return "dfa"
	default:
		return "none"
	}
}

// MagicLen is the fixed width of the leading magic field, in bytes.
const MagicLen = 7

// MagicTrieV2 identifies the trie-indexed artifact generation.
const MagicTrieV2 = "SCDBV2."

// MagicHashV1 identifies the hash-indexed artifact generation.
const MagicHashV1 = "SCDBV1."
