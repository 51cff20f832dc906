// Package sctrie implements an ordered trie over byte-string keys that
// supports build-from-keyset, save/map of a self-contained byte image,
// lookup(key)->id, predictive_search(prefix), and reverse_lookup(id). It
// flattens an ordinary byte-alphabet trie into BFS-numbered,
// index-addressed arrays (a CSR-style arena layout) instead of following
// pointers, and assigns each terminal node a stable id via rank-1 over a
// bitmap (github.com/hillbig/rsdic, built incrementally with
// New()+PushBack()). Only the terminal bitmap is succinct; node and edge
// arrays use fixed-width uint32 entries, without the full LOUDS rank/select
// node-navigation machinery; the on-disk layout does not constrain the
// trie's internal encoding, so a simpler arena representation is enough.
package sctrie

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/robbinfan/cloud-scdb/bitvector"
	"github.com/robbinfan/cloud-scdb/errs"
)

type arenaNode struct {
	id       int
	children map[byte]*arenaNode
	terminal bool
}

func newArenaNode() *arenaNode {
	return &arenaNode{children: make(map[byte]*arenaNode)}
}

func (n *arenaNode) sortedLabels() []byte {
	labels := make([]byte, 0, len(n.children))
	for b := range n.children {
		labels = append(labels, b)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

// Trie is an immutable succinct-style trie over a fixed keyset.
type Trie struct {
	childOffset []uint32
	children    []uint32
	labels      []byte
	parent      []uint32
	parentLabel []byte
	terminal    *bitvector.Bitmap
	numKeys     int
}

// BuildResult is returned by Build: the Trie plus Duplicates, the number of
// repeated input keys that were coalesced, so callers can log a warning
// when the input keyset contained repeats.
type BuildResult struct {
	Trie       *Trie
	Duplicates int
}

// Build constructs a Trie over keys. Keys need not be pre-sorted or
// pre-deduplicated; duplicates are coalesced to a single node (one id per
// unique key), and BuildResult.Duplicates counts how many input keys were
// dropped as duplicates.
func Build(keys [][]byte) (*BuildResult, error) {
	root := newArenaNode()
	dup := 0
	for _, k := range keys {
		if len(k) == 0 {
			return nil, fmt.Errorf("sctrie: empty key: %w", errs.InvalidOperation)
		}
		cur := root
		for _, b := range k {
			c, ok := cur.children[b]
			if !ok {
				c = newArenaNode()
				cur.children[b] = c
			}
			cur = c
		}
		if cur.terminal {
			dup++
		}
		cur.terminal = true
	}

	order := []*arenaNode{root}
	root.id = 0
	var labelLists [][]byte
	queue := []*arenaNode{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		labels := n.sortedLabels()
		labelLists = append(labelLists, labels)
		for _, b := range labels {
			c := n.children[b]
			c.id = len(order)
			order = append(order, c)
			queue = append(queue, c)
		}
	}

	nodeCount := len(order)
	childOffset := make([]uint32, nodeCount+1)
	children := make([]uint32, 0, nodeCount)
	labelsArr := make([]byte, 0, nodeCount)
	parent := make([]uint32, nodeCount)
	parentLabel := make([]byte, nodeCount)
	termBuilder := bitvector.NewBuilder()
	numKeys := 0

	for id, n := range order {
		childOffset[id] = uint32(len(children))
		for _, b := range labelLists[id] {
			c := n.children[b]
			children = append(children, uint32(c.id))
			labelsArr = append(labelsArr, b)
			parent[c.id] = uint32(id)
			parentLabel[c.id] = b
		}
		termBuilder.Add(n.terminal)
		if n.terminal {
			numKeys++
		}
	}
	childOffset[nodeCount] = uint32(len(children))

	t := &Trie{
		childOffset: childOffset,
		children:    children,
		labels:      labelsArr,
		parent:      parent,
		parentLabel: parentLabel,
		terminal:    termBuilder.Build(),
		numKeys:     numKeys,
	}
	return &BuildResult{Trie: t, Duplicates: dup}, nil
}

// NumKeys returns N, the number of distinct keys in the trie.
func (t *Trie) NumKeys() int { return t.numKeys }

// childAt performs a binary search for label b among node v's children,
// returning the child node index and whether it was found.
func (t *Trie) childAt(v int, b byte) (int, bool) {
	lo, hi := int(t.childOffset[v]), int(t.childOffset[v+1])
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case t.labels[mid] == b:
			return int(t.children[mid]), true
		case t.labels[mid] < b:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

// walk descends from the root consuming key, returning the node reached
// and whether every byte of key matched an edge.
func (t *Trie) walk(key []byte) (node int, ok bool) {
	v := 0
	for _, b := range key {
		c, found := t.childAt(v, b)
		if !found {
			return 0, false
		}
		v = c
	}
	return v, true
}

func (t *Trie) keyIDForNode(node int) int {
	return int(t.terminal.Rank1(node))
}

// Lookup reports whether key is present and, if so, its stable id in
// [0, NumKeys()).
func (t *Trie) Lookup(key []byte) (found bool, id int) {
	v, ok := t.walk(key)
	if !ok || !t.terminal.Bit(v) {
		return false, 0
	}
	return true, t.keyIDForNode(v)
}

// ReverseLookup reconstructs the key bytes for a given id. The reader uses
// it for DFA value mode; the trie writer uses it to order its per-id
// offset vector.
func (t *Trie) ReverseLookup(id int) ([]byte, error) {
	if id < 0 || id >= t.numKeys {
		return nil, fmt.Errorf("sctrie: id %d out of range: %w", id, errs.InvalidOperation)
	}
	node := t.terminal.Select1(id + 1)
	var rev []byte
	for node != 0 {
		rev = append(rev, t.parentLabel[node])
		node = int(t.parent[node])
	}
	// rev was built root-to-leaf in reverse order; flip it in place.
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev, nil
}

// Entry is one (key, id) pair yielded by PredictiveSearch.
type Entry struct {
	Key []byte
	ID  int
}

// PredictiveSearch returns every stored key that starts with prefix, each
// exactly once, up to limit entries (a limit of 0 means unbounded).
// Ordering follows the trie's own enumeration, which is not required to be
// lexicographic but happens to be here since children are label-sorted.
func (t *Trie) PredictiveSearch(prefix []byte, limit int) []Entry {
	start, ok := t.walk(prefix)
	if !ok {
		return nil
	}

	type frame struct {
		node int
		path []byte
	}
	var results []Entry
	stack := []frame{{node: start, path: append([]byte{}, prefix...)}}
	for len(stack) > 0 {
		if limit > 0 && len(results) >= limit {
			break
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if t.terminal.Bit(f.node) {
			results = append(results, Entry{Key: f.path, ID: t.keyIDForNode(f.node)})
		}

		lo, hi := int(t.childOffset[f.node]), int(t.childOffset[f.node+1])
		// Push children in descending label order so the stack pops
		// them back out in ascending order.
		for i := hi - 1; i >= lo; i-- {
			child := int(t.children[i])
			nextPath := make([]byte, len(f.path)+1)
			copy(nextPath, f.path)
			nextPath[len(f.path)] = t.labels[i]
			stack = append(stack, frame{node: child, path: nextPath})
		}
	}
	return results
}

const tag = "STRIE1."

// ByteSize returns the number of bytes Save appends.
func (t *Trie) ByteSize() int {
	return len(tag) + 4*3 + // nodeCount, edgeCount, numKeys
		len(t.childOffset)*4 +
		len(t.children)*4 +
		len(t.labels) +
		len(t.parent)*4 +
		len(t.parentLabel) +
		t.terminal.ByteSize()
}

// Save serializes the trie to a self-contained byte image.
func (t *Trie) Save() []byte {
	buf := make([]byte, 0, t.ByteSize())
	buf = append(buf, tag...)
	buf = appendU32(buf, uint32(len(t.childOffset)-1))
	buf = appendU32(buf, uint32(len(t.children)))
	buf = appendU32(buf, uint32(t.numKeys))
	for _, v := range t.childOffset {
		buf = appendU32(buf, v)
	}
	for _, v := range t.children {
		buf = appendU32(buf, v)
	}
	buf = append(buf, t.labels...)
	for _, v := range t.parent {
		buf = appendU32(buf, v)
	}
	buf = append(buf, t.parentLabel...)
	buf = t.terminal.Serialize(buf)
	return buf
}

// Map reconstructs a Trie from a byte image produced by Save. It decodes
// into owned slices rather than aliasing buf directly, since the
// fixed-width arrays are not inherently word-aligned within the outer
// artifact.
func Map(buf []byte) (*Trie, int, error) {
	if len(buf) < len(tag) || string(buf[:len(tag)]) != tag {
		return nil, 0, fmt.Errorf("sctrie: bad tag: %w", errs.MalformedData)
	}
	off := len(tag)
	readU32 := func() (uint32, error) {
		if len(buf) < off+4 {
			return 0, fmt.Errorf("sctrie: truncated header: %w", errs.MalformedData)
		}
		v := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		return v, nil
	}

	nodeCount, err := readU32()
	if err != nil {
		return nil, 0, err
	}
	edgeCount, err := readU32()
	if err != nil {
		return nil, 0, err
	}
	numKeys, err := readU32()
	if err != nil {
		return nil, 0, err
	}

	readU32Slice := func(n int) ([]uint32, error) {
		need := n * 4
		if len(buf) < off+need {
			return nil, fmt.Errorf("sctrie: truncated array: %w", errs.MalformedData)
		}
		out := make([]uint32, n)
		for i := 0; i < n; i++ {
			out[i] = binary.LittleEndian.Uint32(buf[off:])
			off += 4
		}
		return out, nil
	}
	readBytes := func(n int) ([]byte, error) {
		if len(buf) < off+n {
			return nil, fmt.Errorf("sctrie: truncated bytes: %w", errs.MalformedData)
		}
		out := append([]byte{}, buf[off:off+n]...)
		off += n
		return out, nil
	}

	childOffset, err := readU32Slice(int(nodeCount) + 1)
	if err != nil {
		return nil, 0, err
	}
	children, err := readU32Slice(int(edgeCount))
	if err != nil {
		return nil, 0, err
	}
	labels, err := readBytes(int(edgeCount))
	if err != nil {
		return nil, 0, err
	}
	parent, err := readU32Slice(int(nodeCount))
	if err != nil {
		return nil, 0, err
	}
	parentLabel, err := readBytes(int(nodeCount))
	if err != nil {
		return nil, 0, err
	}
	terminal, n, err := bitvector.Deserialize(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n

	t := &Trie{
		childOffset: childOffset,
		children:    children,
		labels:      labels,
		parent:      parent,
		parentLabel: parentLabel,
		terminal:    terminal,
		numKeys:     int(numKeys),
	}
	return t, off, nil
}

func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}
