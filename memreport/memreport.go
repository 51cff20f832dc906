// Package memreport provides a small hierarchical byte-size report, used by
// the reader and the query CLI to break an open artifact's footprint down
// by segment (key trie, PForDelta image, value segments, hash tables).
package memreport

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MemReport is one node in a tree of named byte counts. A writer/reader
// component contributes one node per segment it owns; Children lets a
// segment break itself down further (e.g. a hash table's per-length
// buckets).
type MemReport struct {
	Name       string      `json:"name"`
	TotalBytes int         `json:"total_bytes"`
	Children   []MemReport `json:"children,omitempty"`
}

// Sum returns a MemReport named name whose TotalBytes is the sum of
// children's TotalBytes.
func Sum(name string, children ...MemReport) MemReport {
	total := 0
	for _, c := range children {
		total += c.TotalBytes
	}
	return MemReport{Name: name, TotalBytes: total, Children: children}
}

// Leaf returns a childless MemReport.
func Leaf(name string, bytes int) MemReport {
	return MemReport{Name: name, TotalBytes: bytes}
}

// Print writes the report as an indented tree to stdout.
func (r MemReport) Print(indent int) {
	prefix := strings.Repeat("  ", indent)
	fmt.Printf("%s- %s: %d bytes\n", prefix, r.Name, r.TotalBytes)
	for _, child := range r.Children {
		child.Print(indent + 1)
	}
}

// JSON renders the report as a JSON string.
func (r MemReport) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(b)
}
