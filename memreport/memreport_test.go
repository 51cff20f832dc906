package memreport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumTotalsChildren(t *testing.T) {
	r := Sum("root", Leaf("a", 10), Leaf("b", 20))
	require.Equal(t, 30, r.TotalBytes)
	require.Len(t, r.Children, 2)
}

func TestLeafHasNoChildren(t *testing.T) {
	l := Leaf("x", 5)
	require.Equal(t, 5, l.TotalBytes)
	require.Empty(t, l.Children)
}

func TestJSONRoundTripsFields(t *testing.T) {
	r := Sum("root", Leaf("a", 1))
	js := r.JSON()
	require.Contains(t, js, `"name":"root"`)
	require.Contains(t, js, `"total_bytes":1`)
}
