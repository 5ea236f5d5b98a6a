package collcomm

import (
	"fmt"
	"strings"
)

// BytesPerMB is used when rendering traffic in megabytes.
const BytesPerMB = 1024 * 1024

// A TrafficMat counts the bytes sent along every directed
// edge, indexed by (source rank, destination rank).
//
// It is not safe for concurrent use. Each rank owns its
// own TrafficMat; matrices from different ranks are
// combined with Merge.
type TrafficMat struct {
	numNodes int
	bytes    []uint64
}

// NewTrafficMat creates an all-zero matrix.
func NewTrafficMat(numNodes int) *TrafficMat {
	return &TrafficMat{
		numNodes: numNodes,
		bytes:    make([]uint64, numNodes*numNodes),
	}
}

// NumNodes returns the number of ranks.
func (t *TrafficMat) NumNodes() int {
	return t.numNodes
}

// Add adds n bytes to the (src, dst) cell and returns the
// new cell value.
func (t *TrafficMat) Add(src, dst int, n uint64) uint64 {
	idx := t.index(src, dst)
	t.bytes[idx] += n
	return t.bytes[idx]
}

// Get returns the bytes counted on the (src, dst) edge.
func (t *TrafficMat) Get(src, dst int) uint64 {
	return t.bytes[t.index(src, dst)]
}

// Reset zeroes every cell.
func (t *TrafficMat) Reset() {
	for i := range t.bytes {
		t.bytes[i] = 0
	}
}

// Merge adds every cell of other into t.
func (t *TrafficMat) Merge(other *TrafficMat) {
	if other.numNodes != t.numNodes {
		panic(fmt.Sprintf("cannot merge %d-node matrix into %d-node matrix",
			other.numNodes, t.numNodes))
	}
	for i, x := range other.bytes {
		t.bytes[i] += x
	}
}

// Total sums every cell.
func (t *TrafficMat) Total() uint64 {
	var sum uint64
	for _, x := range t.bytes {
		sum += x
	}
	return sum
}

// Clone creates a deep copy of the matrix.
func (t *TrafficMat) Clone() *TrafficMat {
	return &TrafficMat{
		numNodes: t.numNodes,
		bytes:    append([]uint64{}, t.bytes...),
	}
}

// String renders the matrix in megabytes, one row per
// source rank.
func (t *TrafficMat) String() string {
	var b strings.Builder
	for src := 0; src < t.numNodes; src++ {
		for dst := 0; dst < t.numNodes; dst++ {
			if dst > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%.2f", float64(t.Get(src, dst))/BytesPerMB)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (t *TrafficMat) index(src, dst int) int {
	if src < 0 || dst < 0 || src >= t.numNodes || dst >= t.numNodes {
		panic(fmt.Sprintf("index (%d, %d) out of bounds for %d nodes", src, dst, t.numNodes))
	}
	return src*t.numNodes + dst
}
