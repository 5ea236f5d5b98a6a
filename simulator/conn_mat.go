package simulator

import "fmt"

// A ConnMat is a dense square matrix indexed by
// (source rank, destination rank).
//
// The simulator uses it both for transfer rates and for
// byte counts. It is not safe for concurrent mutation.
type ConnMat struct {
	numNodes int
	values   []float64
}

// NewConnMat creates an all-zero matrix.
func NewConnMat(numNodes int) *ConnMat {
	return &ConnMat{
		numNodes: numNodes,
		values:   make([]float64, numNodes*numNodes),
	}
}

// NumNodes returns the number of nodes.
func (c *ConnMat) NumNodes() int {
	return c.numNodes
}

// Get an entry in the matrix.
func (c *ConnMat) Get(src, dst int) float64 {
	return c.values[c.index(src, dst)]
}

// Set an entry in the matrix.
func (c *ConnMat) Set(src, dst int, value float64) {
	c.values[c.index(src, dst)] = value
}

// SetSymmetric sets both (a, b) and (b, a).
func (c *ConnMat) SetSymmetric(a, b int, value float64) {
	c.Set(a, b, value)
	c.Set(b, a, value)
}

// Copy creates a deep copy of the matrix.
func (c *ConnMat) Copy() *ConnMat {
	return &ConnMat{
		numNodes: c.numNodes,
		values:   append([]float64{}, c.values...),
	}
}

// SumDest sums a column of the matrix.
func (c *ConnMat) SumDest(dst int) float64 {
	var sum float64
	for i := 0; i < c.numNodes; i++ {
		sum += c.Get(i, dst)
	}
	return sum
}

// SumSource sums a row of the matrix.
func (c *ConnMat) SumSource(src int) float64 {
	var sum float64
	for i := 0; i < c.numNodes; i++ {
		sum += c.Get(src, i)
	}
	return sum
}

// ScaleDest scales a column of the matrix.
func (c *ConnMat) ScaleDest(dst int, scale float64) {
	for i := 0; i < c.numNodes; i++ {
		c.Set(i, dst, c.Get(i, dst)*scale)
	}
}

// ScaleSource scales a row of the matrix.
func (c *ConnMat) ScaleSource(src int, scale float64) {
	for i := 0; i < c.numNodes; i++ {
		c.Set(src, i, c.Get(src, i)*scale)
	}
}

func (c *ConnMat) index(src, dst int) int {
	if src < 0 || dst < 0 || src >= c.numNodes || dst >= c.numNodes {
		panic(fmt.Sprintf("index (%d, %d) out of bounds for %d nodes", src, dst, c.numNodes))
	}
	return src*c.numNodes + dst
}
