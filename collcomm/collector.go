package collcomm

import "github.com/unixpickle/ringsync/fault"

// A Contribution is the local traffic of one rank for one
// epoch, sent to the collecting rank when the epoch ends.
type Contribution struct {
	Rank      int
	Epoch     int
	Steps     int
	Overflows int
	Traffic   *TrafficMat
}

// wireSize is the number of bytes a Contribution occupies
// on the network: one uint64 per cell plus a small header.
func (c *Contribution) wireSize() float64 {
	n := c.Traffic.NumNodes()
	return float64(8*n*n + 32)
}

// An EpochResult is the aggregated traffic of every rank
// over one epoch.
type EpochResult struct {
	Epoch     int
	Steps     int
	Overflows int
	Traffic   *TrafficMat

	// Duration is the virtual time the epoch took, in
	// seconds, including aggregation.
	Duration float64
}

// A Collector merges per-rank contributions into the
// global traffic matrix, one epoch at a time.
type Collector struct {
	numNodes int
	epoch    int

	merged    *TrafficMat
	seen      map[int]bool
	steps     int
	overflows int
}

// NewCollector creates a Collector expecting numNodes
// contributions per epoch, starting at epoch 0.
func NewCollector(numNodes int) *Collector {
	return &Collector{
		numNodes: numNodes,
		merged:   NewTrafficMat(numNodes),
		seen:     map[int]bool{},
	}
}

// Epoch returns the epoch currently being collected.
func (c *Collector) Epoch() int {
	return c.epoch
}

// Add merges a contribution.
//
// Once every rank has contributed, the aggregated result
// is returned and the Collector moves to the next epoch.
// Until then the result is nil.
func (c *Collector) Add(contrib *Contribution) (*EpochResult, error) {
	if contrib.Epoch != c.epoch {
		return nil, fault.Errorf("contribution from rank %d is for epoch %d, collecting epoch %d",
			contrib.Rank, contrib.Epoch, c.epoch)
	}
	if contrib.Rank < 0 || contrib.Rank >= c.numNodes {
		return nil, fault.Errorf("contribution from unknown rank %d", contrib.Rank)
	}
	if c.seen[contrib.Rank] {
		return nil, fault.Errorf("duplicate contribution from rank %d for epoch %d",
			contrib.Rank, contrib.Epoch)
	}
	if contrib.Traffic.NumNodes() != c.numNodes {
		return nil, fault.Errorf("contribution from rank %d has %d nodes, expected %d",
			contrib.Rank, contrib.Traffic.NumNodes(), c.numNodes)
	}

	c.seen[contrib.Rank] = true
	c.merged.Merge(contrib.Traffic)
	c.overflows += contrib.Overflows
	if contrib.Steps > c.steps {
		c.steps = contrib.Steps
	}
	if len(c.seen) < c.numNodes {
		return nil, nil
	}

	res := &EpochResult{
		Epoch:     c.epoch,
		Steps:     c.steps,
		Overflows: c.overflows,
		Traffic:   c.merged,
	}
	c.epoch++
	c.merged = NewTrafficMat(c.numNodes)
	c.seen = map[int]bool{}
	c.steps = 0
	c.overflows = 0
	return res, nil
}
