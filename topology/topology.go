// Package topology derives which ranks exchange data with
// which during a collective reduce-scatter / all-gather.
package topology

import (
	"fmt"

	"github.com/unixpickle/ringsync/fault"
)

// A Kind names a supported connection layout.
type Kind string

const (
	// Ring arranges every rank on one or more rings, one
	// per configured rotation.
	Ring Kind = "ring"

	// Hierarchical splits the ranks into two equal levels,
	// with a ring inside each level and links between
	// corresponding positions of adjacent levels.
	Hierarchical Kind = "hierarchical"
)

// HierarchicalLevels is the fixed number of levels of a
// Hierarchical topology.
const HierarchicalLevels = 2

// Config is the static description of a topology.
type Config struct {
	Type         Kind  `yaml:"topology_type" json:"topology_type"`
	NumNodes     int   `yaml:"num_nodes" json:"num_nodes"`
	Permutations []int `yaml:"permutations" json:"permutations"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Type != Ring && c.Type != Hierarchical {
		return fault.Invalid("unsupported topology type: %q", c.Type)
	}
	if c.NumNodes <= 0 {
		return fault.Invalid("number of nodes must be positive, got %d", c.NumNodes)
	}
	if len(c.Permutations) == 0 {
		return fault.Invalid("at least one permutation must be specified")
	}
	for _, rotation := range c.Permutations {
		if rotation < 0 || rotation >= c.NumNodes {
			return fault.Invalid("permutation rotation %d outside [0, %d)", rotation, c.NumNodes)
		}
	}
	if c.Type == Hierarchical && (c.NumNodes < HierarchicalLevels || c.NumNodes%HierarchicalLevels != 0) {
		return fault.Invalid("hierarchical topology needs an even number of nodes, got %d", c.NumNodes)
	}
	return nil
}

// A Connection is a directed transfer from Src to Dst on
// one ring during one phase.
type Connection struct {
	Src      int
	Dst      int
	DataSize uint64
	RingID   int
}

func (c Connection) String() string {
	return fmt.Sprintf("%d->%d (ring %d, %d bytes)", c.Src, c.Dst, c.RingID, c.DataSize)
}

// A Topology answers connection queries for a validated
// Config.
//
// It holds no mutable state, so any number of goroutines
// may query it at once. Connection lists are recomputed on
// every call.
type Topology struct {
	config Config
}

// New validates config and creates a Topology.
func New(config Config) (*Topology, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.Permutations = append([]int{}, config.Permutations...)
	return &Topology{config: config}, nil
}

// Config returns a copy of the configuration.
func (t *Topology) Config() Config {
	res := t.config
	res.Permutations = append([]int{}, t.config.Permutations...)
	return res
}

// NumNodes returns the number of ranks.
func (t *Topology) NumNodes() int {
	return t.config.NumNodes
}

// NumRings returns the number of rings data is split over.
func (t *Topology) NumRings() int {
	if t.config.Type == Hierarchical {
		return HierarchicalLevels
	}
	return len(t.config.Permutations)
}

// Order returns the rank ordering of a ring: the identity
// ordering rotated left by the ring's rotation.
//
// It is only meaningful for Ring topologies.
func (t *Topology) Order(ringID int) []int {
	n := t.config.NumNodes
	rotation := t.config.Permutations[ringID]
	order := make([]int, n)
	for i := range order {
		order[i] = (i + rotation) % n
	}
	return order
}

// ReduceScatterConnections returns the outgoing transfers
// of rank during the reduce-scatter phase.
//
// Only forward edges are produced; the edge into rank is
// produced by its predecessor's own query.
// DataSize is left at zero for the caller to fill in.
func (t *Topology) ReduceScatterConnections(rank int) []Connection {
	t.checkRank(rank)
	switch t.config.Type {
	case Ring:
		return t.ringConnections(rank)
	case Hierarchical:
		return t.hierarchicalConnections(rank)
	}
	return nil
}

// AllGatherConnections returns the outgoing transfers of
// rank during the all-gather phase.
//
// The layouts are symmetric, so these are the same edges
// as the reduce-scatter phase.
func (t *Topology) AllGatherConnections(rank int) []Connection {
	return t.ReduceScatterConnections(rank)
}

// Inbound returns the transfers of one phase whose
// destination is rank.
func (t *Topology) Inbound(rank int) []Connection {
	t.checkRank(rank)
	var res []Connection
	for src := 0; src < t.config.NumNodes; src++ {
		for _, conn := range t.ReduceScatterConnections(src) {
			if conn.Dst == rank {
				res = append(res, conn)
			}
		}
	}
	return res
}

func (t *Topology) ringConnections(rank int) []Connection {
	n := t.config.NumNodes
	res := make([]Connection, 0, len(t.config.Permutations))
	for ringID := range t.config.Permutations {
		order := t.Order(ringID)
		pos := indexOf(order, rank)
		next := order[(pos+1)%n]
		res = append(res, Connection{Src: rank, Dst: next, RingID: ringID})
	}
	return res
}

func (t *Topology) hierarchicalConnections(rank int) []Connection {
	levelSize := t.config.NumNodes / HierarchicalLevels
	level := rank / levelSize
	pos := rank % levelSize

	res := []Connection{{
		Src:    rank,
		Dst:    level*levelSize + (pos+1)%levelSize,
		RingID: 0,
	}}
	if level < HierarchicalLevels-1 {
		res = append(res, Connection{
			Src:    rank,
			Dst:    (level+1)*levelSize + pos,
			RingID: 1,
		})
	}
	return res
}

func (t *Topology) checkRank(rank int) {
	if rank < 0 || rank >= t.config.NumNodes {
		panic(fmt.Sprintf("rank %d out of range [0, %d)", rank, t.config.NumNodes))
	}
}

func indexOf(order []int, rank int) int {
	for i, r := range order {
		if r == rank {
			return i
		}
	}
	panic("unreachable")
}
