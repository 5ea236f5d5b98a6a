package collcomm

import (
	"github.com/sirupsen/logrus"
	"github.com/unixpickle/ringsync/topology"
)

// MaxBufferSize is the default per-edge traffic ceiling.
const MaxBufferSize uint64 = 1 << 30

// A Phase is one half of a ring allreduce.
type Phase string

const (
	ReduceScatter Phase = "reduce_scatter"
	AllGather     Phase = "all_gather"
)

// Phases lists the phases of a step in execution order.
var Phases = []Phase{ReduceScatter, AllGather}

// A Transfer is one connection of a step together with its
// modeled duration in seconds.
type Transfer struct {
	Phase        Phase
	Connection   topology.Connection
	TransferTime float64
}

// An Overflow records a traffic cell that went over the
// ceiling. Overflows do not stop the step.
type Overflow struct {
	Phase       Phase
	Connection  topology.Connection
	Accumulated uint64
	Ceiling     uint64
}

// A StepReport describes what one rank did during a step.
type StepReport struct {
	Rank      int
	Step      int
	Transfers []Transfer
	Overflows []Overflow
}

// PhaseTransfers returns the transfers of one phase.
func (s *StepReport) PhaseTransfers(phase Phase) []Transfer {
	var res []Transfer
	for _, t := range s.Transfers {
		if t.Phase == phase {
			res = append(res, t)
		}
	}
	return res
}

// Bytes sums the data size of every transfer.
func (s *StepReport) Bytes() uint64 {
	var sum uint64
	for _, t := range s.Transfers {
		sum += t.Connection.DataSize
	}
	return sum
}

// A Synchronizer does the traffic accounting of one rank
// for a reduce-scatter followed by an all-gather.
//
// It models transfers but does not move any data. A
// transport-backed allreduce would use the same connection
// set and chunk sizes.
//
// A Synchronizer is not safe for concurrent use.
type Synchronizer struct {
	Topology *topology.Topology
	Rank     int

	// BandwidthLimit is the link speed in GB/s used for
	// every edge of the transfer-time model.
	// A non-positive value disables the model.
	BandwidthLimit float64

	// Ceiling is the per-edge byte count above which an
	// overflow is reported. Zero means MaxBufferSize.
	Ceiling uint64

	// DistributeRemainder gives the bytes left over by the
	// per-ring split to the last ring. Otherwise they are
	// dropped.
	DistributeRemainder bool

	// Traffic accumulates the bytes sent on each edge.
	// It is created on the first Step if nil.
	Traffic *TrafficMat

	Logger  logrus.FieldLogger
	Metrics *Metrics

	steps int
}

// Step accounts for one synchronization of params.
func (s *Synchronizer) Step(params ParameterSource) *StepReport {
	s.init()

	report := &StepReport{Rank: s.Rank, Step: s.steps}
	s.steps++

	sizes := RingSizes(params.ParameterBytes(), s.Topology.NumRings(), s.DistributeRemainder)
	for _, phase := range Phases {
		var conns []topology.Connection
		if phase == ReduceScatter {
			conns = s.Topology.ReduceScatterConnections(s.Rank)
		} else {
			conns = s.Topology.AllGatherConnections(s.Rank)
		}
		for _, conn := range conns {
			conn.DataSize = sizes[conn.RingID]
			transfer := Transfer{
				Phase:        phase,
				Connection:   conn,
				TransferTime: s.transferTime(conn.DataSize),
			}
			report.Transfers = append(report.Transfers, transfer)
			s.Metrics.observeTransfer(transfer)

			cell := s.Traffic.Add(conn.Src, conn.Dst, conn.DataSize)
			if cell > s.ceiling() {
				overflow := Overflow{
					Phase:       phase,
					Connection:  conn,
					Accumulated: cell,
					Ceiling:     s.ceiling(),
				}
				report.Overflows = append(report.Overflows, overflow)
				s.Metrics.observeOverflow()
				s.Logger.WithFields(logrus.Fields{
					"src":         conn.Src,
					"dst":         conn.Dst,
					"phase":       phase,
					"accumulated": cell,
					"ceiling":     s.ceiling(),
				}).Warn("buffer overflow detected between ranks")
			}
		}
	}
	s.Metrics.observeStep()
	return report
}

// ResetEpoch zeroes the traffic matrix and the step
// counter.
func (s *Synchronizer) ResetEpoch() {
	s.init()
	s.Traffic.Reset()
	s.steps = 0
}

func (s *Synchronizer) init() {
	if s.Traffic == nil {
		s.Traffic = NewTrafficMat(s.Topology.NumNodes())
	}
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
}

func (s *Synchronizer) ceiling() uint64 {
	if s.Ceiling == 0 {
		return MaxBufferSize
	}
	return s.Ceiling
}

func (s *Synchronizer) transferTime(size uint64) float64 {
	if s.BandwidthLimit <= 0 {
		return 0
	}
	return float64(size) / (s.BandwidthLimit * 1e9)
}

// RingSizes splits total bytes evenly over numRings.
//
// Integer division drops the remainder unless
// distributeRemainder is set, in which case the last ring
// carries it.
func RingSizes(total uint64, numRings int, distributeRemainder bool) []uint64 {
	res := make([]uint64, numRings)
	if numRings == 0 {
		return res
	}
	perRing := total / uint64(numRings)
	for i := range res {
		res[i] = perRing
	}
	if distributeRemainder {
		res[numRings-1] += total % uint64(numRings)
	}
	return res
}
