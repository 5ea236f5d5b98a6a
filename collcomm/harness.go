package collcomm

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/unixpickle/ringsync/fault"
	"github.com/unixpickle/ringsync/simulator"
	"github.com/unixpickle/ringsync/topology"
)

// A Harness runs every rank of a topology in one process,
// on a simulated bandwidth-limited network.
//
// Each rank keeps its own traffic matrix. Chunks travel
// over the network once per connection and phase, and at
// the end of every epoch each rank sends its matrix to
// rank 0, which aggregates them with a Collector.
type Harness struct {
	Topology *topology.Topology
	Params   ParameterSource

	// BandwidthLimit is the link speed in GB/s.
	BandwidthLimit float64

	// Bandwidth is an optional measured GB/s matrix used
	// for the simulated links. If nil, every link runs at
	// BandwidthLimit.
	Bandwidth *simulator.ConnMat

	// Latency is added to every message, in virtual
	// seconds.
	Latency float64

	Ceiling             uint64
	DistributeRemainder bool

	Epochs        int
	StepsPerEpoch int

	Recorder Recorder
	Logger   logrus.FieldLogger
	Metrics  *Metrics
}

// A RunResult summarizes a harness run.
type RunResult struct {
	Epochs    []*EpochResult
	Bandwidth *simulator.ConnMat

	// Sent is the number of bytes the simulated network
	// carried on each edge, aggregation messages included.
	Sent *simulator.ConnMat

	// Duration is the total virtual time in seconds.
	Duration float64
}

const collectPhase Phase = "collect"

// A tag identifies which exchange a message belongs to.
type tag struct {
	epoch int
	step  int
	phase Phase
}

type envelope struct {
	tag  tag
	body interface{}
}

// A mailbox stashes messages that arrive before the rank
// is ready for them.
type mailbox struct {
	comms *Comms
	stash map[tag][]interface{}
}

func (m *mailbox) recv(t tag) interface{} {
	if bodies := m.stash[t]; len(bodies) > 0 {
		m.stash[t] = bodies[1:]
		return bodies[0]
	}
	for {
		msg, _ := m.comms.Recv()
		env := msg.(*envelope)
		if env.tag == t {
			return env.body
		}
		m.stash[env.tag] = append(m.stash[env.tag], env.body)
	}
}

// Run simulates every epoch and returns the aggregated
// results.
//
// Failures of individual ranks are collected rather than
// stopping the run; they are returned together.
func (h *Harness) Run() (*RunResult, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	n := h.Topology.NumNodes()

	bw := h.Bandwidth
	if bw == nil {
		var err error
		bw, err = MeasureBandwidth(n, UniformMeter(h.BandwidthLimit))
		if err != nil {
			return nil, err
		}
	}
	if h.Recorder != nil {
		if err := h.Recorder.RecordBandwidth(bw); err != nil {
			return nil, errors.Wrap(err, "record bandwidth")
		}
	}

	nodes := make([]*simulator.Node, n)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	network := simulator.NewSwitcherNetwork(h.switcher(bw), nodes, h.Latency)
	loop := simulator.NewEventLoop()

	rankErrs := make([]error, n)
	res := &RunResult{Bandwidth: bw}
	SpawnComms(loop, network, nodes, func(c *Comms) {
		epochs, err := h.runRank(c)
		rankErrs[c.Index()] = err
		if c.Index() == 0 {
			res.Epochs = epochs
		}
	})

	var result *multierror.Error
	if err := loop.Run(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "simulation"))
	}
	for rank, err := range rankErrs {
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "rank %d", rank))
		}
	}
	res.Sent = network.Sent()
	res.Duration = loop.Time()
	return res, result.ErrorOrNil()
}

func (h *Harness) runRank(c *Comms) ([]*EpochResult, error) {
	rank := c.Index()
	logger := h.logger().WithField("rank", rank)
	sync := &Synchronizer{
		Topology:            h.Topology,
		Rank:                rank,
		BandwidthLimit:      h.BandwidthLimit,
		Ceiling:             h.Ceiling,
		DistributeRemainder: h.DistributeRemainder,
		Logger:              logger,
		Metrics:             h.Metrics,
	}
	box := &mailbox{comms: c, stash: map[tag][]interface{}{}}
	inbound := len(h.Topology.Inbound(rank))

	var collector *Collector
	if rank == 0 {
		collector = NewCollector(c.Size())
	}

	var results []*EpochResult
	var errs *multierror.Error
	for epoch := 0; epoch < h.Epochs; epoch++ {
		sync.ResetEpoch()
		start := c.Handle.Time()
		overflows := 0

		for step := 0; step < h.StepsPerEpoch; step++ {
			stepStart := c.Handle.Time()
			report := sync.Step(h.Params)
			overflows += len(report.Overflows)
			for _, phase := range Phases {
				h.exchange(c, box, tag{epoch: epoch, step: step, phase: phase},
					report.PhaseTransfers(phase), inbound)
			}
			logger.WithFields(logrus.Fields{
				"epoch": epoch + 1,
				"step":  step + 1,
				"time":  c.Handle.Time() - stepStart,
			}).Debug("step completed")
		}

		contrib := &Contribution{
			Rank:      rank,
			Epoch:     epoch,
			Steps:     h.StepsPerEpoch,
			Overflows: overflows,
			Traffic:   sync.Traffic.Clone(),
		}
		collectTag := tag{epoch: epoch, step: -1, phase: collectPhase}
		if rank != 0 {
			c.Send([]int{0}, []interface{}{&envelope{tag: collectTag, body: contrib}},
				[]float64{contrib.wireSize()})
			continue
		}

		result, err := collector.Add(contrib)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		for i := 1; i < c.Size(); i++ {
			r, err := collector.Add(box.recv(collectTag).(*Contribution))
			if err != nil {
				errs = multierror.Append(errs, err)
			} else if r != nil {
				result = r
			}
		}
		if result == nil {
			continue
		}
		result.Duration = c.Handle.Time() - start
		h.Metrics.observeEpoch(result.Traffic.Total())
		if h.Recorder != nil {
			if err := h.Recorder.RecordEpoch(result); err != nil {
				errs = multierror.Append(errs, errors.Wrapf(err, "record epoch %d", epoch))
			}
		}
		results = append(results, result)
	}
	return results, errs.ErrorOrNil()
}

// exchange sends the chunks of one phase and waits for the
// chunks the rank is due to receive.
func (h *Harness) exchange(c *Comms, box *mailbox, t tag, transfers []Transfer, inbound int) {
	dsts := make([]int, len(transfers))
	payloads := make([]interface{}, len(transfers))
	sizes := make([]float64, len(transfers))
	for i, transfer := range transfers {
		dsts[i] = transfer.Connection.Dst
		payloads[i] = &envelope{tag: t, body: transfer.Connection}
		sizes[i] = float64(transfer.Connection.DataSize)
	}
	c.Send(dsts, payloads, sizes)

	var received uint64
	for i := 0; i < inbound; i++ {
		received += box.recv(t).(topology.Connection).DataSize
	}
	if t.phase == ReduceScatter {
		c.Handle.Sleep(ReduceTime(received))
	}
}

// switcher builds the simulated switch from a GB/s matrix.
// Ranks without any measured link, such as the only rank
// of a single-node ring, get BandwidthLimit.
func (h *Harness) switcher(bw *simulator.ConnMat) simulator.Switcher {
	s := simulator.NewBandwidthSwitcher(bw, 1e9)
	for i := range s.SendRates {
		if s.SendRates[i] <= 0 {
			s.SendRates[i] = h.BandwidthLimit * 1e9
		}
		if s.RecvRates[i] <= 0 {
			s.RecvRates[i] = h.BandwidthLimit * 1e9
		}
	}
	return s
}

func (h *Harness) validate() error {
	if h.Topology == nil {
		return fault.Invalid("harness needs a topology")
	}
	if h.Params == nil {
		return fault.Invalid("harness needs a parameter source")
	}
	if h.BandwidthLimit <= 0 {
		return fault.Invalid("bandwidth limit must be positive, got %f", h.BandwidthLimit)
	}
	if h.Bandwidth != nil && h.Bandwidth.NumNodes() != h.Topology.NumNodes() {
		return fault.Invalid("bandwidth matrix has %d nodes, topology has %d",
			h.Bandwidth.NumNodes(), h.Topology.NumNodes())
	}
	if h.Latency < 0 {
		return fault.Invalid("latency must not be negative, got %f", h.Latency)
	}
	if h.Epochs < 0 || h.StepsPerEpoch < 0 {
		return fault.Invalid("epochs (%d) and steps per epoch (%d) must not be negative",
			h.Epochs, h.StepsPerEpoch)
	}
	return nil
}

func (h *Harness) logger() logrus.FieldLogger {
	if h.Logger == nil {
		return logrus.StandardLogger()
	}
	return h.Logger
}
