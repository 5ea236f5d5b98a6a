package simulator

import (
	"math"
	"sync"
)

// A Node is a simulated machine, one per rank.
type Node struct {
	unused int
}

// NewNode creates a new, unique Node.
func NewNode() *Node {
	return &Node{}
}

// Port creates a new Port attached to the Node.
func (n *Node) Port(loop *EventLoop) *Port {
	return &Port{Node: n, Incoming: loop.Stream()}
}

// A Port is an endpoint on a Node that messages are sent
// from and received on.
type Port struct {
	// Node is the machine that owns the Port.
	Node *Node

	// Incoming is a stream of *Message objects.
	Incoming *EventStream
}

// Recv receives the next message.
func (p *Port) Recv(h *Handle) *Message {
	return h.Poll(p.Incoming).Message.(*Message)
}

// A Message is a chunk of data sent between nodes.
type Message struct {
	Source  *Port
	Dest    *Port
	Message interface{}

	// Size is the number of bytes on the wire.
	Size float64
}

// A Network carries messages between nodes.
type Network interface {
	// Send schedules the messages for delivery on their
	// destinations' Incoming streams.
	//
	// This does not block.
	//
	// Passing many messages at once is preferable, since
	// the network may otherwise have to re-plan the whole
	// delivery timeline for every call.
	Send(h *Handle, msgs ...*Message)
}

// A SwitcherNetwork passes data through a Switcher.
// Concurrent messages share the bandwidth the Switcher
// grants, so each one may take longer to arrive.
//
// It also counts the bytes sent along every edge.
type SwitcherNetwork struct {
	lock sync.Mutex

	switcher Switcher
	nodes    []*Node
	indices  map[*Node]int
	latency  float64

	sent *ConnMat
	plan switchedPlan
}

// NewSwitcherNetwork creates a SwitcherNetwork over nodes,
// where node i is the i-th row and column of every
// matrix the Switcher sees.
//
// The latency is added to every delivery. It is counted
// towards oversubscription, so congestion during latency
// periods is overestimated.
func NewSwitcherNetwork(switcher Switcher, nodes []*Node, latency float64) *SwitcherNetwork {
	indices := make(map[*Node]int, len(nodes))
	for i, node := range nodes {
		indices[node] = i
	}
	return &SwitcherNetwork{
		switcher: switcher,
		nodes:    nodes,
		indices:  indices,
		latency:  latency,
		sent:     NewConnMat(len(nodes)),
	}
}

// Send sends the messages over the network.
//
// This may slow down messages already in flight.
func (s *SwitcherNetwork) Send(h *Handle, msgs ...*Message) {
	s.lock.Lock()
	defer s.lock.Unlock()

	state := s.stopPlan(h)
	for _, msg := range msgs {
		src, dst := s.indices[msg.Source.Node], s.indices[msg.Dest.Node]
		s.sent.Set(src, dst, s.sent.Get(src, dst)+msg.Size)
		state = append(state, &switchedMsg{
			msg:              msg,
			remainingLatency: s.latency,
			remainingSize:    msg.Size,
		})
	}
	s.createPlan(h, state)
}

// Sent returns a copy of the cumulative bytes sent along
// every edge.
func (s *SwitcherNetwork) Sent() *ConnMat {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.sent.Copy()
}

func (s *SwitcherNetwork) stopPlan(h *Handle) []*switchedMsg {
	var currentState []*switchedMsg
	for _, step := range s.plan {
		if h.Time() >= step.endTime {
			// The timers may have fired already.
			continue
		}
		if h.Time() >= step.startTime {
			elapsed := h.Time() - step.startTime
			for _, msg := range step.startState {
				currentState = append(currentState, msg.AddTime(elapsed))
			}
		}
		for _, timer := range step.timers {
			h.Cancel(timer)
		}
	}
	return currentState
}

func (s *SwitcherNetwork) computeDataRates(state []*switchedMsg) {
	// During the latency period the sender's NIC is
	// treated as busy, which is slightly pessimistic.
	mat := NewConnMat(len(s.nodes))
	counts := NewConnMat(len(s.nodes))
	for _, msg := range state {
		src, dst := s.indices[msg.msg.Source.Node], s.indices[msg.msg.Dest.Node]
		mat.Set(src, dst, 1)
		counts.Set(src, dst, counts.Get(src, dst)+1)
	}
	s.switcher.SwitchedRates(mat)
	for _, msg := range state {
		src, dst := s.indices[msg.msg.Source.Node], s.indices[msg.msg.Dest.Node]
		msg.dataRate = mat.Get(src, dst) / counts.Get(src, dst)
	}
}

func (s *SwitcherNetwork) createPlan(h *Handle, state []*switchedMsg) {
	s.plan = make(switchedPlan, 0, len(state))
	startTime := h.Time()
	for len(state) > 0 {
		s.computeDataRates(state)

		nextMsgs, newState, lowestETA := messagesWithLowestETA(state)

		timers := make([]*Timer, len(nextMsgs))
		for i, msg := range nextMsgs {
			delay := startTime - h.Time() + lowestETA
			timers[i] = h.Schedule(msg.msg.Dest.Incoming, msg.msg, delay)
		}

		endTime := timers[0].Time()
		s.plan = append(s.plan, &switchedPlanSegment{
			startTime:  startTime,
			endTime:    endTime,
			timers:     timers,
			startState: state,
		})

		for i, msg := range newState {
			newState[i] = msg.AddTime(endTime - startTime)
		}
		state = newState
		startTime = endTime
	}
}

// switchedMsg is the progress of one in-flight message.
type switchedMsg struct {
	msg *Message

	remainingLatency float64

	remainingSize float64
	dataRate      float64
}

// ETA gets the time until the message arrives.
func (s *switchedMsg) ETA() float64 {
	if s.remainingSize <= 0 {
		return math.Max(0, s.remainingLatency)
	}
	return math.Max(0, s.remainingLatency+s.remainingSize/s.dataRate)
}

// AddTime advances the message by t units of time.
func (s *switchedMsg) AddTime(t float64) *switchedMsg {
	res := *s

	if t < res.remainingLatency {
		res.remainingLatency -= t
		return &res
	}

	t -= res.remainingLatency
	res.remainingLatency = 0
	res.remainingSize -= res.dataRate * t

	return &res
}

// switchedPlanSegment is a period during which the set of
// in-flight messages does not change.
//
// Each segment ends with at least one Timer, which
// delivers a message.
type switchedPlanSegment struct {
	startTime float64
	endTime   float64
	timers    []*Timer

	startState []*switchedMsg
}

// switchedPlan is the sequence of segments that delivers
// every in-flight message.
type switchedPlan []*switchedPlanSegment

func messagesWithLowestETA(msgs []*switchedMsg) (lowest, rest []*switchedMsg, lowestETA float64) {
	etas := make([]float64, len(msgs))
	for i, msg := range msgs {
		etas[i] = msg.ETA()
	}
	lowestETA = etas[0]
	for _, eta := range etas {
		if eta < lowestETA {
			lowestETA = eta
		}
	}

	lowest = make([]*switchedMsg, 0, 1)
	rest = make([]*switchedMsg, 0, len(msgs)-1)

	for i, msg := range msgs {
		if etas[i] == lowestETA {
			lowest = append(lowest, msg)
		} else {
			rest = append(rest, msg)
		}
	}

	return lowest, rest, lowestETA
}
