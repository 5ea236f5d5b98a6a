package collcomm

import "github.com/unixpickle/ringsync/simulator"

// Comms is one rank's view of a simulated cluster.
//
// Every rank gets its own Comms, bound to the goroutine
// the rank runs in.
type Comms struct {
	// Handle is the rank's handle on the event loop.
	Handle *simulator.Handle

	// Port is the current rank's port.
	Port *simulator.Port

	// Ports contains the ports of every rank, indexed by
	// rank, including the current one.
	Ports []*simulator.Port

	// Network is the network connecting the ranks.
	Network simulator.Network
}

// SpawnComms creates a Comms for every node, where node i
// becomes rank i, and calls f for each one in its own
// goroutine on the loop.
func SpawnComms(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(c *Comms)) {
	ports := make([]*simulator.Port, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
	}
	for i := range nodes {
		port := ports[i]
		loop.Go(func(h *simulator.Handle) {
			f(&Comms{
				Handle:  h,
				Port:    port,
				Ports:   ports,
				Network: network,
			})
		})
	}
}

// Size gets the number of ranks.
func (c *Comms) Size() int {
	return len(c.Ports)
}

// Send schedules one message per destination rank. All of
// the messages are handed to the network at once.
func (c *Comms) Send(dsts []int, payloads []interface{}, sizes []float64) {
	if len(dsts) == 0 {
		return
	}
	messages := make([]*simulator.Message, len(dsts))
	for i, dst := range dsts {
		messages[i] = &simulator.Message{
			Source:  c.Port,
			Dest:    c.Ports[dst],
			Message: payloads[i],
			Size:    sizes[i],
		}
	}
	c.Network.Send(c.Handle, messages...)
}

// Recv receives the next message and the rank it came
// from.
func (c *Comms) Recv() (interface{}, int) {
	res := c.Port.Recv(c.Handle)
	return res.Message, c.IndexOf(res.Source)
}

// Index returns the current rank.
func (c *Comms) Index() int {
	return c.IndexOf(c.Port)
}

// IndexOf returns the rank that owns a port.
func (c *Comms) IndexOf(p *simulator.Port) int {
	for i, port := range c.Ports {
		if port == p {
			return i
		}
	}
	panic("unreachable")
}
