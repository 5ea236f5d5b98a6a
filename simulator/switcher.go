package simulator

// A Switcher decides how fast data flows between nodes
// when several transfers compete for the same links.
type Switcher interface {
	// SwitchedRates computes the rate of every connection.
	//
	// On entry mat holds 1 wherever a node wants to send
	// to another node and 0 elsewhere. On return it holds
	// the rate granted to each pair.
	SwitchedRates(mat *ConnMat)
}

// A GreedyDropSwitcher splits a node's upload evenly over
// its outgoing connections, then drops incoming data
// uniformly when a node's download is oversubscribed.
//
// This is equivalent to normalizing the rows of the
// connection matrix and then the columns.
type GreedyDropSwitcher struct {
	SendRates []float64
	RecvRates []float64
}

// NewGreedyDropSwitcher creates a GreedyDropSwitcher with
// the same upload and download rate on every node.
func NewGreedyDropSwitcher(numNodes int, rate float64) *GreedyDropSwitcher {
	rates := make([]float64, numNodes)
	for i := range rates {
		rates[i] = rate
	}
	return &GreedyDropSwitcher{
		SendRates: rates,
		RecvRates: append([]float64{}, rates...),
	}
}

// NewBandwidthSwitcher creates a GreedyDropSwitcher from a
// measured bandwidth matrix.
//
// Each node may upload at its fastest outgoing link and
// download at its fastest incoming link, multiplied by
// scale to convert units.
func NewBandwidthSwitcher(bandwidth *ConnMat, scale float64) *GreedyDropSwitcher {
	n := bandwidth.NumNodes()
	res := &GreedyDropSwitcher{
		SendRates: make([]float64, n),
		RecvRates: make([]float64, n),
	}
	for src := 0; src < n; src++ {
		for dst := 0; dst < n; dst++ {
			rate := bandwidth.Get(src, dst) * scale
			if rate > res.SendRates[src] {
				res.SendRates[src] = rate
			}
			if rate > res.RecvRates[dst] {
				res.RecvRates[dst] = rate
			}
		}
	}
	return res
}

// NumNodes gets the number of nodes the switch expects.
func (g *GreedyDropSwitcher) NumNodes() int {
	return len(g.SendRates)
}

// SwitchedRates performs the switching algorithm.
func (g *GreedyDropSwitcher) SwitchedRates(mat *ConnMat) {
	if mat.NumNodes() != g.NumNodes() {
		panic("unexpected number of nodes")
	}

	for src := 0; src < g.NumNodes(); src++ {
		numDests := mat.SumSource(src)
		if numDests > 0 {
			mat.ScaleSource(src, g.SendRates[src]/numDests)
		}
	}

	for dst := 0; dst < g.NumNodes(); dst++ {
		incomingRate := mat.SumDest(dst)
		if incomingRate > g.RecvRates[dst] {
			mat.ScaleDest(dst, g.RecvRates[dst]/incomingRate)
		}
	}
}
