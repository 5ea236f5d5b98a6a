package collcomm

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/ringsync/fault"
	"github.com/unixpickle/ringsync/simulator"
)

// A Meter measures the bandwidth between two ranks in
// GB/s.
type Meter interface {
	Measure(src, dst int) (float64, error)
}

// UniformMeter reports the same bandwidth for every pair.
type UniformMeter float64

// Measure returns u.
func (u UniformMeter) Measure(src, dst int) (float64, error) {
	return float64(u), nil
}

// MeasureBandwidth measures every unordered pair of ranks
// once and returns a symmetric matrix of GB/s values.
// The diagonal is left at zero.
//
// If the forward measurement reports zero, the reverse direction
// is tried before giving up on the pair.
func MeasureBandwidth(numNodes int, p Meter) (*simulator.ConnMat, error) {
	if numNodes <= 0 {
		return nil, fault.Invalid("number of nodes must be positive, got %d", numNodes)
	}
	res := simulator.NewConnMat(numNodes)
	for i := 0; i < numNodes; i++ {
		for j := i + 1; j < numNodes; j++ {
			bw, err := p.Measure(i, j)
			if err != nil {
				return nil, errors.Wrapf(err, "measure bandwidth %d->%d", i, j)
			}
			if bw == 0 {
				bw, err = p.Measure(j, i)
				if err != nil {
					return nil, errors.Wrapf(err, "measure bandwidth %d->%d", j, i)
				}
			}
			if bw < 0 {
				return nil, fault.Errorf("negative bandwidth %f between ranks %d and %d", bw, i, j)
			}
			res.SetSymmetric(i, j, bw)
		}
	}
	return res, nil
}
