package collcomm

import (
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/unixpickle/ringsync/simulator"
)

// A Recorder persists what the collecting rank learns
// during a run.
type Recorder interface {
	RecordBandwidth(bw *simulator.ConnMat) error
	RecordEpoch(result *EpochResult) error
}

// LogRecorder writes results to a logger.
type LogRecorder struct {
	Logger logrus.FieldLogger
}

// RecordBandwidth logs every measured link.
func (l *LogRecorder) RecordBandwidth(bw *simulator.ConnMat) error {
	for src := 0; src < bw.NumNodes(); src++ {
		for dst := src + 1; dst < bw.NumNodes(); dst++ {
			l.Logger.WithFields(logrus.Fields{
				"src":  src,
				"dst":  dst,
				"gbps": bw.Get(src, dst),
			}).Debug("measured bandwidth")
		}
	}
	return nil
}

// RecordEpoch logs the epoch summary, and the full matrix
// in megabytes at debug level.
func (l *LogRecorder) RecordEpoch(result *EpochResult) error {
	entry := l.Logger.WithFields(logrus.Fields{
		"epoch":     result.Epoch + 1,
		"steps":     result.Steps,
		"total_mb":  float64(result.Traffic.Total()) / BytesPerMB,
		"overflows": result.Overflows,
		"duration":  result.Duration,
	})
	entry.Info("epoch completed")
	entry.Debugf("epoch traffic matrix (MB):\n%s", result.Traffic)
	return nil
}

// MultiRecorder forwards to every recorder in order, even
// when some of them fail.
type MultiRecorder []Recorder

// RecordBandwidth records bw with every recorder.
func (m MultiRecorder) RecordBandwidth(bw *simulator.ConnMat) error {
	var errs *multierror.Error
	for _, r := range m {
		if err := r.RecordBandwidth(bw); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// RecordEpoch records result with every recorder.
func (m MultiRecorder) RecordEpoch(result *EpochResult) error {
	var errs *multierror.Error
	for _, r := range m {
		if err := r.RecordEpoch(result); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
