package collcomm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus instruments of a
// synchronization run.
//
// All methods are no-ops on a nil *Metrics.
type Metrics struct {
	Steps           prometheus.Counter
	Bytes           *prometheus.CounterVec
	Overflows       prometheus.Counter
	TransferSeconds prometheus.Histogram
	EpochBytes      prometheus.Gauge
}

// NewMetrics creates the instruments and registers them
// with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Steps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ringsync",
			Name:      "steps_total",
			Help:      "Synchronization steps run by all ranks",
		}),
		Bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringsync",
			Name:      "transfer_bytes_total",
			Help:      "Bytes assigned to connections, by phase",
		}, []string{"phase"}),
		Overflows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ringsync",
			Name:      "traffic_overflows_total",
			Help:      "Traffic matrix cells that went over the ceiling",
		}),
		TransferSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ringsync",
			Name:      "modeled_transfer_seconds",
			Help:      "Modeled transfer time of a single connection",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 10, 9),
		}),
		EpochBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ringsync",
			Name:      "epoch_traffic_bytes",
			Help:      "Total bytes in the most recent aggregated epoch",
		}),
	}
}

func (m *Metrics) observeStep() {
	if m == nil {
		return
	}
	m.Steps.Inc()
}

func (m *Metrics) observeTransfer(t Transfer) {
	if m == nil {
		return
	}
	m.Bytes.WithLabelValues(string(t.Phase)).Add(float64(t.Connection.DataSize))
	m.TransferSeconds.Observe(t.TransferTime)
}

func (m *Metrics) observeOverflow() {
	if m == nil {
		return
	}
	m.Overflows.Inc()
}

func (m *Metrics) observeEpoch(total uint64) {
	if m == nil {
		return
	}
	m.EpochBytes.Set(float64(total))
}
