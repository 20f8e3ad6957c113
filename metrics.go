package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the relay itself does. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Samples        prometheus.Counter
	BatchesSent    prometheus.Counter
	BatchesDropped prometheus.Counter
	Reconnects     prometheus.Counter
	CycleErrors    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
}

// Stage labels for es2graphite_cycle_errors_total.
const (
	StageFetch = "fetch"
	StageSend  = "send"
)

// NewMetrics creates the relay metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "es2graphite_samples_total",
			Help: "Samples flattened from node statistics.",
		}),
		BatchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "es2graphite_batches_sent_total",
			Help: "Batches written to the collector.",
		}),
		BatchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "es2graphite_batches_dropped_total",
			Help: "Batches abandoned after exhausting reconnect retries.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "es2graphite_reconnects_total",
			Help: "Reconnect attempts after a broken connection.",
		}),
		CycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "es2graphite_cycle_errors_total",
			Help: "Poll cycles that ended with an error, by stage.",
		}, []string{"stage"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "es2graphite_cycle_duration_seconds",
			Help:    "Time spent fetching, flattening and sending one poll cycle.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.Samples, m.BatchesSent, m.BatchesDropped, m.Reconnects, m.CycleErrors, m.CycleDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) addSamples(n int) {
	if m != nil {
		m.Samples.Add(float64(n))
	}
}

func (m *Metrics) batchSent() {
	if m != nil {
		m.BatchesSent.Inc()
	}
}

func (m *Metrics) batchDropped() {
	if m != nil {
		m.BatchesDropped.Inc()
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) cycleError(stage string) {
	if m != nil {
		m.CycleErrors.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) observeCycle(seconds float64) {
	if m != nil {
		m.CycleDuration.Observe(seconds)
	}
}
