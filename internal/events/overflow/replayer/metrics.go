package replayer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the overflow replayer.
type Metrics struct {
	PendingDepth   prometheus.Gauge
	ReplayedTotal  prometheus.Counter
	ReplayFailures prometheus.Counter
	BatchSize      prometheus.Histogram
	PollDuration   prometheus.Histogram
	PurgedTotal    prometheus.Counter
	DeadLettered   prometheus.Counter
}

// NewMetrics registers replayer collectors on reg (default registerer if nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		PendingDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "hireloop_overflow_pending_total",
			Help: "Current number of overflowed auth events awaiting replay",
		}),
		ReplayedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_overflow_replayed_total",
			Help: "Total number of overflowed auth events delivered by the replayer",
		}),
		ReplayFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_overflow_replay_failures_total",
			Help: "Total number of failed replay attempts",
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hireloop_overflow_batch_size",
			Help:    "Number of entries fetched per replay poll",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		PollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hireloop_overflow_poll_duration_seconds",
			Help:    "Time taken for each replay poll cycle",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),
		PurgedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_overflow_purged_total",
			Help: "Total number of replayed entries removed by retention cleanup",
		}),
		DeadLettered: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_overflow_dead_lettered_total",
			Help: "Total number of overflow entries parked after repeated broker rejections",
		}),
	}
}

func (m *Metrics) setPending(n int64) {
	if m != nil {
		m.PendingDepth.Set(float64(n))
	}
}

func (m *Metrics) incReplayed() {
	if m != nil {
		m.ReplayedTotal.Inc()
	}
}

func (m *Metrics) incFailures() {
	if m != nil {
		m.ReplayFailures.Inc()
	}
}

func (m *Metrics) observeBatch(n int, seconds float64) {
	if m != nil {
		m.BatchSize.Observe(float64(n))
		m.PollDuration.Observe(seconds)
	}
}

func (m *Metrics) addPurged(n int64) {
	if m != nil && n > 0 {
		m.PurgedTotal.Add(float64(n))
	}
}

func (m *Metrics) incDeadLettered() {
	if m != nil {
		m.DeadLettered.Inc()
	}
}
