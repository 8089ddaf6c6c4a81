package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the broker connection.
type Metrics struct {
	State            prometheus.Gauge
	DialAttempts     prometheus.Counter
	DialFailures     prometheus.Counter
	Connects         prometheus.Counter
	FailuresDetected prometheus.Counter
	DialDuration     prometheus.Histogram
}

// NewMetrics registers broker collectors on reg (default registerer if nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		State: f.NewGauge(prometheus.GaugeOpts{
			Name: "hireloop_broker_connection_state",
			Help: "Broker connection state: 0 disconnected, 1 connecting, 2 connected, 3 closed",
		}),
		DialAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_broker_dial_attempts_total",
			Help: "Total number of broker dial attempts",
		}),
		DialFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_broker_dial_failures_total",
			Help: "Total number of failed broker dial attempts",
		}),
		Connects: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_broker_connects_total",
			Help: "Total number of established broker connections",
		}),
		FailuresDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_broker_failures_detected_total",
			Help: "Total number of connection failures reported by producers",
		}),
		DialDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hireloop_broker_dial_duration_seconds",
			Help:    "Time taken by a single broker dial attempt",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.State.Set(float64(s))
	}
}

func (m *Metrics) observeDial(seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.DialAttempts.Inc()
	m.DialDuration.Observe(seconds)
	if failed {
		m.DialFailures.Inc()
	}
}

func (m *Metrics) incConnects() {
	if m != nil {
		m.Connects.Inc()
	}
}

func (m *Metrics) incFailuresDetected() {
	if m != nil {
		m.FailuresDetected.Inc()
	}
}
