package publisher

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the event publisher.
type Metrics struct {
	Enqueued        *prometheus.CounterVec
	Delivered       *prometheus.CounterVec
	Retries         prometheus.Counter
	Overflowed      *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	Abandoned       prometheus.Counter
	LaneDepth       *prometheus.GaugeVec
	PublishDuration prometheus.Histogram
	CircuitOpen     prometheus.Gauge
}

// NewMetrics registers publisher collectors on reg (default registerer if nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hireloop_events_enqueued_total",
			Help: "Total number of auth events accepted into a publish lane",
		}, []string{"event_type"}),
		Delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hireloop_events_delivered_total",
			Help: "Total number of auth events acknowledged by the broker",
		}, []string{"event_type"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_events_publish_retries_total",
			Help: "Total number of publish retries",
		}),
		Overflowed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hireloop_events_overflowed_total",
			Help: "Total number of auth events persisted for later replay",
		}, []string{"reason"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hireloop_events_dropped_total",
			Help: "Total number of auth events discarded",
		}, []string{"reason"}),
		Abandoned: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_events_abandoned_total",
			Help: "Total number of auth events still queued when the drain deadline passed",
		}),
		LaneDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hireloop_events_lane_depth",
			Help: "Current number of queued events per publish lane",
		}, []string{"lane"}),
		PublishDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hireloop_events_publish_duration_seconds",
			Help:    "Time from dequeue to broker acknowledgement, including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		CircuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "hireloop_events_circuit_open",
			Help: "1 while the publish circuit breaker is open",
		}),
	}
}

func (m *Metrics) incEnqueued(eventType string) {
	if m != nil {
		m.Enqueued.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) observeDelivered(eventType string, seconds float64) {
	if m != nil {
		m.Delivered.WithLabelValues(eventType).Inc()
		m.PublishDuration.Observe(seconds)
	}
}

func (m *Metrics) incRetries() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) incOverflowed(reason string) {
	if m != nil {
		m.Overflowed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) incDropped(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) addAbandoned(n int64) {
	if m != nil && n > 0 {
		m.Abandoned.Add(float64(n))
	}
}

func (m *Metrics) setLaneDepth(lane, depth int) {
	if m != nil {
		m.LaneDepth.WithLabelValues(strconv.Itoa(lane)).Set(float64(depth))
	}
}

func (m *Metrics) setCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}
