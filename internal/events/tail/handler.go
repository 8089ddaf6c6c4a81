// Package tail consumes Auth Events from Kafka, drops redeliveries and
// logs each event once.
package tail

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"hireloop/internal/events"
	"hireloop/internal/platform/kafka/consumer"
)

type Metrics struct {
	consumed   *prometheus.CounterVec
	duplicates prometheus.Counter
	malformed  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		consumed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hireloop_eventtail_consumed_total",
			Help: "Auth events consumed, by event type",
		}, []string{"event_type"}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_eventtail_duplicates_total",
			Help: "Redelivered auth events skipped by the dedupe window",
		}),
		malformed: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_eventtail_malformed_total",
			Help: "Records that did not decode as auth events",
		}),
	}
}

// Sink receives each distinct event. The default sink logs it.
type Sink func(ctx context.Context, e events.AuthEvent, msg *consumer.Message)

// Handler implements consumer.Handler.
type Handler struct {
	window  *Window
	sink    Sink
	metrics *Metrics
	logger  *slog.Logger
}

type Option func(*Handler)

func WithSink(s Sink) Option {
	return func(h *Handler) {
		h.sink = s
	}
}

func WithMetrics(m *Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func NewHandler(window *Window, opts ...Option) *Handler {
	h := &Handler{window: window, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	if h.sink == nil {
		h.sink = h.logEvent
	}
	return h
}

// Handle never fails: a malformed record is logged and committed so it does
// not block its partition.
func (h *Handler) Handle(ctx context.Context, msg *consumer.Message) error {
	e, err := events.Decode(msg.Value)
	if err != nil {
		h.logger.WarnContext(ctx, "skipping malformed auth event",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		if h.metrics != nil {
			h.metrics.malformed.Inc()
		}
		return nil
	}

	if h.window.Observe(e.ID.String()) {
		h.logger.DebugContext(ctx, "duplicate auth event", "event_id", e.ID.String())
		if h.metrics != nil {
			h.metrics.duplicates.Inc()
		}
		return nil
	}
	if h.metrics != nil {
		h.metrics.consumed.WithLabelValues(string(e.Type)).Inc()
	}
	h.sink(ctx, e, msg)
	return nil
}

func (h *Handler) logEvent(ctx context.Context, e events.AuthEvent, msg *consumer.Message) {
	h.logger.InfoContext(ctx, "auth event",
		"event_id", e.ID.String(),
		"event_type", string(e.Type),
		"subject_id", e.SubjectID.String(),
		"correlation_id", e.CorrelationID,
		"timestamp", e.Timestamp,
		"outcome", e.Outcome,
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
}
