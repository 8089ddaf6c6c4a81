// Package publisher delivers auth events to the broker off the request path.
//
// Events are hashed by subject id onto a fixed set of lanes. Each lane has
// one worker, so events for one subject are produced in the order they were
// published. Delivery failures never reach the caller: an event that cannot
// be delivered within its deadline is handed to the overflow store or
// dropped, depending on the configured policy.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"hireloop/internal/events"
	"hireloop/internal/events/broker"
	"hireloop/internal/events/overflow"
	"hireloop/internal/platform/kafka/producer"
	"hireloop/internal/platform/retry"
	"hireloop/internal/platform/tracer"
	"hireloop/pkg/platform/circuit"
	psync "hireloop/pkg/platform/sync"
)

// Connector hands out the shared broker connection.
type Connector interface {
	EnsureConnected(ctx context.Context) (*broker.Handle, error)
	OnFailureDetected(h *broker.Handle, cause error)
}

// Stats is a point-in-time view of publisher counters.
type Stats struct {
	Enqueued   int64
	Delivered  int64
	Retries    int64
	Overflowed int64
	Dropped    int64
	Abandoned  int64
	Pending    int64
}

// DrainReport summarizes a drain.
type DrainReport struct {
	Delivered  int64
	Overflowed int64
	Dropped    int64
	Abandoned  int64
	TimedOut   bool
	Duration   time.Duration
}

type envelope struct {
	event      events.AuthEvent
	enqueuedAt time.Time
}

type spillJob struct {
	event  events.AuthEvent
	reason string
}

// reasonSpillFull labels events dropped because the overflow writer is behind.
const reasonSpillFull = "overflow_queue_full"

// Publisher owns the publish lanes and their workers.
type Publisher struct {
	conn     Connector
	router   events.Router
	cfg      Config
	store    overflow.Store
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *Metrics
	tracer   tracer.Tracer
	lanes    []chan envelope
	spill    chan spillJob
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.RWMutex
	draining bool
	// spillClosed is set once the overflow writer has stopped. Guarded by mu.
	spillClosed bool
	spillDone   chan struct{}

	// finishMu orders worker completions against the drain deadline so an
	// event is counted either as finished or as abandoned, never both.
	finishMu    sync.Mutex
	hardStopped bool
	pending     atomic.Int64

	enqueued   atomic.Int64
	delivered  atomic.Int64
	retries    atomic.Int64
	overflowed atomic.Int64
	dropped    atomic.Int64
	abandoned  atomic.Int64

	drainOnce sync.Once
	report    DrainReport
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithOverflow sets the store used by the persist policy.
func WithOverflow(store overflow.Store) Option {
	return func(p *Publisher) {
		p.store = store
	}
}

// WithTracer sets the tracer for delivery spans.
func WithTracer(t tracer.Tracer) Option {
	return func(p *Publisher) {
		p.tracer = t
	}
}

// New creates a publisher and starts one worker per lane.
func New(conn Connector, router events.Router, cfg Config, opts ...Option) *Publisher {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		conn:   conn,
		router: router,
		cfg:    cfg,
		logger: slog.Default(),
		tracer: tracer.NewNoop(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.breaker = circuit.New("event_publish",
		circuit.WithFailureThreshold(cfg.BreakerThreshold),
		circuit.WithOnChange(func(name string, to circuit.State) {
			p.metrics.setCircuitOpen(to == circuit.StateOpen)
			p.logger.Warn("publish circuit breaker changed state",
				"breaker", name,
				"state", to.String(),
			)
		}),
	)

	p.lanes = make([]chan envelope, cfg.Lanes)
	for i := range p.lanes {
		p.lanes[i] = make(chan envelope, cfg.LaneBuffer)
		p.wg.Add(1)
		go p.work(i, p.lanes[i])
	}
	p.spill = make(chan spillJob, cfg.OverflowQueue)
	p.spillDone = make(chan struct{})
	go p.writeSpill()
	return p
}

// Publish hands e to its subject's lane and returns without waiting for the
// broker or the overflow store. Events that cannot be queued go to the
// overflow writer; when that is full too they are dropped.
func (p *Publisher) Publish(_ context.Context, e events.AuthEvent) {
	if err := e.Validate(); err != nil {
		p.drop(e, "invalid_event", err)
		return
	}
	e = e.Clone()

	p.mu.RLock()
	if p.draining {
		p.spillLocked(e, overflow.ReasonDraining)
		p.mu.RUnlock()
		return
	}

	lane := psync.Shard(e.PartitionKey(), len(p.lanes))
	ch := p.lanes[lane]
	p.pending.Add(1)
	select {
	case ch <- envelope{event: e, enqueuedAt: time.Now()}:
		depth := len(ch)
		p.mu.RUnlock()
		p.enqueued.Add(1)
		p.metrics.incEnqueued(string(e.Type))
		p.metrics.setLaneDepth(lane, depth)
	default:
		p.pending.Add(-1)
		p.spillLocked(e, overflow.ReasonLaneFull)
		p.mu.RUnlock()
	}
}

// spillLocked queues e for the overflow writer without blocking. Caller
// holds p.mu for reading.
func (p *Publisher) spillLocked(e events.AuthEvent, reason string) {
	if !p.persists() {
		p.drop(e, reason, nil)
		return
	}
	if p.spillClosed {
		// The overflow writer has stopped.
		go p.exhaust(context.Background(), e, nil, reason, nil)
		return
	}
	p.pending.Add(1)
	select {
	case p.spill <- spillJob{event: e, reason: reason}:
	default:
		p.pending.Add(-1)
		p.drop(e, reasonSpillFull, errors.New(reason))
	}
}

// writeSpill appends queued events to the overflow store one at a time.
func (p *Publisher) writeSpill() {
	defer close(p.spillDone)
	for job := range p.spill {
		if p.isHardStopped() {
			continue
		}
		perr := p.persist(context.Background(), job.event, nil, job.reason)
		p.finish(func() {
			p.recordExhausted(job.event, job.reason, nil, perr)
		})
	}
}

func (p *Publisher) persists() bool {
	return p.cfg.OverflowPolicy == OverflowPersist && p.store != nil
}

func (p *Publisher) work(lane int, ch <-chan envelope) {
	defer p.wg.Done()
	for env := range ch {
		p.metrics.setLaneDepth(lane, len(ch))
		p.deliver(lane, env)
	}
}

func (p *Publisher) deliver(lane int, env envelope) {
	if p.isHardStopped() {
		return
	}
	e := env.event

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.PublishDeadline)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "auth_event.deliver",
		tracer.String("event_id", e.ID.String()),
		tracer.String("event_type", string(e.Type)),
		tracer.Int("lane", lane),
	)

	payload, err := events.Encode(e)
	if err != nil {
		span.End(err)
		p.finish(func() { p.drop(e, "encode_failed", err) })
		return
	}
	msg := p.router.Message(e, payload)

	policy := p.cfg.Retry
	if p.breaker.IsOpen() {
		policy.MaxAttempts = 1
	}

	attempts, err := retry.Do(ctx, policy, func(ctx context.Context) error {
		h, err := p.conn.EnsureConnected(ctx)
		if err != nil {
			if errors.Is(err, broker.ErrClosed) {
				return retry.Permanent(err)
			}
			return err
		}
		if err := h.Produce(ctx, msg); err != nil {
			if producer.IsRecordError(err) {
				return retry.Permanent(err)
			}
			if ctx.Err() == nil {
				p.conn.OnFailureDetected(h, err)
			}
			return err
		}
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		p.retries.Add(1)
		p.metrics.incRetries()
		span.AddEvent("retry", tracer.Int("attempt", attempt))
		p.logger.Debug("auth event publish failed, retrying",
			"event_id", e.ID,
			"attempt", attempt,
			"retry_in_ms", wait.Milliseconds(),
			"error", err,
		)
	})
	span.SetAttributes(tracer.Int("attempts", attempts))
	span.End(err)

	if p.ctx.Err() != nil && err != nil {
		// Hard stop: the drain already counted this event as abandoned.
		return
	}

	if err == nil {
		p.breaker.RecordSuccess()
		p.finish(func() {
			p.delivered.Add(1)
			p.metrics.observeDelivered(string(e.Type), time.Since(env.enqueuedAt).Seconds())
		})
		return
	}

	p.breaker.RecordFailure()
	perr := p.persist(ctx, e, payload, overflow.ReasonExhausted)
	p.finish(func() {
		p.recordExhausted(e, overflow.ReasonExhausted, err, perr)
	})
}

// finish runs fn and releases the pending slot unless the drain deadline
// already passed.
func (p *Publisher) finish(fn func()) {
	p.finishMu.Lock()
	defer p.finishMu.Unlock()
	if p.hardStopped {
		return
	}
	fn()
	p.pending.Add(-1)
}

func (p *Publisher) isHardStopped() bool {
	p.finishMu.Lock()
	defer p.finishMu.Unlock()
	return p.hardStopped
}

var errNoOverflow = errors.New("overflow disabled")

// exhaust applies the overflow policy. payload may be nil if the event was
// never encoded.
func (p *Publisher) exhaust(ctx context.Context, e events.AuthEvent, payload []byte, reason string, cause error) {
	perr := p.persist(ctx, e, payload, reason)
	p.recordExhausted(e, reason, cause, perr)
}

// persist appends e to the overflow store, bounded by OverflowTimeout.
func (p *Publisher) persist(ctx context.Context, e events.AuthEvent, payload []byte, reason string) error {
	if !p.persists() {
		return errNoOverflow
	}
	if payload == nil {
		var err error
		if payload, err = events.Encode(e); err != nil {
			return err
		}
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.OverflowTimeout)
	defer cancel()
	return p.store.Append(actx, &overflow.Entry{
		ID:        e.ID,
		SubjectID: e.PartitionKey(),
		EventType: string(e.Type),
		Topic:     p.router.Topic(e.Type),
		Payload:   payload,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
}

func (p *Publisher) recordExhausted(e events.AuthEvent, reason string, cause, persistErr error) {
	if persistErr != nil {
		if !errors.Is(persistErr, errNoOverflow) {
			p.logger.Error("overflow append failed",
				"event_id", e.ID,
				"event_type", e.Type,
				"error", persistErr,
			)
		}
		p.drop(e, reason, cause)
		return
	}

	p.overflowed.Add(1)
	p.metrics.incOverflowed(reason)
	p.logger.Warn("auth event overflowed for replay",
		"event_id", e.ID,
		"event_type", e.Type,
		"reason", reason,
		"error", cause,
	)
}

func (p *Publisher) drop(e events.AuthEvent, reason string, cause error) {
	p.dropped.Add(1)
	p.metrics.incDropped(reason)
	p.logger.Error("auth event dropped",
		"event_id", e.ID,
		"event_type", e.Type,
		"subject_id", e.SubjectID,
		"reason", reason,
		"error", cause,
	)
}

// Drain stops accepting events and waits for queued ones until the lanes are
// empty or ctx is done. On deadline in-flight deliveries are cancelled and
// whatever is left is reported as abandoned. Later calls return the first
// report.
func (p *Publisher) Drain(ctx context.Context) DrainReport {
	p.drainOnce.Do(func() {
		p.report = p.drain(ctx)
	})
	return p.report
}

func (p *Publisher) drain(ctx context.Context) DrainReport {
	start := time.Now()
	before := p.Stats()

	p.mu.Lock()
	p.draining = true
	for _, ch := range p.lanes {
		close(ch)
	}
	p.mu.Unlock()

	// The overflow writer keeps serving publishes made during the drain until
	// the lanes are empty.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.mu.Lock()
		p.spillClosed = true
		close(p.spill)
		p.mu.Unlock()
		<-p.spillDone
		close(done)
	}()

	var abandoned int64
	timedOut := false
	select {
	case <-done:
	case <-ctx.Done():
		timedOut = true
		p.finishMu.Lock()
		p.hardStopped = true
		abandoned = p.pending.Load()
		p.finishMu.Unlock()
	}
	p.cancel()

	p.abandoned.Add(abandoned)
	p.metrics.addAbandoned(abandoned)

	after := p.Stats()
	report := DrainReport{
		Delivered:  after.Delivered - before.Delivered,
		Overflowed: after.Overflowed - before.Overflowed,
		Dropped:    after.Dropped - before.Dropped,
		Abandoned:  abandoned,
		TimedOut:   timedOut,
		Duration:   time.Since(start),
	}
	if timedOut {
		p.logger.Warn("publisher drain deadline reached",
			"abandoned", abandoned,
			"delivered", report.Delivered,
			"duration_ms", report.Duration.Milliseconds(),
		)
	} else {
		p.logger.Info("publisher drained",
			"delivered", report.Delivered,
			"overflowed", report.Overflowed,
			"dropped", report.Dropped,
			"duration_ms", report.Duration.Milliseconds(),
		)
	}
	return report
}

// Stats returns the current counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Enqueued:   p.enqueued.Load(),
		Delivered:  p.delivered.Load(),
		Retries:    p.retries.Load(),
		Overflowed: p.overflowed.Load(),
		Dropped:    p.dropped.Load(),
		Abandoned:  p.abandoned.Load(),
		Pending:    p.pending.Load(),
	}
}

// CircuitOpen reports whether delivery is currently short-circuited.
func (p *Publisher) CircuitOpen() bool {
	return p.breaker.IsOpen()
}
