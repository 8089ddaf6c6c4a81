// Package replayer sends overflowed auth events to the broker once it is
// reachable again.
package replayer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"hireloop/internal/events"
	"hireloop/internal/events/broker"
	"hireloop/internal/events/overflow"
	"hireloop/internal/platform/kafka/producer"
)

// Connector hands out the shared broker connection.
type Connector interface {
	EnsureConnected(ctx context.Context) (*broker.Handle, error)
	OnFailureDetected(h *broker.Handle, cause error)
}

// releaser is implemented by stores that claim fetched rows.
type releaser interface {
	Release(ctx context.Context, id uuid.UUID) error
}

// Replayer polls the overflow store and produces pending entries in order.
type Replayer struct {
	store        overflow.Store
	conn         Connector
	batchSize    int
	pollInterval time.Duration
	drainTimeout time.Duration
	retention    time.Duration
	maxRejects   int
	cleanupEvery time.Duration
	metrics      *Metrics
	logger       *slog.Logger
	now          func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// Option configures the Replayer.
type Option func(*Replayer)

// WithBatchSize sets the maximum number of entries fetched per poll.
func WithBatchSize(size int) Option {
	return func(r *Replayer) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// WithPollInterval sets the interval between polls.
func WithPollInterval(interval time.Duration) Option {
	return func(r *Replayer) {
		if interval > 0 {
			r.pollInterval = interval
		}
	}
}

// WithDrainTimeout bounds the final replay pass on Stop.
func WithDrainTimeout(d time.Duration) Option {
	return func(r *Replayer) {
		r.drainTimeout = d
	}
}

// WithRetention sets how long replayed entries are kept. Zero disables cleanup.
func WithRetention(d time.Duration) Option {
	return func(r *Replayer) {
		r.retention = d
	}
}

// WithMaxRejections sets how many broker rejections an entry survives before
// it is parked as failed.
func WithMaxRejections(n int) Option {
	return func(r *Replayer) {
		if n > 0 {
			r.maxRejects = n
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(r *Replayer) {
		r.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Replayer) {
		r.logger = logger
	}
}

// New creates a replayer. Call Start to begin polling.
func New(store overflow.Store, conn Connector, opts ...Option) *Replayer {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Replayer{
		store:        store,
		conn:         conn,
		batchSize:    100,
		pollInterval: time.Second,
		drainTimeout: 5 * time.Second,
		retention:    24 * time.Hour,
		maxRejects:   5,
		cleanupEvery: 10 * time.Minute,
		logger:       slog.Default(),
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins the polling loop in a background goroutine.
func (r *Replayer) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.wg.Add(1)
	go r.run()
}

func (r *Replayer) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(r.cleanupEvery)
	defer cleanup.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.drain()
			return
		case <-ticker.C:
			r.Poll(r.ctx)
		case <-cleanup.C:
			r.purge(r.ctx)
		}
	}
}

// Poll runs one replay cycle and returns how many entries were delivered
// and whether the cycle stopped early on a broker failure.
func (r *Replayer) Poll(ctx context.Context) (replayed int, halted bool) {
	start := r.now()
	defer func() {
		if err := r.UpdateMetrics(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("counting pending overflow entries", "error", err)
		}
	}()

	entries, err := r.store.FetchPending(ctx, r.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("failed to fetch overflow entries", "error", err)
			r.metrics.incFailures()
		}
		return 0, true
	}
	if len(entries) == 0 {
		return 0, false
	}
	defer func() {
		r.metrics.observeBatch(len(entries), time.Since(start).Seconds())
	}()

	h, err := r.conn.EnsureConnected(ctx)
	if err != nil {
		r.logger.Debug("broker not ready, replay deferred", "pending_batch", len(entries), "error", err)
		r.release(entries)
		return 0, true
	}

	// A subject whose entry failed is skipped for the rest of the batch so
	// its later events are never sent ahead of the failed one.
	blocked := make(map[string]struct{})
	for i, entry := range entries {
		if _, skip := blocked[entry.SubjectID]; skip {
			r.release(entries[i : i+1])
			continue
		}

		err := h.Produce(ctx, toMessage(entry))
		if err != nil {
			r.metrics.incFailures()
			if producer.IsRecordError(err) {
				if !r.reject(ctx, entry, err) {
					blocked[entry.SubjectID] = struct{}{}
				}
				continue
			}
			if ctx.Err() == nil {
				r.conn.OnFailureDetected(h, err)
			}
			r.logger.Warn("replay halted",
				"event_id", entry.ID,
				"remaining", len(entries)-i,
				"error", err,
			)
			r.release(entries[i:])
			return replayed, true
		}

		if err := r.store.MarkReplayed(ctx, entry.ID, r.now()); err != nil {
			// Delivered but not marked: it will be sent again, consumers dedupe by event_id.
			r.logger.Error("failed to mark overflow entry replayed",
				"event_id", entry.ID,
				"error", err,
			)
			continue
		}
		replayed++
		r.metrics.incReplayed()
	}

	if replayed > 0 {
		r.logger.Info("replayed overflowed auth events", "count", replayed)
	}
	return replayed, false
}

// reject records a broker rejection of entry and reports whether the entry
// was parked, which unblocks the rest of its subject.
func (r *Replayer) reject(ctx context.Context, entry *overflow.Entry, cause error) bool {
	failed, err := r.store.RecordRejection(ctx, entry.ID, cause.Error(), r.maxRejects, r.now())
	if err != nil {
		r.logger.Error("failed to record overflow rejection",
			"event_id", entry.ID,
			"error", err,
		)
		r.release([]*overflow.Entry{entry})
		return false
	}
	if failed {
		r.metrics.incDeadLettered()
		r.logger.Error("overflow entry parked after repeated broker rejections",
			"event_id", entry.ID,
			"event_type", entry.EventType,
			"subject_id", entry.SubjectID,
			"rejections", entry.Rejections+1,
			"error", cause,
		)
		return true
	}
	r.logger.Warn("broker rejected overflow entry",
		"event_id", entry.ID,
		"event_type", entry.EventType,
		"rejections", entry.Rejections+1,
		"error", cause,
	)
	return false
}

func (r *Replayer) release(entries []*overflow.Entry) {
	rel, ok := r.store.(releaser)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, e := range entries {
		if err := rel.Release(ctx, e.ID); err != nil {
			r.logger.Warn("failed to release overflow entry", "event_id", e.ID, "error", err)
			return
		}
	}
}

func (r *Replayer) purge(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	n, err := r.store.DeleteReplayedBefore(ctx, r.now().Add(-r.retention))
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("overflow retention cleanup failed", "error", err)
		}
		return
	}
	r.metrics.addPurged(n)
}

// drain replays what it can before shutdown, bounded by drainTimeout.
func (r *Replayer) drain() {
	if r.drainTimeout <= 0 {
		return
	}
	r.logger.Info("draining overflow replayer")

	ctx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer cancel()

	for ctx.Err() == nil {
		replayed, halted := r.Poll(ctx)
		if halted || replayed == 0 {
			return
		}
	}
}

// Stop stops polling and waits for the drain pass up to ctx.
func (r *Replayer) Stop(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateMetrics refreshes the pending depth gauge.
func (r *Replayer) UpdateMetrics(ctx context.Context) error {
	if r.metrics == nil {
		return nil
	}
	n, err := r.store.CountPending(ctx)
	if err != nil {
		return err
	}
	r.metrics.setPending(n)
	return nil
}

func toMessage(e *overflow.Entry) *producer.Message {
	return &producer.Message{
		Topic: e.Topic,
		Key:   []byte(e.SubjectID),
		Value: e.Payload,
		Headers: map[string]string{
			events.HeaderEventType: e.EventType,
			events.HeaderEventID:   e.ID.String(),
		},
	}
}
