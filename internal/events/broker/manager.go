// Package broker owns the process-wide Kafka connection: lazy creation,
// single-flight establishment, failure invalidation and background
// re-establishment.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"hireloop/internal/platform/kafka/producer"
	"hireloop/internal/platform/retry"
)

var (
	// ErrBrokerUnavailable means no connection could be established within
	// the retry budget. It never leaves the event pipeline.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("broker manager closed")
)

// State is the connection lifecycle position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is a live producer connection.
type Conn interface {
	Produce(ctx context.Context, msg *producer.Message) error
	Close() error
}

// DialFunc opens one connection. ctx carries the per-attempt timeout.
type DialFunc func(ctx context.Context) (Conn, error)

// Handle is the shared connection handed to callers. Callers report
// failures with the handle they used so stale reports are ignored.
type Handle struct {
	conn Conn
	gen  uint64
}

// Produce sends msg over the underlying connection.
func (h *Handle) Produce(ctx context.Context, msg *producer.Message) error {
	return h.conn.Produce(ctx, msg)
}

// Generation identifies which connection this handle belongs to.
func (h *Handle) Generation() uint64 {
	return h.gen
}

// Stats is a point-in-time view of manager counters. BackoffStep counts
// consecutive failed attempts and is zero while healthy.
type Stats struct {
	State              State
	Generation         uint64
	DialAttempts       int64
	MaxConcurrentDials int32
	FailuresDetected   int64
	BackoffStep        int
}

// Manager is the single owner of the broker connection.
type Manager struct {
	dial           DialFunc
	policy         retry.Policy
	attemptTimeout time.Duration
	logger         *slog.Logger
	metrics        *Metrics

	mu          sync.Mutex
	state       State
	current     *Handle
	gen         uint64
	reconnectAt *time.Timer
	backoffStep int

	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dialing       atomic.Int32
	maxDialing    atomic.Int32
	dialAttempts  atomic.Int64
	failuresTotal atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithPolicy sets the connect retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithAttemptTimeout bounds each individual dial attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.attemptTimeout = d
		}
	}
}

// New creates a Manager in the DISCONNECTED state. Nothing is dialed until
// the first EnsureConnected.
func New(dial DialFunc, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dial:           dial,
		policy:         retry.Default(),
		attemptTimeout: 5 * time.Second,
		logger:         slog.Default(),
		state:          StateDisconnected,
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics.setState(StateDisconnected)
	return m
}

// ProducerDialer adapts producer.Dial to a DialFunc.
func ProducerDialer(cfg producer.Config, logger *slog.Logger) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		return producer.Dial(ctx, cfg, logger)
	}
}

// EnsureConnected returns the live handle, establishing one if needed.
// Concurrent callers share a single in-flight attempt. ctx bounds only this
// caller's wait; the shared attempt keeps going for the others.
//
// After a failure the manager reconnects on its own backoff schedule. Until
// that succeeds callers get ErrBrokerUnavailable without dialing.
func (m *Manager) EnsureConnected(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if h := m.current; h != nil {
		m.mu.Unlock()
		return h, nil
	}
	if m.backoffStep > 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: reconnect pending", ErrBrokerUnavailable)
	}
	m.mu.Unlock()

	ch := m.group.DoChan("connect", func() (any, error) {
		return m.connect(m.policy)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrBrokerUnavailable, ctx.Err())
	}
}

// connect runs under the singleflight key; at most one executes at a time.
// A failed budget hands over to the background reconnect schedule.
func (m *Manager) connect(policy retry.Policy) (*Handle, error) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if h := m.current; h != nil {
		m.mu.Unlock()
		return h, nil
	}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	var conn Conn
	attempts, err := retry.Do(m.ctx, policy, func(ctx context.Context) error {
		c, err := m.dialOnce(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		m.logger.Warn("broker dial failed, retrying",
			"attempt", attempt,
			"retry_in_ms", wait.Milliseconds(),
			"error", err,
		)
	})

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil, ErrClosed
	}
	defer m.mu.Unlock()

	if err != nil {
		m.setStateLocked(StateDisconnected)
		m.backoffStep = max(m.backoffStep, attempts)
		delay := m.scheduleReconnectLocked()
		m.logger.Error("broker unavailable",
			"attempts", attempts,
			"reconnect_in_ms", delay.Milliseconds(),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}

	m.gen++
	m.current = &Handle{conn: conn, gen: m.gen}
	m.backoffStep = 0
	if m.reconnectAt != nil {
		m.reconnectAt.Stop()
		m.reconnectAt = nil
	}
	m.setStateLocked(StateConnected)
	m.metrics.incConnects()
	m.logger.Info("broker connected",
		"generation", m.gen,
		"attempts", attempts,
	)
	return m.current, nil
}

func (m *Manager) dialOnce(parent context.Context) (Conn, error) {
	ctx, cancel := context.WithTimeout(parent, m.attemptTimeout)
	defer cancel()

	n := m.dialing.Add(1)
	defer m.dialing.Add(-1)
	for {
		peak := m.maxDialing.Load()
		if n <= peak || m.maxDialing.CompareAndSwap(peak, n) {
			break
		}
	}
	m.dialAttempts.Add(1)

	start := time.Now()
	conn, err := m.dial(ctx)
	m.metrics.observeDial(time.Since(start).Seconds(), err != nil)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, errors.New("dialer returned no connection")
	}
	return conn, nil
}

// OnFailureDetected invalidates h if it is still the current handle, closes
// it in the background and schedules re-establishment. Reports for a handle
// that was already replaced are ignored.
func (m *Manager) OnFailureDetected(h *Handle, cause error) {
	if h == nil {
		return
	}

	m.mu.Lock()
	if m.state == StateClosed || m.current != h {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.setStateLocked(StateDisconnected)
	delay := m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.failuresTotal.Add(1)
	m.metrics.incFailuresDetected()
	m.logger.Warn("broker connection invalidated",
		"generation", h.gen,
		"reconnect_in_ms", delay.Milliseconds(),
		"error", cause,
	)
	m.closeAsync(h.conn)
}

// scheduleReconnectLocked arms one background reconnect after a jittered
// delay that grows with consecutive failures, capped at the policy's
// MaxDelay. Caller holds m.mu.
func (m *Manager) scheduleReconnectLocked() time.Duration {
	if m.reconnectAt != nil {
		return 0
	}
	delay := m.policy.Delay(m.backoffStep)
	m.backoffStep++
	m.reconnectAt = time.AfterFunc(delay, m.reconnect)
	return delay
}

// reconnect makes a single dial; a failure reschedules itself one step
// further along the backoff.
func (m *Manager) reconnect() {
	m.mu.Lock()
	m.reconnectAt = nil
	closed := m.state == StateClosed
	m.mu.Unlock()
	if closed {
		return
	}

	single := m.policy
	single.MaxAttempts = 1
	_, _, _ = m.group.Do("connect", func() (any, error) {
		return m.connect(single)
	})
}

func (m *Manager) closeAsync(c Conn) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := c.Close(); err != nil {
			m.logger.Warn("closing broker connection", "error", err)
		}
	}()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns counters for tests and readiness reporting.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	state, gen, step := m.state, m.gen, m.backoffStep
	m.mu.Unlock()
	return Stats{
		State:              state,
		Generation:         gen,
		BackoffStep:        step,
		DialAttempts:       m.dialAttempts.Load(),
		MaxConcurrentDials: m.maxDialing.Load(),
		FailuresDetected:   m.failuresTotal.Load(),
	}
}

// Close moves to CLOSED, aborts any pending attempt and closes the live
// connection. Waits for background closes up to ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(StateClosed)
	m.cancel()
	if m.reconnectAt != nil {
		m.reconnectAt.Stop()
		m.reconnectAt = nil
	}
	h := m.current
	m.current = nil
	m.mu.Unlock()

	if h != nil {
		m.closeAsync(h.conn)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.metrics.setState(s)
}
