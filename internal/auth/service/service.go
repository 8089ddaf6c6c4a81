// Package service is the auth flow controller: it performs signup, login,
// refresh, logout and account status changes, and hands one auth event per
// committed transition to the event publisher.
package service

import (
	"errors"
	"log/slog"
	"time"

	"hireloop/internal/auth/metrics"
	"hireloop/internal/platform/tracer"
	psync "hireloop/pkg/platform/sync"
)

const defaultRefreshTTL = 7 * 24 * time.Hour

// Config holds the flow settings that are not collaborators.
type Config struct {
	// RefreshTTL bounds the refresh window of a session.
	RefreshTTL time.Duration
}

// Service runs the auth flows against the credential and session stores.
type Service struct {
	credentials CredentialStore
	sessions    SessionStore
	hasher      PasswordHasher
	tokens      TokenIssuer
	publisher   EventPublisher
	refreshTTL  time.Duration

	// subjects serializes commit + enqueue per subject so publish order
	// equals commit order.
	subjects *psync.ShardedMutex

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the auth metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer sets the tracer for flow spans.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a Service. Every collaborator is required.
func New(
	credentials CredentialStore,
	sessions SessionStore,
	hasher PasswordHasher,
	tokens TokenIssuer,
	publisher EventPublisher,
	cfg Config,
	opts ...Option,
) (*Service, error) {
	switch {
	case credentials == nil:
		return nil, errors.New("credential store is required")
	case sessions == nil:
		return nil, errors.New("session store is required")
	case hasher == nil:
		return nil, errors.New("password hasher is required")
	case tokens == nil:
		return nil, errors.New("token issuer is required")
	case publisher == nil:
		return nil, errors.New("event publisher is required")
	}

	svc := &Service{
		credentials: credentials,
		sessions:    sessions,
		hasher:      hasher,
		tokens:      tokens,
		publisher:   publisher,
		refreshTTL:  cfg.RefreshTTL,
		subjects:    psync.NewShardedMutex(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.refreshTTL <= 0 {
		svc.refreshTTL = defaultRefreshTTL
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.tracer == nil {
		svc.tracer = tracer.NewNoop()
	}
	return svc, nil
}
