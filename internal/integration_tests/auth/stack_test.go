package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"hireloop/internal/auth/handler"
	"hireloop/internal/auth/password"
	"hireloop/internal/auth/service"
	"hireloop/internal/auth/store/credential"
	"hireloop/internal/auth/store/session"
	"hireloop/internal/auth/token"
	"hireloop/internal/events"
	"hireloop/internal/events/broker"
	"hireloop/internal/events/overflow"
	"hireloop/internal/events/publisher"
	"hireloop/internal/platform/kafka"
	"hireloop/internal/platform/kafka/producer"
	"hireloop/internal/platform/retry"
	httptransport "hireloop/internal/transport/http"
)

const testAdminToken = "admin-token-for-tests"

// recordingConn keeps produced messages in arrival order.
type recordingConn struct {
	mu   sync.Mutex
	sent []*producer.Message
}

func (c *recordingConn) Produce(_ context.Context, msg *producer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) decoded(t *testing.T) []events.AuthEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.AuthEvent, 0, len(c.sent))
	for _, m := range c.sent {
		e, err := events.Decode(m.Value)
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

type stack struct {
	router    http.Handler
	publisher *publisher.Publisher
	manager   *broker.Manager
	overflow  *overflow.MemoryStore
}

type stackOption func(*stackConfig)

type stackConfig struct {
	publisher      publisher.Config
	connect        retry.Policy
	attemptTimeout time.Duration
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStack(t *testing.T, dial broker.DialFunc, opts ...stackOption) *stack {
	t.Helper()
	cfg := stackConfig{
		publisher: publisher.Config{
			Lanes:           4,
			LaneBuffer:      64,
			PublishDeadline: time.Second,
			Retry: retry.Policy{
				MaxAttempts: 3,
				BaseDelay:   time.Millisecond,
				Multiplier:  2,
				MaxDelay:    5 * time.Millisecond,
			},
			OverflowPolicy:   publisher.OverflowPersist,
			OverflowTimeout:  time.Second,
			DrainTimeout:     time.Second,
			BreakerThreshold: 50,
		},
		connect:        retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		attemptTimeout: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := discardLogger()

	hasher, err := password.New(
		password.WithCurrentVersion(password.VersionBcrypt),
		password.WithBcryptCost(bcrypt.MinCost),
	)
	require.NoError(t, err)
	tokens, err := token.NewService("0123456789abcdef0123456789abcdef", "hireloop-test", "hireloop-api", 15*time.Minute)
	require.NoError(t, err)

	manager := broker.New(dial,
		broker.WithLogger(log),
		broker.WithPolicy(cfg.connect),
		broker.WithAttemptTimeout(cfg.attemptTimeout),
	)
	spill := overflow.NewMemoryStore()
	pub := publisher.New(manager, events.NewRouter(kafka.TopicModeSingle, "hireloop.auth.events"), cfg.publisher,
		publisher.WithLogger(log),
		publisher.WithOverflow(spill),
	)
	svc, err := service.New(credential.NewInMemory(), session.NewInMemory(), hasher, tokens, pub,
		service.Config{RefreshTTL: time.Hour},
		service.WithLogger(log),
	)
	require.NoError(t, err)

	s := &stack{
		router: httptransport.NewRouter(httptransport.RouterConfig{
			Logger:     log,
			AdminToken: testAdminToken,
			Modules:    []httptransport.RouteRegistrar{handler.New(svc, log)},
		}),
		publisher: pub,
		manager:   manager,
		overflow:  spill,
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		pub.Drain(ctx)
		_ = manager.Close(ctx)
	})
	return s
}

func connectedDial(conn broker.Conn) broker.DialFunc {
	return func(context.Context) (broker.Conn, error) { return conn, nil }
}

func (s *stack) post(t *testing.T, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}
