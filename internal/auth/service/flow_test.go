package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"hireloop/internal/auth/models"
	"hireloop/internal/auth/password"
	"hireloop/internal/auth/service"
	"hireloop/internal/auth/store/credential"
	"hireloop/internal/auth/store/session"
	"hireloop/internal/auth/token"
	"hireloop/internal/events"
	dErrors "hireloop/pkg/domain-errors"
	request "hireloop/pkg/platform/middleware/request"
	"hireloop/pkg/testutil"
)

// recordingPublisher keeps events in enqueue order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.AuthEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.AuthEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.Clone())
}

func (p *recordingPublisher) snapshot() []events.AuthEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.AuthEvent(nil), p.events...)
}

type flowFixture struct {
	svc       *service.Service
	publisher *recordingPublisher
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	hasher, err := password.New(
		password.WithCurrentVersion(password.VersionBcrypt),
		password.WithBcryptCost(bcrypt.MinCost),
	)
	require.NoError(t, err)
	tokens, err := token.NewService("0123456789abcdef0123456789abcdef", "hireloop-test", "hireloop-api", 15*time.Minute)
	require.NoError(t, err)

	f := &flowFixture{publisher: &recordingPublisher{}}
	f.svc, err = service.New(
		credential.NewInMemory(),
		session.NewInMemory(),
		hasher,
		tokens,
		f.publisher,
		service.Config{RefreshTTL: time.Hour},
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return f
}

func eventTypes(evts []events.AuthEvent) []events.Type {
	out := make([]events.Type, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Type)
	}
	return out
}

func TestFlow_SubjectLifecycleEventsInOrder(t *testing.T) {
	f := newFlowFixture(t)
	ctx := request.WithRequestID(context.Background(), "req-flow")

	signup, err := f.svc.Signup(ctx, &models.SignupRequest{Email: "flow@example.com", Password: "flowsecret9"})
	require.NoError(t, err)

	login, err := f.svc.Login(ctx, &models.LoginRequest{Email: "flow@example.com", Password: "flowsecret9"})
	require.NoError(t, err)

	refreshed, err := f.svc.Refresh(ctx, &models.RefreshRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.Equal(t, login.SessionID, refreshed.SessionID)

	_, err = f.svc.Refresh(ctx, &models.RefreshRequest{RefreshToken: login.RefreshToken})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenInvalid), "rotated token must not refresh again")

	_, err = f.svc.Logout(ctx, &models.LogoutRequest{Token: refreshed.AccessToken})
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, &models.RefreshRequest{RefreshToken: refreshed.RefreshToken})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenInvalid), "logged out session must not refresh")

	got := f.publisher.snapshot()
	assert.Equal(t, []events.Type{
		events.TypeUserRegistered,
		events.TypeUserLoggedIn,
		events.TypeSessionRefreshed,
		events.TypeUserLoggedOut,
	}, eventTypes(got))
	ids := map[string]bool{}
	for _, e := range got {
		assert.Equal(t, signup.SubjectID, e.SubjectID.String())
		assert.Equal(t, "req-flow", e.CorrelationID)
		assert.False(t, ids[e.ID.String()], "event ids are unique")
		ids[e.ID.String()] = true
	}
}

func TestFlow_DuplicateSignupEmitsOnce(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, &models.SignupRequest{Email: "dup@example.com", Password: "flowsecret9"})
	require.NoError(t, err)
	_, err = f.svc.Signup(ctx, &models.SignupRequest{Email: "DUP@example.com", Password: "flowsecret9"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyExists))

	assert.Equal(t, []events.Type{events.TypeUserRegistered}, eventTypes(f.publisher.snapshot()))
}

func TestFlow_DisableRevokesSessionsAndBlocksLogin(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	signup, err := f.svc.Signup(ctx, &models.SignupRequest{Email: "off@example.com", Password: "flowsecret9"})
	require.NoError(t, err)
	login, err := f.svc.Login(ctx, &models.LoginRequest{Email: "off@example.com", Password: "flowsecret9"})
	require.NoError(t, err)

	res, err := f.svc.SetAccountStatus(ctx, login.SubjectID, &models.SetStatusRequest{Status: "disabled"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SessionsRevoked)
	assert.Equal(t, signup.SubjectID, res.SubjectID)

	_, err = f.svc.Refresh(ctx, &models.RefreshRequest{RefreshToken: login.RefreshToken})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenInvalid))

	_, err = f.svc.Login(ctx, &models.LoginRequest{Email: "off@example.com", Password: "flowsecret9"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
}

func TestFlow_ConcurrentRefreshesRotateOnce(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, &models.SignupRequest{Email: "race@example.com", Password: "flowsecret9"})
	require.NoError(t, err)
	login, err := f.svc.Login(ctx, &models.LoginRequest{Email: "race@example.com", Password: "flowsecret9"})
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Refresh(ctx, &models.RefreshRequest{RefreshToken: login.RefreshToken}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	refreshes := 0
	for _, e := range f.publisher.snapshot() {
		if e.Type == events.TypeSessionRefreshed {
			refreshes++
		}
	}
	assert.Equal(t, 1, refreshes, "only the committed rotation is published")
}

func TestFlow_ConcurrentSignupsRegisterOnce(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	result := testutil.RunConcurrent(10, func(int) error {
		_, err := f.svc.Signup(ctx, &models.SignupRequest{Email: "same@example.com", Password: "flowsecret9"})
		return err
	})

	assert.Equal(t, int32(1), result.Successes)
	assert.Equal(t, int32(9), result.Conflicts)
	assert.Zero(t, result.Errors)
	assert.Equal(t, []events.Type{events.TypeUserRegistered}, eventTypes(f.publisher.snapshot()))
}
