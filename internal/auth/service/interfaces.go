package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks CredentialStore,SessionStore,PasswordHasher,TokenIssuer,EventPublisher

import (
	"context"
	"time"

	"github.com/google/uuid"

	"hireloop/internal/auth/models"
	"hireloop/internal/auth/password"
	"hireloop/internal/auth/token"
	"hireloop/internal/events"
)

// CredentialStore persists credential records.
// Error Contract: Get/GetByID return sentinel.ErrNotFound for unknown
// subjects, Create returns sentinel.ErrAlreadyExists for a taken email, and
// any backend outage surfaces as sentinel.ErrUnavailable.
type CredentialStore interface {
	Create(ctx context.Context, c *models.Credential) error
	Get(ctx context.Context, email string) (*models.Credential, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error)
	UpdateSecret(ctx context.Context, id uuid.UUID, hash string, version int16, at time.Time) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.AccountStatus, at time.Time) error
}

// SessionStore keeps revocation bookkeeping for issued session artifacts.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	FindByRefreshHash(ctx context.Context, hash string) (*models.Session, error)
	Rotate(ctx context.Context, id uuid.UUID, oldHash, newHash string, at time.Time) (*models.Session, error)
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) (*models.Session, error)
	RevokeAllForSubject(ctx context.Context, subjectID uuid.UUID, at time.Time) (int, error)
}

type PasswordHasher interface {
	Hash(secret string) (string, password.Version, error)
	Verify(hash string, v password.Version, secret string) (bool, error)
	NeedsRehash(v password.Version) bool
	DummyCompare(secret string)
}

type TokenIssuer interface {
	GenerateAccessToken(subjectID, sessionID uuid.UUID, now time.Time) (string, time.Time, error)
	ParseIgnoringExpiry(tokenString string) (*token.AccessTokenClaims, error)
}

// EventPublisher accepts committed auth events. Publish must not block on
// the broker.
type EventPublisher interface {
	Publish(ctx context.Context, e events.AuthEvent)
}
