package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hireloop/internal/auth/models"
	"hireloop/internal/auth/password"
	"hireloop/internal/auth/token"
	"hireloop/internal/events"
	"hireloop/internal/sentinel"
)

// Login authenticates email and secret, opens a session and emits
// UserLoggedIn. Unknown email, wrong secret and disabled account all return
// the same InvalidCredentials error.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (artifact *models.SessionArtifact, err error) {
	ctx, done := s.startOperation(ctx, opLogin)
	defer func() { done(err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, s.handleError(ctx, opLogin, err)
	}

	cred, err := s.credentials.Get(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Keep the unknown-email path as slow as a real comparison.
			s.hasher.DummyCompare(req.Password)
			s.authFailure(ctx, opLogin, "unknown_email", false, err)
			return nil, errInvalidCredentials()
		}
		return nil, s.handleError(ctx, opLogin, err)
	}

	ok, err := s.hasher.Verify(cred.SecretHash, password.Version(cred.HashVersion), req.Password)
	if err != nil {
		s.authFailure(ctx, opLogin, "unverifiable_hash", true, err, "subject_id", cred.ID.String())
		return nil, errInvalidCredentials()
	}
	if !ok {
		s.authFailure(ctx, opLogin, "wrong_secret", false, nil, "subject_id", cred.ID.String())
		return nil, errInvalidCredentials()
	}
	if !cred.IsActive() {
		s.authFailure(ctx, opLogin, "account_disabled", false, nil, "subject_id", cred.ID.String())
		return nil, errInvalidCredentials()
	}

	s.rehashIfNeeded(ctx, cred, req.Password)

	now := s.now().UTC()
	artifact, session, err := s.newSession(cred.ID, now)
	if err != nil {
		return nil, s.handleError(ctx, opLogin, err)
	}

	err = s.subjects.WithLock(cred.ID.String(), func() error {
		if err := s.sessions.Create(ctx, session); err != nil {
			return err
		}
		s.emit(ctx, events.TypeUserLoggedIn, cred.ID, now, map[string]string{
			"session_id": session.ID.String(),
		})
		return nil
	})
	if err != nil {
		return nil, s.handleError(ctx, opLogin, err, "subject_id", cred.ID.String())
	}

	s.metrics.IncLogins()
	return artifact, nil
}

// rehashIfNeeded moves a credential to the current hash version. Failure is
// logged and otherwise ignored; the old hash keeps working.
func (s *Service) rehashIfNeeded(ctx context.Context, cred *models.Credential, secret string) {
	if !s.hasher.NeedsRehash(password.Version(cred.HashVersion)) {
		return
	}
	hash, version, err := s.hasher.Hash(secret)
	if err == nil {
		err = s.credentials.UpdateSecret(ctx, cred.ID, hash, int16(version), s.now().UTC())
	}
	if err != nil {
		s.logger.WarnContext(ctx, "credential rehash failed",
			"subject_id", cred.ID.String(),
			"from_version", password.Version(cred.HashVersion).String(),
			"error", err,
		)
		return
	}
	s.metrics.IncRehashes()
}

// newSession mints the tokens for a new session. The session is not stored.
func (s *Service) newSession(subjectID uuid.UUID, now time.Time) (*models.SessionArtifact, *models.Session, error) {
	refreshToken, err := token.CreateRefreshToken()
	if err != nil {
		return nil, nil, err
	}
	session := &models.Session{
		ID:               uuid.New(),
		SubjectID:        subjectID,
		RefreshTokenHash: token.HashRefreshToken(refreshToken),
		Status:           models.SessionStatusActive,
		IssuedAt:         now,
		ExpiresAt:        now.Add(s.refreshTTL),
	}
	accessToken, expiresAt, err := s.tokens.GenerateAccessToken(subjectID, session.ID, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	return &models.SessionArtifact{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		SubjectID:        subjectID,
		SessionID:        session.ID,
		IssuedAt:         now,
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: session.ExpiresAt,
	}, session, nil
}
