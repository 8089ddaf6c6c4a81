package service

import (
	"context"

	"hireloop/internal/auth/models"
	"hireloop/internal/auth/token"
	"hireloop/internal/events"
	dErrors "hireloop/pkg/domain-errors"
)

// Refresh rotates the session's refresh token, issues a new artifact and
// emits SessionRefreshed. The refresh window is not extended.
func (s *Service) Refresh(ctx context.Context, req *models.RefreshRequest) (artifact *models.SessionArtifact, err error) {
	ctx, done := s.startOperation(ctx, opRefresh)
	defer func() { done(err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, s.handleError(ctx, opRefresh, err)
	}
	if !token.IsRefreshToken(req.RefreshToken) {
		return nil, s.handleError(ctx, opRefresh, dErrors.New(dErrors.CodeTokenInvalid, "invalid refresh token"))
	}

	oldHash := token.HashRefreshToken(req.RefreshToken)
	session, err := s.sessions.FindByRefreshHash(ctx, oldHash)
	if err != nil {
		return nil, s.handleError(ctx, opRefresh, err)
	}

	now := s.now().UTC()
	attrs := []any{"subject_id", session.SubjectID.String(), "session_id", session.ID.String()}
	if session.IsRevoked() {
		return nil, s.handleError(ctx, opRefresh, dErrors.New(dErrors.CodeTokenInvalid, "session has been revoked"), attrs...)
	}
	if session.IsExpired(now) {
		return nil, s.handleError(ctx, opRefresh, dErrors.New(dErrors.CodeTokenExpired, "refresh token expired"), attrs...)
	}

	newRefresh, err := token.CreateRefreshToken()
	if err != nil {
		return nil, s.handleError(ctx, opRefresh, err, attrs...)
	}
	accessToken, expiresAt, err := s.tokens.GenerateAccessToken(session.SubjectID, session.ID, now)
	if err != nil {
		return nil, s.handleError(ctx, opRefresh, err, attrs...)
	}

	var rotated *models.Session
	err = s.subjects.WithLock(session.SubjectID.String(), func() error {
		var err error
		rotated, err = s.sessions.Rotate(ctx, session.ID, oldHash, token.HashRefreshToken(newRefresh), now)
		if err != nil {
			return err
		}
		s.emit(ctx, events.TypeSessionRefreshed, session.SubjectID, now, map[string]string{
			"session_id": session.ID.String(),
		})
		return nil
	})
	if err != nil {
		return nil, s.handleError(ctx, opRefresh, err, attrs...)
	}

	s.metrics.IncRefreshes()
	return &models.SessionArtifact{
		AccessToken:      accessToken,
		RefreshToken:     newRefresh,
		SubjectID:        rotated.SubjectID,
		SessionID:        rotated.ID,
		IssuedAt:         now,
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: rotated.ExpiresAt,
	}, nil
}
