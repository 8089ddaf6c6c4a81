package service

import (
	"context"

	"hireloop/internal/auth/models"
	"hireloop/internal/auth/token"
	"hireloop/internal/events"
	dErrors "hireloop/pkg/domain-errors"
)

const (
	tokenKindAccess  = "access"
	tokenKindRefresh = "refresh"
)

// Logout revokes the session behind an access or refresh token and emits
// UserLoggedOut. An expired access token still logs out its session; a
// session whose refresh window is over cannot be logged out.
func (s *Service) Logout(ctx context.Context, req *models.LogoutRequest) (result *models.LogoutResult, err error) {
	ctx, done := s.startOperation(ctx, opLogout)
	defer func() { done(err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, s.handleError(ctx, opLogout, err)
	}

	session, kind, err := s.resolveSession(ctx, req.Token)
	if err != nil {
		return nil, s.handleError(ctx, opLogout, err)
	}
	attrs := []any{"subject_id", session.SubjectID.String(), "session_id", session.ID.String()}
	if session.IsRevoked() {
		return nil, s.handleError(ctx, opLogout, dErrors.New(dErrors.CodeTokenInvalid, "session has been revoked"), attrs...)
	}
	now := s.now().UTC()
	if session.IsExpired(now) {
		return nil, s.handleError(ctx, opLogout, dErrors.New(dErrors.CodeTokenInvalid, "session has expired"), attrs...)
	}

	err = s.subjects.WithLock(session.SubjectID.String(), func() error {
		if _, err := s.sessions.Revoke(ctx, session.ID, now); err != nil {
			return err
		}
		s.emit(ctx, events.TypeUserLoggedOut, session.SubjectID, now, map[string]string{
			"session_id": session.ID.String(),
			"token_kind": kind,
		})
		return nil
	})
	if err != nil {
		return nil, s.handleError(ctx, opLogout, err, attrs...)
	}

	s.metrics.IncLogouts()
	return &models.LogoutResult{Revoked: true, Message: "session revoked"}, nil
}

// resolveSession finds the session a token belongs to. Refresh tokens are
// looked up by hash; access tokens by their session claim, which must belong
// to the token's subject.
func (s *Service) resolveSession(ctx context.Context, tok string) (*models.Session, string, error) {
	if token.IsRefreshToken(tok) {
		session, err := s.sessions.FindByRefreshHash(ctx, token.HashRefreshToken(tok))
		return session, tokenKindRefresh, err
	}

	claims, err := s.tokens.ParseIgnoringExpiry(tok)
	if err != nil {
		return nil, "", err
	}
	sessionID, err := claims.SessionUUID()
	if err != nil {
		return nil, "", err
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if session.SubjectID.String() != claims.Subject {
		return nil, "", dErrors.New(dErrors.CodeTokenInvalid, "invalid token")
	}
	return session, tokenKindAccess, nil
}
