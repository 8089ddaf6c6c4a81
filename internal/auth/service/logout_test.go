package service

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"hireloop/internal/auth/models"
	"hireloop/internal/auth/token"
	"hireloop/internal/events"
	"hireloop/internal/sentinel"
	dErrors "hireloop/pkg/domain-errors"
)

func (s *ServiceSuite) claimsFor(subjectID, sessionID uuid.UUID) *token.AccessTokenClaims {
	return &token.AccessTokenClaims{
		SessionID:        sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{Subject: subjectID.String()},
	}
}

func (s *ServiceSuite) TestLogout() {
	ctx := context.Background()

	s.Run("refresh token revokes its session", func() {
		refreshToken := "rt_logout-me"
		existing := s.newSession(uuid.New(), token.HashRefreshToken(refreshToken))
		var event events.AuthEvent
		s.mockSessions.EXPECT().FindByRefreshHash(gomock.Any(), existing.RefreshTokenHash).Return(existing, nil)
		s.mockSessions.EXPECT().Revoke(gomock.Any(), existing.ID, s.now).Return(existing, nil)
		s.expectPublish(&event)

		res, err := s.service.Logout(ctx, &models.LogoutRequest{Token: refreshToken})
		s.Require().NoError(err)
		s.True(res.Revoked)
		s.Equal(events.TypeUserLoggedOut, event.Type)
		s.Equal(existing.SubjectID, event.SubjectID)
		s.Equal("refresh", event.Outcome["token_kind"])
	})

	s.Run("access token revokes its session even when expired", func() {
		existing := s.newSession(uuid.New(), "h")
		var event events.AuthEvent
		s.mockTokens.EXPECT().ParseIgnoringExpiry("expired.jwt.value").Return(s.claimsFor(existing.SubjectID, existing.ID), nil)
		s.mockSessions.EXPECT().FindByID(gomock.Any(), existing.ID).Return(existing, nil)
		s.mockSessions.EXPECT().Revoke(gomock.Any(), existing.ID, s.now).Return(existing, nil)
		s.expectPublish(&event)

		_, err := s.service.Logout(ctx, &models.LogoutRequest{Token: "expired.jwt.value"})
		s.Require().NoError(err)
		s.Equal("access", event.Outcome["token_kind"])
		s.Equal(existing.ID.String(), event.Outcome["session_id"])
	})

	s.Run("access token for another subject's session is rejected", func() {
		existing := s.newSession(uuid.New(), "h")
		s.mockTokens.EXPECT().ParseIgnoringExpiry(gomock.Any()).Return(s.claimsFor(uuid.New(), existing.ID), nil)
		s.mockSessions.EXPECT().FindByID(gomock.Any(), existing.ID).Return(existing, nil)

		_, err := s.service.Logout(ctx, &models.LogoutRequest{Token: "forged.jwt.value"})
		s.requireCode(err, dErrors.CodeTokenInvalid)
	})

	s.Run("bad signature is TokenInvalid", func() {
		s.mockTokens.EXPECT().ParseIgnoringExpiry(gomock.Any()).Return(nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token"))

		_, err := s.service.Logout(ctx, &models.LogoutRequest{Token: "tampered.jwt.value"})
		s.requireCode(err, dErrors.CodeTokenInvalid)
	})

	s.Run("unknown session is TokenInvalid", func() {
		s.mockSessions.EXPECT().FindByRefreshHash(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)

		_, err := s.service.Logout(ctx, &models.LogoutRequest{Token: "rt_unknown"})
		s.requireCode(err, dErrors.CodeTokenInvalid)
	})

	s.Run("already revoked session emits nothing", func() {
		revoked := s.newSession(uuid.New(), "h")
		revoked.Revoke(s.now.Add(-time.Minute))
		s.mockSessions.EXPECT().FindByRefreshHash(gomock.Any(), gomock.Any()).Return(revoked, nil)
		s.mockPublisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

		_, err := s.service.Logout(ctx, &models.LogoutRequest{Token: "rt_stale"})
		s.requireCode(err, dErrors.CodeTokenInvalid)
	})

	s.Run("session past its refresh window emits nothing", func() {
		expired := s.newSession(uuid.New(), "h")
		expired.ExpiresAt = s.now.Add(-time.Hour)
		s.mockSessions.EXPECT().FindByRefreshHash(gomock.Any(), gomock.Any()).Return(expired, nil)
		s.mockSessions.EXPECT().Revoke(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
		s.mockPublisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

		_, err := s.service.Logout(ctx, &models.LogoutRequest{Token: "rt_expired"})
		s.requireCode(err, dErrors.CodeTokenInvalid)
	})

	s.Run("expired access token for an expired session is rejected", func() {
		expired := s.newSession(uuid.New(), "h")
		expired.ExpiresAt = s.now
		s.mockTokens.EXPECT().ParseIgnoringExpiry(gomock.Any()).Return(s.claimsFor(expired.SubjectID, expired.ID), nil)
		s.mockSessions.EXPECT().FindByID(gomock.Any(), expired.ID).Return(expired, nil)
		s.mockPublisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

		_, err := s.service.Logout(ctx, &models.LogoutRequest{Token: "old.jwt.value"})
		s.requireCode(err, dErrors.CodeTokenInvalid)
	})

	s.Run("concurrent revoke loses with TokenInvalid", func() {
		existing := s.newSession(uuid.New(), "h")
		s.mockSessions.EXPECT().FindByRefreshHash(gomock.Any(), gomock.Any()).Return(existing, nil)
		s.mockSessions.EXPECT().Revoke(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrInvalidState)

		_, err := s.service.Logout(ctx, &models.LogoutRequest{Token: "rt_racing"})
		s.requireCode(err, dErrors.CodeTokenInvalid)
	})

	s.Run("blank token is invalid input", func() {
		_, err := s.service.Logout(ctx, &models.LogoutRequest{Token: "   "})
		s.requireCode(err, dErrors.CodeInvalidInput)
	})
}
