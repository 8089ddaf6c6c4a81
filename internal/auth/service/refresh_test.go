package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"hireloop/internal/auth/models"
	"hireloop/internal/auth/store/session"
	"hireloop/internal/auth/token"
	"hireloop/internal/events"
	"hireloop/internal/sentinel"
	dErrors "hireloop/pkg/domain-errors"
)

func (s *ServiceSuite) TestRefresh() {
	ctx := context.Background()
	refreshToken := "rt_current-token"
	oldHash := token.HashRefreshToken(refreshToken)

	s.Run("rotates refresh token and emits SessionRefreshed", func() {
		existing := s.newSession(uuid.New(), oldHash)
		var newHash string
		var event events.AuthEvent
		s.mockSessions.EXPECT().FindByRefreshHash(gomock.Any(), oldHash).Return(existing, nil)
		s.mockTokens.EXPECT().GenerateAccessToken(existing.SubjectID, existing.ID, s.now).
			Return("new-access", s.now.Add(15*time.Minute), nil)
		s.mockSessions.EXPECT().Rotate(gomock.Any(), existing.ID, oldHash, gomock.Any(), s.now).
			DoAndReturn(func(_ context.Context, _ uuid.UUID, _, hash string, at time.Time) (*models.Session, error) {
				newHash = hash
				rotated := existing.Clone()
				rotated.Rotate(hash, at)
				return rotated, nil
			})
		s.expectPublish(&event)

		artifact, err := s.service.Refresh(ctx, &models.RefreshRequest{RefreshToken: " " + refreshToken + " "})
		s.Require().NoError(err)

		s.NotEqual(refreshToken, artifact.RefreshToken)
		s.Equal(token.HashRefreshToken(artifact.RefreshToken), newHash)
		s.Equal("new-access", artifact.AccessToken)
		s.Equal(existing.ExpiresAt, artifact.RefreshExpiresAt, "refresh window is not extended")
		s.Equal(events.TypeSessionRefreshed, event.Type)
		s.Equal(existing.SubjectID, event.SubjectID)
		s.Equal(existing.ID.String(), event.Outcome["session_id"])
	})

	s.Run("malformed token is rejected without a lookup", func() {
		_, err := s.service.Refresh(ctx, &models.RefreshRequest{RefreshToken: "eyJhbGciOi.not.refresh"})
		s.requireCode(err, dErrors.CodeTokenInvalid)
	})

	s.Run("unknown token is TokenInvalid", func() {
		s.mockSessions.EXPECT().FindByRefreshHash(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)

		_, err := s.service.Refresh(ctx, &models.RefreshRequest{RefreshToken: refreshToken})
		s.requireCode(err, dErrors.CodeTokenInvalid)
	})

	s.Run("revoked session is TokenInvalid", func() {
		revoked := s.newSession(uuid.New(), oldHash)
		revoked.Revoke(s.now.Add(-time.Minute))
		s.mockSessions.EXPECT().FindByRefreshHash(gomock.Any(), gomock.Any()).Return(revoked, nil)

		_, err := s.service.Refresh(ctx, &models.RefreshRequest{RefreshToken: refreshToken})
		s.requireCode(err, dErrors.CodeTokenInvalid)
	})

	s.Run("expired refresh window is TokenExpired", func() {
		expired := s.newSession(uuid.New(), oldHash)
		expired.ExpiresAt = s.now
		s.mockSessions.EXPECT().FindByRefreshHash(gomock.Any(), gomock.Any()).Return(expired, nil)

		_, err := s.service.Refresh(ctx, &models.RefreshRequest{RefreshToken: refreshToken})
		s.requireCode(err, dErrors.CodeTokenExpired)
	})

	s.Run("losing a rotation race is TokenInvalid and emits nothing", func() {
		existing := s.newSession(uuid.New(), oldHash)
		s.mockSessions.EXPECT().FindByRefreshHash(gomock.Any(), gomock.Any()).Return(existing, nil)
		s.mockTokens.EXPECT().GenerateAccessToken(gomock.Any(), gomock.Any(), gomock.Any()).Return("jwt", s.now, nil)
		s.mockSessions.EXPECT().Rotate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, session.ErrRefreshTokenReuse)
		s.mockPublisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

		_, err := s.service.Refresh(ctx, &models.RefreshRequest{RefreshToken: refreshToken})
		s.requireCode(err, dErrors.CodeTokenInvalid)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.RefreshTokenReuse))
	})

	s.Run("session store outage is StoreUnavailable", func() {
		s.mockSessions.EXPECT().FindByRefreshHash(gomock.Any(), gomock.Any()).
			Return(nil, sentinel.ErrUnavailable)

		_, err := s.service.Refresh(ctx, &models.RefreshRequest{RefreshToken: refreshToken})
		s.requireCode(err, dErrors.CodeStoreUnavailable)
	})
}
