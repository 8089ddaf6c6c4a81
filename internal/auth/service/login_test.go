package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"hireloop/internal/auth/models"
	"hireloop/internal/auth/password"
	"hireloop/internal/auth/token"
	"hireloop/internal/events"
	"hireloop/internal/sentinel"
	dErrors "hireloop/pkg/domain-errors"
)

func (s *ServiceSuite) TestLogin() {
	ctx := context.Background()
	secret := "correct horse 1"

	s.Run("issues artifact and emits UserLoggedIn", func() {
		cred := s.newCredential(models.AccountStatusActive)
		var stored *models.Session
		var event events.AuthEvent
		s.mockCredentials.EXPECT().Get(gomock.Any(), "user@example.com").Return(cred, nil)
		s.mockHasher.EXPECT().Verify("stored-hash", password.VersionArgon2id, secret).Return(true, nil)
		s.mockHasher.EXPECT().NeedsRehash(password.VersionArgon2id).Return(false)
		s.mockTokens.EXPECT().GenerateAccessToken(cred.ID, gomock.Any(), s.now).
			Return("access-jwt", s.now.Add(15*time.Minute), nil)
		s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, sess *models.Session) error {
				stored = sess
				return nil
			})
		s.expectPublish(&event)

		artifact, err := s.service.Login(ctx, &models.LoginRequest{Email: "User@example.com", Password: secret})
		s.Require().NoError(err)

		s.Equal("access-jwt", artifact.AccessToken)
		s.True(token.IsRefreshToken(artifact.RefreshToken))
		s.Equal(token.HashRefreshToken(artifact.RefreshToken), stored.RefreshTokenHash)
		s.Equal(stored.ID, artifact.SessionID)
		s.Equal(cred.ID, stored.SubjectID)
		s.Equal(s.now.Add(24*time.Hour), stored.ExpiresAt)
		s.Equal(stored.ExpiresAt, artifact.RefreshExpiresAt)

		s.Equal(events.TypeUserLoggedIn, event.Type)
		s.Equal(cred.ID, event.SubjectID)
		s.Equal(stored.ID.String(), event.Outcome["session_id"])
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Logins))
	})

	s.Run("unknown email and wrong secret return identical errors", func() {
		s.mockCredentials.EXPECT().Get(gomock.Any(), "ghost@example.com").
			Return(nil, fmt.Errorf("credential not found: %w", sentinel.ErrNotFound))
		s.mockHasher.EXPECT().DummyCompare(secret).Times(1)
		_, unknownErr := s.service.Login(ctx, &models.LoginRequest{Email: "ghost@example.com", Password: secret})

		cred := s.newCredential(models.AccountStatusActive)
		s.mockCredentials.EXPECT().Get(gomock.Any(), "user@example.com").Return(cred, nil)
		s.mockHasher.EXPECT().Verify(gomock.Any(), gomock.Any(), "wrong secret 2").Return(false, nil)
		_, wrongErr := s.service.Login(ctx, &models.LoginRequest{Email: "user@example.com", Password: "wrong secret 2"})

		s.requireCode(unknownErr, dErrors.CodeInvalidCredentials)
		s.requireCode(wrongErr, dErrors.CodeInvalidCredentials)
		s.Equal(unknownErr.Error(), wrongErr.Error())
		s.Equal(dErrors.CodeOf(unknownErr), dErrors.CodeOf(wrongErr))
		s.False(errors.Is(unknownErr, sentinel.ErrNotFound), "cause must not leak")
	})

	s.Run("disabled account returns the same error after verifying", func() {
		cred := s.newCredential(models.AccountStatusDisabled)
		s.mockCredentials.EXPECT().Get(gomock.Any(), gomock.Any()).Return(cred, nil)
		s.mockHasher.EXPECT().Verify(gomock.Any(), gomock.Any(), secret).Return(true, nil)

		_, err := s.service.Login(ctx, &models.LoginRequest{Email: "user@example.com", Password: secret})
		s.requireCode(err, dErrors.CodeInvalidCredentials)
		s.Equal(invalidCredentialsMsg, err.Error())
	})

	s.Run("unverifiable hash is reported as invalid credentials", func() {
		cred := s.newCredential(models.AccountStatusActive)
		s.mockCredentials.EXPECT().Get(gomock.Any(), gomock.Any()).Return(cred, nil)
		s.mockHasher.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, password.ErrMalformedHash)

		_, err := s.service.Login(ctx, &models.LoginRequest{Email: "user@example.com", Password: secret})
		s.requireCode(err, dErrors.CodeInvalidCredentials)
	})

	s.Run("outdated hash is rotated", func() {
		cred := s.newCredential(models.AccountStatusActive)
		cred.HashVersion = int16(password.VersionBcrypt)
		s.mockCredentials.EXPECT().Get(gomock.Any(), gomock.Any()).Return(cred, nil)
		s.mockHasher.EXPECT().Verify("stored-hash", password.VersionBcrypt, secret).Return(true, nil)
		s.mockHasher.EXPECT().NeedsRehash(password.VersionBcrypt).Return(true)
		s.mockHasher.EXPECT().Hash(secret).Return("new-hash", password.VersionArgon2id, nil)
		s.mockCredentials.EXPECT().UpdateSecret(gomock.Any(), cred.ID, "new-hash", int16(password.VersionArgon2id), s.now).Return(nil)
		s.mockTokens.EXPECT().GenerateAccessToken(gomock.Any(), gomock.Any(), gomock.Any()).Return("jwt", s.now.Add(time.Minute), nil)
		s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.mockPublisher.EXPECT().Publish(gomock.Any(), gomock.Any())

		_, err := s.service.Login(ctx, &models.LoginRequest{Email: "user@example.com", Password: secret})
		s.Require().NoError(err)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Rehashes))
	})

	s.Run("failed rehash does not fail login", func() {
		cred := s.newCredential(models.AccountStatusActive)
		cred.HashVersion = int16(password.VersionBcrypt)
		s.mockCredentials.EXPECT().Get(gomock.Any(), gomock.Any()).Return(cred, nil)
		s.mockHasher.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
		s.mockHasher.EXPECT().NeedsRehash(gomock.Any()).Return(true)
		s.mockHasher.EXPECT().Hash(gomock.Any()).Return("new-hash", password.VersionArgon2id, nil)
		s.mockCredentials.EXPECT().UpdateSecret(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(fmt.Errorf("write: %w", sentinel.ErrUnavailable))
		s.mockTokens.EXPECT().GenerateAccessToken(gomock.Any(), gomock.Any(), gomock.Any()).Return("jwt", s.now.Add(time.Minute), nil)
		s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.mockPublisher.EXPECT().Publish(gomock.Any(), gomock.Any())

		artifact, err := s.service.Login(ctx, &models.LoginRequest{Email: "user@example.com", Password: secret})
		s.Require().NoError(err)
		s.NotEmpty(artifact.AccessToken)
	})

	s.Run("session store outage fails without emitting", func() {
		cred := s.newCredential(models.AccountStatusActive)
		s.mockCredentials.EXPECT().Get(gomock.Any(), gomock.Any()).Return(cred, nil)
		s.mockHasher.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
		s.mockHasher.EXPECT().NeedsRehash(gomock.Any()).Return(false)
		s.mockTokens.EXPECT().GenerateAccessToken(gomock.Any(), gomock.Any(), gomock.Any()).Return("jwt", s.now.Add(time.Minute), nil)
		s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(fmt.Errorf("redis: %w", sentinel.ErrUnavailable))

		_, err := s.service.Login(ctx, &models.LoginRequest{Email: "user@example.com", Password: secret})
		s.requireCode(err, dErrors.CodeStoreUnavailable)
	})

	s.Run("credential store outage is not hidden as invalid credentials", func() {
		s.mockCredentials.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("pg: %w", sentinel.ErrUnavailable))

		_, err := s.service.Login(ctx, &models.LoginRequest{Email: "user@example.com", Password: secret})
		s.requireCode(err, dErrors.CodeStoreUnavailable)
	})

	s.Run("missing fields are invalid input", func() {
		_, err := s.service.Login(ctx, &models.LoginRequest{Email: "user@example.com"})
		s.requireCode(err, dErrors.CodeInvalidInput)
	})
}
