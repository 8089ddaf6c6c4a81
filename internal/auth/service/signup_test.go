package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"hireloop/internal/auth/models"
	"hireloop/internal/auth/password"
	"hireloop/internal/events"
	"hireloop/internal/sentinel"
	dErrors "hireloop/pkg/domain-errors"
	request "hireloop/pkg/platform/middleware/request"
)

func (s *ServiceSuite) TestSignup() {
	ctx := request.WithRequestID(context.Background(), "req-signup")

	s.Run("creates active credential and emits UserRegistered", func() {
		var stored *models.Credential
		var event events.AuthEvent
		s.mockHasher.EXPECT().Hash("correct horse 1").Return("hashed", password.VersionArgon2id, nil)
		s.mockCredentials.EXPECT().Create(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, c *models.Credential) error {
				stored = c
				return nil
			})
		s.expectPublish(&event)

		res, err := s.service.Signup(ctx, &models.SignupRequest{Email: "  New@Example.COM ", Password: "correct horse 1"})
		s.Require().NoError(err)

		s.Equal("new@example.com", res.Email)
		s.Equal(stored.ID.String(), res.SubjectID)
		s.Equal("hashed", stored.SecretHash)
		s.Equal(int16(password.VersionArgon2id), stored.HashVersion)
		s.Equal(models.AccountStatusActive, stored.Status)

		s.Equal(events.TypeUserRegistered, event.Type)
		s.Equal(stored.ID, event.SubjectID)
		s.Equal("req-signup", event.CorrelationID)
		s.Equal(s.now, event.Timestamp)
		s.Equal("argon2id", event.Outcome["hash_version"])
	})

	s.Run("duplicate email fails AlreadyExists and emits nothing", func() {
		before := testutil.ToFloat64(s.metrics.Signups)
		s.mockHasher.EXPECT().Hash(gomock.Any()).Return("hashed", password.VersionArgon2id, nil)
		s.mockCredentials.EXPECT().Create(gomock.Any(), gomock.Any()).
			Return(fmt.Errorf("email taken: %w", sentinel.ErrAlreadyExists))
		s.mockPublisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

		_, err := s.service.Signup(ctx, &models.SignupRequest{Email: "dup@example.com", Password: "correct horse 1"})
		s.requireCode(err, dErrors.CodeAlreadyExists)
		s.Equal(before, testutil.ToFloat64(s.metrics.Signups))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.AuthFailures.WithLabelValues("signup", "already_exists")))
	})

	s.Run("weak secret is rejected before hashing", func() {
		for _, secret := range []string{"short1", "lettersonly", "12345678901"} {
			_, err := s.service.Signup(ctx, &models.SignupRequest{Email: "a@example.com", Password: secret})
			s.requireCode(err, dErrors.CodeInvalidInput)
		}
	})

	s.Run("malformed email is rejected", func() {
		_, err := s.service.Signup(ctx, &models.SignupRequest{Email: "not-an-email", Password: "correct horse 1"})
		s.requireCode(err, dErrors.CodeInvalidInput)
	})

	s.Run("nil request is rejected", func() {
		_, err := s.service.Signup(ctx, nil)
		s.requireCode(err, dErrors.CodeInvalidInput)
	})

	s.Run("store outage surfaces as StoreUnavailable", func() {
		s.mockHasher.EXPECT().Hash(gomock.Any()).Return("hashed", password.VersionArgon2id, nil)
		s.mockCredentials.EXPECT().Create(gomock.Any(), gomock.Any()).
			Return(fmt.Errorf("dial: %w", sentinel.ErrUnavailable))

		_, err := s.service.Signup(ctx, &models.SignupRequest{Email: "b@example.com", Password: "correct horse 1"})
		s.requireCode(err, dErrors.CodeStoreUnavailable)
	})
}
