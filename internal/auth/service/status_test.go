package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"hireloop/internal/auth/models"
	"hireloop/internal/events"
	"hireloop/internal/sentinel"
	dErrors "hireloop/pkg/domain-errors"
	"hireloop/pkg/platform/middleware/admin"
)

func (s *ServiceSuite) TestSetAccountStatus() {
	adminCtx := context.WithValue(context.Background(), admin.ContextKeyAdminActorID, "ops-7")

	s.Run("disabling revokes sessions and emits AccountStatusChanged", func() {
		cred := s.newCredential(models.AccountStatusActive)
		var event events.AuthEvent
		s.mockCredentials.EXPECT().GetByID(gomock.Any(), cred.ID).Return(cred, nil)
		s.mockCredentials.EXPECT().UpdateStatus(gomock.Any(), cred.ID, models.AccountStatusDisabled, s.now).Return(nil)
		s.mockSessions.EXPECT().RevokeAllForSubject(gomock.Any(), cred.ID, s.now).Return(3, nil)
		s.expectPublish(&event)

		res, err := s.service.SetAccountStatus(adminCtx, cred.ID, &models.SetStatusRequest{Status: "Disabled"})
		s.Require().NoError(err)
		s.Equal(3, res.SessionsRevoked)
		s.Equal("disabled", res.Status)

		s.Equal(events.TypeAccountStatusChanged, event.Type)
		s.Equal(map[string]string{
			"previous_status":  "active",
			"status":           "disabled",
			"sessions_revoked": "3",
			"actor_id":         "ops-7",
		}, event.Outcome)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.StatusChanges.WithLabelValues("disabled")))
	})

	s.Run("enabling does not touch sessions", func() {
		cred := s.newCredential(models.AccountStatusDisabled)
		var event events.AuthEvent
		s.mockCredentials.EXPECT().GetByID(gomock.Any(), cred.ID).Return(cred, nil)
		s.mockCredentials.EXPECT().UpdateStatus(gomock.Any(), cred.ID, models.AccountStatusActive, s.now).Return(nil)
		s.expectPublish(&event)

		res, err := s.service.SetAccountStatus(context.Background(), cred.ID, &models.SetStatusRequest{Status: "active"})
		s.Require().NoError(err)
		s.Zero(res.SessionsRevoked)
		s.NotContains(event.Outcome, "actor_id")
	})

	s.Run("unchanged status is a no-op", func() {
		cred := s.newCredential(models.AccountStatusActive)
		s.mockCredentials.EXPECT().GetByID(gomock.Any(), cred.ID).Return(cred, nil)
		s.mockPublisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

		res, err := s.service.SetAccountStatus(adminCtx, cred.ID, &models.SetStatusRequest{Status: "active"})
		s.Require().NoError(err)
		s.Equal("active", res.Status)
	})

	s.Run("unknown subject is NotFound", func() {
		s.mockCredentials.EXPECT().GetByID(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)

		_, err := s.service.SetAccountStatus(adminCtx, uuid.New(), &models.SetStatusRequest{Status: "disabled"})
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("committed change is emitted even if revocation fails", func() {
		cred := s.newCredential(models.AccountStatusActive)
		var event events.AuthEvent
		s.mockCredentials.EXPECT().GetByID(gomock.Any(), cred.ID).Return(cred, nil)
		s.mockCredentials.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
		s.mockSessions.EXPECT().RevokeAllForSubject(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(0, fmt.Errorf("redis: %w", sentinel.ErrUnavailable))
		s.expectPublish(&event)

		_, err := s.service.SetAccountStatus(adminCtx, cred.ID, &models.SetStatusRequest{Status: "disabled"})
		s.requireCode(err, dErrors.CodeStoreUnavailable)
		s.Equal(events.TypeAccountStatusChanged, event.Type)
		s.NotContains(event.Outcome, "sessions_revoked")
	})

	s.Run("unknown status value is invalid input", func() {
		_, err := s.service.SetAccountStatus(adminCtx, uuid.New(), &models.SetStatusRequest{Status: "banned"})
		s.requireCode(err, dErrors.CodeInvalidInput)
	})
}
