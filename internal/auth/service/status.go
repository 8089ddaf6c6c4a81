package service

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"hireloop/internal/auth/models"
	"hireloop/internal/events"
	"hireloop/pkg/platform/middleware/admin"
)

// SetAccountStatus enables or disables a subject. Disabling revokes every
// session of the subject. Setting the current status again is a no-op and
// emits nothing.
func (s *Service) SetAccountStatus(ctx context.Context, subjectID uuid.UUID, req *models.SetStatusRequest) (result *models.StatusResult, err error) {
	ctx, done := s.startOperation(ctx, opSetStatus)
	defer func() { done(err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, s.handleError(ctx, opSetStatus, err)
	}
	status := models.AccountStatus(req.Status)
	attrs := []any{"subject_id", subjectID.String(), "status", status.String()}

	result = &models.StatusResult{SubjectID: subjectID.String(), Status: status.String()}
	var changed bool
	err = s.subjects.WithLock(subjectID.String(), func() error {
		cred, err := s.credentials.GetByID(ctx, subjectID)
		if err != nil {
			return err
		}
		if cred.Status == status {
			return nil
		}

		now := s.now().UTC()
		if err := s.credentials.UpdateStatus(ctx, subjectID, status, now); err != nil {
			return err
		}
		changed = true

		outcome := map[string]string{
			"previous_status": cred.Status.String(),
			"status":          status.String(),
		}
		if actor := admin.GetAdminActorID(ctx); actor != "" {
			outcome["actor_id"] = actor
		}

		// The status change is committed from here on, so the event goes out
		// even if session revocation fails.
		var revokeErr error
		if status == models.AccountStatusDisabled {
			result.SessionsRevoked, revokeErr = s.sessions.RevokeAllForSubject(ctx, subjectID, now)
			if revokeErr == nil {
				outcome["sessions_revoked"] = strconv.Itoa(result.SessionsRevoked)
			}
		}
		s.emit(ctx, events.TypeAccountStatusChanged, subjectID, now, outcome)
		return revokeErr
	})
	if changed {
		s.metrics.IncStatusChange(status.String())
	}
	if err != nil {
		return nil, s.handleError(ctx, opSetStatus, err, attrs...)
	}
	return result, nil
}
