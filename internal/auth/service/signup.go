package service

import (
	"context"

	"github.com/google/uuid"

	"hireloop/internal/auth/models"
	"hireloop/internal/events"
)

// Signup creates an active credential record and emits UserRegistered. No
// session is issued; the caller logs in separately.
func (s *Service) Signup(ctx context.Context, req *models.SignupRequest) (result *models.SignupResult, err error) {
	ctx, done := s.startOperation(ctx, opSignup)
	defer func() { done(err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, s.handleError(ctx, opSignup, err)
	}

	hash, version, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, s.handleError(ctx, opSignup, err)
	}

	now := s.now().UTC()
	cred := &models.Credential{
		ID:          uuid.New(),
		Email:       req.Email,
		SecretHash:  hash,
		HashVersion: int16(version),
		Status:      models.AccountStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.subjects.WithLock(cred.ID.String(), func() error {
		if err := s.credentials.Create(ctx, cred); err != nil {
			return err
		}
		s.emit(ctx, events.TypeUserRegistered, cred.ID, now, map[string]string{
			"hash_version": version.String(),
		})
		return nil
	})
	if err != nil {
		return nil, s.handleError(ctx, opSignup, err)
	}

	s.metrics.IncSignups()
	return &models.SignupResult{
		SubjectID: cred.ID.String(),
		Email:     cred.Email,
		CreatedAt: cred.CreatedAt,
	}, nil
}
