package service

import (
	"context"
	"errors"

	"hireloop/internal/sentinel"
	dErrors "hireloop/pkg/domain-errors"
)

type operation string

const (
	opSignup    operation = "signup"
	opLogin     operation = "login"
	opRefresh   operation = "refresh"
	opLogout    operation = "logout"
	opSetStatus operation = "set_status"
)

// Login never says which of email, secret or status was wrong.
const invalidCredentialsMsg = "invalid email or password"

func errInvalidCredentials() error {
	return dErrors.New(dErrors.CodeInvalidCredentials, invalidCredentialsMsg)
}

type errorOverride struct {
	code dErrors.Code
	msg  string
}

// errorMapping defines how a sentinel error maps to a domain error.
type errorMapping struct {
	sentinel  error
	code      dErrors.Code
	msg       string
	logReason string
	overrides map[operation]errorOverride
}

// errorMappings are checked in order; first match wins. ErrUnavailable comes
// first so an outage is never reported as a client mistake.
var errorMappings = []errorMapping{
	{sentinel.ErrUnavailable, dErrors.CodeStoreUnavailable, "auth store unavailable", "store_unavailable", nil},
	{sentinel.ErrAlreadyExists, dErrors.CodeAlreadyExists, "email already registered", "already_exists", nil},
	{sentinel.ErrAlreadyUsed, dErrors.CodeTokenInvalid, "invalid refresh token", "refresh_token_reuse", nil},
	{sentinel.ErrInvalidState, dErrors.CodeTokenInvalid, "session has been revoked", "session_revoked", nil},
	{sentinel.ErrExpired, dErrors.CodeTokenExpired, "refresh token expired", "expired", nil},
	{sentinel.ErrNotFound, dErrors.CodeNotFound, "subject not found", "not_found", map[operation]errorOverride{
		opLogin:   {dErrors.CodeInvalidCredentials, invalidCredentialsMsg},
		opRefresh: {dErrors.CodeTokenInvalid, "invalid refresh token"},
		opLogout:  {dErrors.CodeTokenInvalid, "invalid token"},
	}},
}

// handleError translates dependency errors into domain errors, records the
// failure, and returns the error the caller should see. Domain errors pass
// through unchanged.
func (s *Service) handleError(ctx context.Context, op operation, err error, attrs ...any) error {
	if err == nil {
		return nil
	}

	var de *dErrors.Error
	if errors.As(err, &de) {
		s.authFailure(ctx, op, string(de.Code), de.Code == dErrors.CodeInternal, err, attrs...)
		return err
	}

	for _, m := range errorMappings {
		if !errors.Is(err, m.sentinel) {
			continue
		}
		code, msg := m.code, m.msg
		if o, ok := m.overrides[op]; ok {
			code, msg = o.code, o.msg
		}
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			s.metrics.IncRefreshTokenReuse()
		}
		s.authFailure(ctx, op, m.logReason, code == dErrors.CodeStoreUnavailable, err, attrs...)
		return dErrors.Wrap(err, code, msg)
	}

	s.authFailure(ctx, op, "internal_error", true, err, attrs...)
	return dErrors.Wrap(err, dErrors.CodeInternal, string(op)+" failed")
}
