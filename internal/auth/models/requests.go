package models

import (
	"strings"

	dErrors "hireloop/pkg/domain-errors"
	"hireloop/pkg/validation"
)

// SignupRequest creates a credential record.
type SignupRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,secret"`
}

func (r *SignupRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = normalizeEmail(r.Email)
}

func (r *SignupRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "request is required")
	}
	return validation.Validate(r)
}

// LoginRequest carries no secret policy beyond presence: a weak secret is
// simply a wrong one.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

func (r *LoginRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = normalizeEmail(r.Email)
}

func (r *LoginRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "request is required")
	}
	return validation.Validate(r)
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,notblank,max=512"`
}

func (r *RefreshRequest) Normalize() {
	if r == nil {
		return
	}
	r.RefreshToken = strings.TrimSpace(r.RefreshToken)
}

func (r *RefreshRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "request is required")
	}
	return validation.Validate(r)
}

// LogoutRequest accepts either the access token or the refresh token.
// The handler fills Token from the Authorization header when the body is empty.
type LogoutRequest struct {
	Token string `json:"token" validate:"required,notblank,max=4096"`
}

func (r *LogoutRequest) Normalize() {
	if r == nil {
		return
	}
	r.Token = strings.TrimSpace(r.Token)
}

func (r *LogoutRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "request is required")
	}
	return validation.Validate(r)
}

// SetStatusRequest is the admin payload for enabling or disabling an account.
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active disabled"`
}

func (r *SetStatusRequest) Normalize() {
	if r == nil {
		return
	}
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
}

func (r *SetStatusRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "request is required")
	}
	return validation.Validate(r)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
