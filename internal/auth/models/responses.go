package models

import "time"

// This file contains transport-layer response models for JSON output.

// SignupResult is the response payload for /signup.
type SignupResult struct {
	SubjectID string    `json:"subject_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionResult is the response payload for /login and /refresh.
type SessionResult struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"` // seconds until access token expiry
	SubjectID        string    `json:"subject_id"`
	SessionID        string    `json:"session_id"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// NewSessionResult shapes an artifact for the wire.
func NewSessionResult(a *SessionArtifact) *SessionResult {
	return &SessionResult{
		AccessToken:      a.AccessToken,
		RefreshToken:     a.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int(a.ExpiresAt.Sub(a.IssuedAt).Seconds()),
		SubjectID:        a.SubjectID.String(),
		SessionID:        a.SessionID.String(),
		RefreshExpiresAt: a.RefreshExpiresAt,
	}
}

type LogoutResult struct {
	Revoked bool   `json:"revoked"`
	Message string `json:"message"`
}

type StatusResult struct {
	SubjectID       string `json:"subject_id"`
	Status          string `json:"status"`
	SessionsRevoked int    `json:"sessions_revoked"`
}
