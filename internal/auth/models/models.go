package models

import (
	"time"

	"github.com/google/uuid"
)

// This file contains pure domain models for authentication: entities
// that should not depend on transport or HTTP-specific concerns.

// AccountStatus is the lifecycle state of a credential record.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusDisabled AccountStatus = "disabled"
)

func (s AccountStatus) IsValid() bool {
	return s == AccountStatusActive || s == AccountStatusDisabled
}

func (s AccountStatus) String() string {
	return string(s)
}

// Credential is the record that authenticates a subject. SecretHash is
// produced by the password package; HashVersion names the algorithm.
type Credential struct {
	ID          uuid.UUID
	Email       string
	SecretHash  string
	HashVersion int16
	Status      AccountStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c *Credential) IsActive() bool {
	return c.Status == AccountStatusActive
}

// SessionStatus represents the lifecycle state of an auth session.
type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusRevoked SessionStatus = "revoked"
)

// Session is the server-side bookkeeping for an issued Session Artifact.
// Only the SHA-256 of the current refresh token is kept.
type Session struct {
	ID               uuid.UUID
	SubjectID        uuid.UUID
	RefreshTokenHash string
	Status           SessionStatus
	IssuedAt         time.Time
	RefreshedAt      *time.Time
	ExpiresAt        time.Time // end of the refresh window
	RevokedAt        *time.Time
}

func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

func (s *Session) IsRevoked() bool {
	return s.Status == SessionStatusRevoked
}

// IsExpired reports whether the refresh window closed at or before now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Revoke transitions the session to revoked state.
// Returns true if the transition occurred, false if already revoked.
func (s *Session) Revoke(at time.Time) bool {
	if s.IsRevoked() {
		return false
	}
	s.Status = SessionStatusRevoked
	s.RevokedAt = &at
	return true
}

// Rotate replaces the refresh token hash and records the refresh time.
func (s *Session) Rotate(newHash string, at time.Time) {
	s.RefreshTokenHash = newHash
	s.RefreshedAt = &at
}

// Clone returns a deep copy so stores never share pointer fields with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.RefreshedAt != nil {
		t := *s.RefreshedAt
		out.RefreshedAt = &t
	}
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		out.RevokedAt = &t
	}
	return &out
}

// SessionArtifact is what a client receives on login and refresh.
type SessionArtifact struct {
	AccessToken      string
	RefreshToken     string
	SubjectID        uuid.UUID
	SessionID        uuid.UUID
	IssuedAt         time.Time
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
}
