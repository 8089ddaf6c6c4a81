package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hireloop/internal/auth/models"
	"hireloop/internal/sentinel"
)

var (
	ErrSessionRevoked    = fmt.Errorf("session has been revoked: %w", sentinel.ErrInvalidState)
	ErrRefreshTokenReuse = fmt.Errorf("refresh token already rotated: %w", sentinel.ErrAlreadyUsed)
)

// Error Contract:
// - ErrNotFound when the session or refresh token is unknown
// - ErrSessionRevoked (ErrInvalidState) when mutating a revoked session
// - ErrRefreshTokenReuse (ErrAlreadyUsed) when rotating with a superseded token
// - ErrUnavailable (wrapped) when the backing store cannot be reached
//
// InMemoryStore stores sessions in memory for tests/dev.
type InMemoryStore struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]*models.Session
	byRefresh map[string]uuid.UUID
	bySubject map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewInMemory constructs an empty in-memory session store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[uuid.UUID]*models.Session),
		byRefresh: make(map[string]uuid.UUID),
		bySubject: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (s *InMemoryStore) Create(_ context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("session id: %w", sentinel.ErrAlreadyExists)
	}
	s.sessions[session.ID] = session.Clone()
	s.byRefresh[session.RefreshTokenHash] = session.ID
	set, ok := s.bySubject[session.SubjectID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		s.bySubject[session.SubjectID] = set
	}
	set[session.ID] = struct{}{}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	return session.Clone(), nil
}

func (s *InMemoryStore) FindByRefreshHash(_ context.Context, hash string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRefresh[hash]
	if !ok {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	return s.sessions[id].Clone(), nil
}

// Rotate swaps the refresh token hash if oldHash is still current.
func (s *InMemoryStore) Rotate(_ context.Context, id uuid.UUID, oldHash, newHash string, at time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	if session.IsRevoked() {
		return nil, ErrSessionRevoked
	}
	if session.RefreshTokenHash != oldHash {
		return nil, ErrRefreshTokenReuse
	}
	delete(s.byRefresh, oldHash)
	session.Rotate(newHash, at)
	s.byRefresh[newHash] = id
	return session.Clone(), nil
}

func (s *InMemoryStore) Revoke(_ context.Context, id uuid.UUID, at time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeLocked(id, at)
}

func (s *InMemoryStore) revokeLocked(id uuid.UUID, at time.Time) (*models.Session, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	if !session.Revoke(at) {
		return nil, ErrSessionRevoked
	}
	delete(s.byRefresh, session.RefreshTokenHash)
	return session.Clone(), nil
}

// RevokeAllForSubject revokes every active session of the subject and
// returns how many were revoked.
func (s *InMemoryStore) RevokeAllForSubject(_ context.Context, subjectID uuid.UUID, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	revoked := 0
	for id := range s.bySubject[subjectID] {
		if _, err := s.revokeLocked(id, at); err == nil {
			revoked++
		}
	}
	return revoked, nil
}

// Ping always succeeds.
func (s *InMemoryStore) Ping(context.Context) error {
	return nil
}

// DeleteExpiredSessions drops sessions past their refresh window and
// sessions revoked longer than revokedRetention ago. The Redis store relies
// on key TTLs for the same effect.
func (s *InMemoryStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, session := range s.sessions {
		revokedLongAgo := session.RevokedAt != nil && now.Sub(*session.RevokedAt) >= revokedRetention
		if !session.IsExpired(now) && !revokedLongAgo {
			continue
		}
		delete(s.sessions, id)
		if s.byRefresh[session.RefreshTokenHash] == id {
			delete(s.byRefresh, session.RefreshTokenHash)
		}
		if set := s.bySubject[session.SubjectID]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(s.bySubject, session.SubjectID)
			}
		}
		deleted++
	}
	return deleted, nil
}
