package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hireloop/internal/auth/models"
	"hireloop/internal/sentinel"
)

// Error Contract:
// - ErrNotFound when the record does not exist
// - ErrAlreadyExists when the email is taken
// - ErrUnavailable (wrapped) when the backing store cannot be reached
//
// InMemoryStore stores credentials in memory for tests and single-node runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*models.Credential
	byEmail map[string]uuid.UUID
}

// NewInMemory constructs an empty in-memory credential store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[uuid.UUID]*models.Credential),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, c *models.Credential) error {
	if c == nil {
		return fmt.Errorf("credential is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[c.Email]; ok {
		return fmt.Errorf("credential for email: %w", sentinel.ErrAlreadyExists)
	}
	if _, ok := s.byID[c.ID]; ok {
		return fmt.Errorf("credential id: %w", sentinel.ErrAlreadyExists)
	}
	cp := *c
	s.byID[c.ID] = &cp
	s.byEmail[c.Email] = c.ID
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, email string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("credential not found: %w", sentinel.ErrNotFound)
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *InMemoryStore) GetByID(_ context.Context, id uuid.UUID) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("credential not found: %w", sentinel.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryStore) UpdateSecret(_ context.Context, id uuid.UUID, hash string, version int16, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("credential not found: %w", sentinel.ErrNotFound)
	}
	c.SecretHash = hash
	c.HashVersion = version
	c.UpdatedAt = at
	return nil
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status models.AccountStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("credential not found: %w", sentinel.ErrNotFound)
	}
	c.Status = status
	c.UpdatedAt = at
	return nil
}

// Ping always succeeds.
func (s *InMemoryStore) Ping(context.Context) error {
	return nil
}
