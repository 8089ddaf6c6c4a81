package overflow

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"hireloop/internal/sentinel"
)

// MemoryStore keeps entries in process memory. Used when no database is
// configured; entries do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
	order   []uuid.UUID
}

// NewMemoryStore creates an empty in-memory overflow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uuid.UUID]*Entry)}
}

func (s *MemoryStore) Append(_ context.Context, entry *Entry) error {
	if entry == nil || entry.ID == uuid.Nil {
		return fmt.Errorf("overflow entry id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.ID]; ok {
		return nil
	}
	cp := *entry
	cp.Payload = slices.Clone(entry.Payload)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.entries[cp.ID] = &cp
	s.order = append(s.order, cp.ID)
	return nil
}

func (s *MemoryStore) FetchPending(_ context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, min(limit, len(s.order)))
	for _, id := range s.order {
		e := s.entries[id]
		if !e.IsPending() {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkReplayed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || !e.IsPending() {
		return fmt.Errorf("overflow entry %s: %w", id, sentinel.ErrNotFound)
	}
	e.ReplayedAt = &at
	return nil
}

func (s *MemoryStore) RecordRejection(_ context.Context, id uuid.UUID, cause string, maxRejections int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || !e.IsPending() {
		return false, fmt.Errorf("overflow entry %s: %w", id, sentinel.ErrNotFound)
	}
	e.Rejections++
	e.LastError = cause
	if e.Rejections >= maxRejections {
		e.FailedAt = &at
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) CountPending(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.entries {
		if e.IsPending() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteReplayedBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	kept := s.order[:0]
	for _, id := range s.order {
		e := s.entries[id]
		if e.ReplayedAt != nil && e.ReplayedAt.Before(before) {
			delete(s.entries, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return deleted, nil
}

var _ Store = (*MemoryStore)(nil)
