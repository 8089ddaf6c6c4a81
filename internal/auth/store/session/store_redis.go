package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hireloop/internal/auth/models"
	"hireloop/internal/sentinel"
)

const (
	// Redis key prefixes for session data
	sessionKeyPrefix        = "session:"
	refreshKeyPrefix        = "refresh:"
	subjectSessionKeyPrefix = "subject_sessions:"

	// revokedRetention keeps revoked sessions around so a replayed logout
	// reports the session as revoked rather than unknown.
	revokedRetention = time.Hour

	// maxWatchRetries bounds optimistic-lock retries on Revoke.
	maxWatchRetries = 3
)

// sessionJSON is the JSON-serializable representation of a Session.
type sessionJSON struct {
	ID               string `json:"id"`
	SubjectID        string `json:"subject_id"`
	RefreshTokenHash string `json:"refresh_token_hash"`
	Status           string `json:"status"`
	IssuedAt         int64  `json:"issued_at"`              // Unix nano
	RefreshedAt      *int64 `json:"refreshed_at,omitempty"` // Unix nano
	ExpiresAt        int64  `json:"expires_at"`             // Unix nano
	RevokedAt        *int64 `json:"revoked_at,omitempty"`   // Unix nano
}

func sessionToJSON(s *models.Session) *sessionJSON {
	j := &sessionJSON{
		ID:               s.ID.String(),
		SubjectID:        s.SubjectID.String(),
		RefreshTokenHash: s.RefreshTokenHash,
		Status:           string(s.Status),
		IssuedAt:         s.IssuedAt.UnixNano(),
		ExpiresAt:        s.ExpiresAt.UnixNano(),
	}
	if s.RefreshedAt != nil {
		ts := s.RefreshedAt.UnixNano()
		j.RefreshedAt = &ts
	}
	if s.RevokedAt != nil {
		ts := s.RevokedAt.UnixNano()
		j.RevokedAt = &ts
	}
	return j
}

func sessionFromJSON(j *sessionJSON) (*models.Session, error) {
	sessionID, err := uuid.Parse(j.ID)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	subjectID, err := uuid.Parse(j.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("parse subject id: %w", err)
	}
	s := &models.Session{
		ID:               sessionID,
		SubjectID:        subjectID,
		RefreshTokenHash: j.RefreshTokenHash,
		Status:           models.SessionStatus(j.Status),
		IssuedAt:         time.Unix(0, j.IssuedAt),
		ExpiresAt:        time.Unix(0, j.ExpiresAt),
	}
	if j.RefreshedAt != nil {
		t := time.Unix(0, *j.RefreshedAt)
		s.RefreshedAt = &t
	}
	if j.RevokedAt != nil {
		t := time.Unix(0, *j.RevokedAt)
		s.RevokedAt = &t
	}
	return s, nil
}

// RedisStore persists sessions in Redis so every instance shares revocation
// state. Refresh tokens are indexed by hash under their own key.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedis constructs a Redis-backed session store.
func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func sessionKey(id uuid.UUID) string {
	return sessionKeyPrefix + id.String()
}

func refreshKey(hash string) string {
	return refreshKeyPrefix + hash
}

func subjectSessionsKey(subjectID uuid.UUID) string {
	return subjectSessionKeyPrefix + subjectID.String()
}

// ttlFor keeps a key until the refresh window closes, or briefly once revoked.
func (s *RedisStore) ttlFor(session *models.Session) time.Duration {
	if session.IsRevoked() {
		return revokedRetention
	}
	if remaining := session.ExpiresAt.Sub(s.now()); remaining > 0 {
		return remaining
	}
	return time.Second
}

func (s *RedisStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	data, err := json.Marshal(sessionToJSON(session))
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := s.ttlFor(session)
	subjectKey := subjectSessionsKey(session.SubjectID)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), data, ttl)
		pipe.Set(ctx, refreshKey(session.RefreshTokenHash), session.ID.String(), ttl)
		pipe.SAdd(ctx, subjectKey, session.ID.String())
		// Slightly longer than the session so cleanup can still find it.
		pipe.Expire(ctx, subjectKey, ttl+time.Hour)
		return nil
	})
	if err != nil {
		return wrapErr("create session", err)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	session, err := s.load(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *RedisStore) FindByRefreshHash(ctx context.Context, hash string) (*models.Session, error) {
	raw, err := s.client.Get(ctx, refreshKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("find refresh token", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse indexed session id: %w", err)
	}
	session, err := s.load(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	if session.RefreshTokenHash != hash {
		// Index entry outlived a rotation.
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	return session, nil
}

// Rotate swaps the refresh token hash under WATCH so two concurrent refreshes
// with the same token cannot both succeed.
func (s *RedisStore) Rotate(ctx context.Context, id uuid.UUID, oldHash, newHash string, at time.Time) (*models.Session, error) {
	session, err := s.execute(ctx, id, func(session *models.Session) error {
		if session.IsRevoked() {
			return ErrSessionRevoked
		}
		if session.RefreshTokenHash != oldHash {
			return ErrRefreshTokenReuse
		}
		session.Rotate(newHash, at)
		return nil
	}, func(pipe redis.Pipeliner, _ *models.Session, ttl time.Duration) {
		pipe.Del(ctx, refreshKey(oldHash))
		pipe.Set(ctx, refreshKey(newHash), id.String(), ttl)
	})
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrRefreshTokenReuse
	}
	return session, err
}

func (s *RedisStore) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (*models.Session, error) {
	var revoked *models.Session
	var err error
	for range maxWatchRetries {
		revoked, err = s.revoke(ctx, id, at)
		if !errors.Is(err, redis.TxFailedErr) {
			return revoked, err
		}
	}
	return nil, fmt.Errorf("revoke session: %w", err)
}

func (s *RedisStore) revoke(ctx context.Context, id uuid.UUID, at time.Time) (*models.Session, error) {
	var oldHash string
	return s.execute(ctx, id, func(session *models.Session) error {
		oldHash = session.RefreshTokenHash
		if !session.Revoke(at) {
			return ErrSessionRevoked
		}
		return nil
	}, func(pipe redis.Pipeliner, _ *models.Session, _ time.Duration) {
		pipe.Del(ctx, refreshKey(oldHash))
	})
}

// RevokeAllForSubject revokes every active session of the subject and
// returns how many were revoked.
func (s *RedisStore) RevokeAllForSubject(ctx context.Context, subjectID uuid.UUID, at time.Time) (int, error) {
	ids, err := s.client.SMembers(ctx, subjectSessionsKey(subjectID)).Result()
	if err != nil {
		return 0, wrapErr("list subject sessions", err)
	}
	revoked := 0
	var stale []any
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			stale = append(stale, raw)
			continue
		}
		_, err = s.Revoke(ctx, id, at)
		switch {
		case err == nil:
			revoked++
		case errors.Is(err, sentinel.ErrNotFound):
			stale = append(stale, raw)
		case errors.Is(err, sentinel.ErrInvalidState):
		default:
			return revoked, err
		}
	}
	if len(stale) > 0 {
		// Expired sessions; best effort.
		_ = s.client.SRem(ctx, subjectSessionsKey(subjectID), stale...).Err()
	}
	return revoked, nil
}

// Ping checks Redis reachability for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrapErr("ping session store", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, getter redis.Cmdable, id uuid.UUID) (*models.Session, error) {
	data, err := getter.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("get session", err)
	}
	var j sessionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return sessionFromJSON(&j)
}

// execute loads a session under WATCH, applies mutate, and writes it back
// together with whatever index changes extra queues. A concurrent write to
// the session key aborts with redis.TxFailedErr.
func (s *RedisStore) execute(
	ctx context.Context,
	id uuid.UUID,
	mutate func(*models.Session) error,
	extra func(redis.Pipeliner, *models.Session, time.Duration),
) (*models.Session, error) {
	key := sessionKey(id)
	var result *models.Session
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		session, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := mutate(session); err != nil {
			return err
		}
		data, err := json.Marshal(sessionToJSON(session))
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		ttl := s.ttlFor(session)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			extra(pipe, session, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = session
		return nil
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) || isContractErr(err) {
			return nil, err
		}
		return nil, wrapErr("update session", err)
	}
	return result, nil
}

func isContractErr(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound) ||
		errors.Is(err, sentinel.ErrInvalidState) ||
		errors.Is(err, sentinel.ErrAlreadyUsed) ||
		errors.Is(err, sentinel.ErrUnavailable)
}

// wrapErr marks client failures as unavailability. Redis reports command
// rejections as redis.Error; everything else is transport.
func wrapErr(op string, err error) error {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}
