package overflow

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"hireloop/internal/sentinel"
)

const maxFetchBatch = 1000

// DefaultClaimTTL is how long a fetched batch stays invisible to other
// replayers before it can be fetched again.
const DefaultClaimTTL = 30 * time.Second

// PostgresStore implements Store on the auth_event_overflow table.
type PostgresStore struct {
	db       *sql.DB
	claimTTL time.Duration
	now      func() time.Time
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithClaimTTL overrides DefaultClaimTTL.
func WithClaimTTL(ttl time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if ttl > 0 {
			s.claimTTL = ttl
		}
	}
}

// NewPostgresStore creates a Postgres-backed overflow store.
func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, claimTTL: DefaultClaimTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.ID == uuid.Nil {
		return fmt.Errorf("overflow entry id is required")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_event_overflow (id, subject_id, event_type, topic, payload, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.SubjectID, entry.EventType, entry.Topic, entry.Payload, entry.Reason, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert overflow entry: %w", err)
	}
	return nil
}

// FetchPending claims up to limit pending entries. FOR UPDATE SKIP LOCKED
// together with claimed_until keeps concurrent replayers off the same rows.
func (s *PostgresStore) FetchPending(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	limit = min(limit, maxFetchBatch)

	now := s.now()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE auth_event_overflow
		SET claimed_until = $2
		WHERE seq IN (
			SELECT seq FROM auth_event_overflow
			WHERE replayed_at IS NULL AND failed_at IS NULL
			  AND (claimed_until IS NULL OR claimed_until < $3)
			ORDER BY seq
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING seq, id, subject_id, event_type, topic, payload, reason, created_at, rejections`,
		limit, now.Add(s.claimTTL), now,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch pending overflow entries: %w", err)
	}
	defer rows.Close()

	type seqEntry struct {
		seq   int64
		entry *Entry
	}
	var claimed []seqEntry
	for rows.Next() {
		e := &Entry{}
		var seq int64
		if err := rows.Scan(&seq, &e.ID, &e.SubjectID, &e.EventType, &e.Topic, &e.Payload, &e.Reason, &e.CreatedAt, &e.Rejections); err != nil {
			return nil, fmt.Errorf("scan overflow entry: %w", err)
		}
		claimed = append(claimed, seqEntry{seq: seq, entry: e})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overflow entries: %w", err)
	}

	// RETURNING order is unspecified.
	slices.SortFunc(claimed, func(a, b seqEntry) int {
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]*Entry, len(claimed))
	for i, c := range claimed {
		out[i] = c.entry
	}
	return out, nil
}

func (s *PostgresStore) MarkReplayed(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auth_event_overflow
		SET replayed_at = $2, claimed_until = NULL
		WHERE id = $1 AND replayed_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("mark overflow entry replayed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("overflow entry %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

// Release clears the claim on an entry so the next poll picks it up
// without waiting for the claim to expire.
func (s *PostgresStore) Release(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_event_overflow SET claimed_until = NULL
		WHERE id = $1 AND replayed_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("release overflow entry: %w", err)
	}
	return nil
}

// RecordRejection increments the rejection count and parks the entry in the
// same statement once maxRejections is reached.
func (s *PostgresStore) RecordRejection(ctx context.Context, id uuid.UUID, cause string, maxRejections int, at time.Time) (bool, error) {
	var failed bool
	err := s.db.QueryRowContext(ctx, `
		UPDATE auth_event_overflow
		SET rejections    = rejections + 1,
		    last_error    = $2,
		    claimed_until = NULL,
		    failed_at     = CASE WHEN rejections + 1 >= $3 THEN $4::timestamptz ELSE NULL END
		WHERE id = $1 AND replayed_at IS NULL AND failed_at IS NULL
		RETURNING failed_at IS NOT NULL`,
		id, cause, maxRejections, at,
	).Scan(&failed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("overflow entry %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("record overflow rejection: %w", err)
	}
	return failed, nil
}

func (s *PostgresStore) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM auth_event_overflow WHERE replayed_at IS NULL AND failed_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending overflow entries: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteReplayedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM auth_event_overflow WHERE replayed_at IS NOT NULL AND replayed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete replayed overflow entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

var _ Store = (*PostgresStore)(nil)
