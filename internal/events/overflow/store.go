// Package overflow persists auth events the publisher could not deliver so
// the replayer can send them once the broker is reachable again.
package overflow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one undelivered, already-encoded auth event.
// ID is the event id, so appending the same event twice is a no-op.
type Entry struct {
	ID         uuid.UUID
	SubjectID  string
	EventType  string
	Topic      string
	Payload    []byte
	Reason     string
	CreatedAt  time.Time
	ReplayedAt *time.Time
	// Rejections counts broker rejections of the record itself. FailedAt is
	// set once they reach the replayer's limit; the entry is then parked.
	Rejections int
	LastError  string
	FailedAt   *time.Time
}

// IsPending reports whether the entry still awaits replay.
func (e *Entry) IsPending() bool {
	return e.ReplayedAt == nil && e.FailedAt == nil
}

// Reasons recorded on entries.
const (
	ReasonLaneFull  = "lane_full"
	ReasonExhausted = "retries_exhausted"
	ReasonDraining  = "draining"
)

// Store is the overflow persistence contract. Implementations are safe for
// concurrent use.
type Store interface {
	// Append records an entry. Re-appending an existing ID is not an error.
	Append(ctx context.Context, entry *Entry) error

	// FetchPending returns up to limit pending entries, oldest first.
	FetchPending(ctx context.Context, limit int) ([]*Entry, error)

	// MarkReplayed marks an entry as delivered.
	MarkReplayed(ctx context.Context, id uuid.UUID, at time.Time) error

	// RecordRejection counts a broker rejection of the entry and releases
	// any claim on it. Once the count reaches maxRejections the entry is
	// marked failed and no longer pending; failed reports whether that
	// happened.
	RecordRejection(ctx context.Context, id uuid.UUID, cause string, maxRejections int, at time.Time) (failed bool, err error)

	// CountPending returns the number of entries awaiting replay.
	CountPending(ctx context.Context) (int64, error)

	// DeleteReplayedBefore removes delivered entries older than before.
	DeleteReplayedBefore(ctx context.Context, before time.Time) (int64, error)
}
