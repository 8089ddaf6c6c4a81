//go:build integration

package overflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"hireloop/internal/events/overflow"
	"hireloop/internal/sentinel"
	"hireloop/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *overflow.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = overflow.NewPostgresStore(s.postgres.DB, overflow.WithClaimTTL(time.Second))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "auth_event_overflow"))
}

func (s *PostgresStoreSuite) append(subject string) *overflow.Entry {
	e := &overflow.Entry{
		ID:        uuid.New(),
		SubjectID: subject,
		EventType: "UserLoggedIn",
		Topic:     "hireloop.auth.events",
		Payload:   []byte(`{"event_type":"UserLoggedIn"}`),
		Reason:    overflow.ReasonExhausted,
	}
	s.Require().NoError(s.store.Append(context.Background(), e))
	return e
}

func (s *PostgresStoreSuite) TestAppendAndFetchInInsertOrder() {
	ctx := context.Background()
	a1, b1, a2 := s.append("a"), s.append("b"), s.append("a")

	got, err := s.store.FetchPending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	s.Equal([]uuid.UUID{a1.ID, b1.ID, a2.ID}, []uuid.UUID{got[0].ID, got[1].ID, got[2].ID})
	s.Equal(a1.Payload, got[0].Payload)
}

func (s *PostgresStoreSuite) TestAppendDuplicateIsNoop() {
	ctx := context.Background()
	e := s.append("a")
	s.Require().NoError(s.store.Append(ctx, e))

	n, err := s.store.CountPending(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

func (s *PostgresStoreSuite) TestClaimedEntriesAreSkippedUntilReleased() {
	ctx := context.Background()
	e := s.append("a")

	first, err := s.store.FetchPending(ctx, 10)
	s.Require().NoError(err)
	s.Len(first, 1)

	second, err := s.store.FetchPending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(second)

	s.Require().NoError(s.store.Release(ctx, e.ID))
	third, err := s.store.FetchPending(ctx, 10)
	s.Require().NoError(err)
	s.Len(third, 1)
}

func (s *PostgresStoreSuite) TestConcurrentFetchersNeverShareRows() {
	ctx := context.Background()
	for range 20 {
		s.append("a")
	}

	var (
		mu   sync.Mutex
		seen = map[uuid.UUID]int{}
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.store.FetchPending(ctx, 10)
			s.NoError(err)
			mu.Lock()
			defer mu.Unlock()
			for _, e := range got {
				seen[e.ID]++
			}
		}()
	}
	wg.Wait()

	for id, n := range seen {
		s.Equal(1, n, "entry %s fetched more than once", id)
	}
	s.Len(seen, 20)
}

func (s *PostgresStoreSuite) TestRecordRejectionParksAtLimit() {
	ctx := context.Background()
	e := s.append("a")

	_, err := s.store.FetchPending(ctx, 10)
	s.Require().NoError(err)
	failed, err := s.store.RecordRejection(ctx, e.ID, "MESSAGE_TOO_LARGE", 2, time.Now())
	s.Require().NoError(err)
	s.False(failed)

	// the claim is released with the rejection
	got, err := s.store.FetchPending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(1, got[0].Rejections)

	failed, err = s.store.RecordRejection(ctx, e.ID, "MESSAGE_TOO_LARGE", 2, time.Now())
	s.Require().NoError(err)
	s.True(failed)

	n, err := s.store.CountPending(ctx)
	s.Require().NoError(err)
	s.Zero(n)
	got, err = s.store.FetchPending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(got)

	_, err = s.store.RecordRejection(ctx, e.ID, "again", 2, time.Now())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestMarkReplayedAndCleanup() {
	ctx := context.Background()
	e := s.append("a")
	past := time.Now().Add(-2 * time.Hour)

	s.Require().NoError(s.store.MarkReplayed(ctx, e.ID, past))
	s.ErrorIs(s.store.MarkReplayed(ctx, e.ID, past), sentinel.ErrNotFound)

	n, err := s.store.CountPending(ctx)
	s.Require().NoError(err)
	s.Zero(n)

	deleted, err := s.store.DeleteReplayedBefore(ctx, time.Now().Add(-time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)
}
