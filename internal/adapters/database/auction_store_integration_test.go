//go:build integration

package database_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/liveauction/internal/adapters/database"
	"github.com/floroz/liveauction/internal/domain/auctions"
	pkgdb "github.com/floroz/liveauction/pkg/database"
	"github.com/floroz/liveauction/pkg/testhelpers"
)

func newStore(t *testing.T) (*database.PostgresAuctionStore, *testhelpers.TestDatabase) {
	t.Helper()
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	t.Cleanup(testDB.Close)

	txManager := pkgdb.NewPostgresTransactionManager(testDB.Pool, 3*time.Second)
	outbox := database.NewPostgresOutboxRepository(testDB.Pool)
	return database.NewPostgresAuctionStore(testDB.Pool, txManager, outbox), testDB
}

func newAuction(mutate func(a *auctions.Auction)) *auctions.Auction {
	now := time.Now().UTC().Truncate(time.Microsecond)
	a := &auctions.Auction{
		ID:               uuid.New(),
		Title:            "Vintage Camera",
		Description:      "Rangefinder in working order",
		Category:         "photography",
		CreatedBy:        uuid.New(),
		StartingPrice:    100,
		CurrentPrice:     100,
		MinimumIncrement: 5,
		StartTime:        now.Add(-time.Hour),
		EndTime:          now.Add(time.Hour),
		Status:           auctions.StatusActive,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if mutate != nil {
		mutate(a)
	}
	return a
}

func placeBid(bidder uuid.UUID, amount int64) auctions.Mutation {
	return func(a *auctions.Auction) error {
		a.Bids = append(a.Bids, auctions.Bid{
			ID:        uuid.New(),
			BidderID:  bidder,
			Amount:    amount,
			CreatedAt: time.Now().UTC(),
		})
		a.CurrentPrice = amount
		a.HighestBidder = &bidder
		return nil
	}
}

func countOutbox(t *testing.T, testDB *testhelpers.TestDatabase, eventType auctions.EventType) int {
	t.Helper()
	var n int
	err := testDB.Pool.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM outbox_events WHERE event_type = $1", string(eventType)).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestPostgresAuctionStore_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	store, testDB := newStore(t)

	auction := newAuction(nil)
	require.NoError(t, store.Create(ctx, auction))

	got, err := store.Get(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, auction.Title, got.Title)
	assert.Equal(t, auctions.StatusActive, got.Status)
	assert.Equal(t, int64(1), got.Version)
	assert.Empty(t, got.Bids)
	assert.Nil(t, got.HighestBidder)
	assert.Equal(t, 1, countOutbox(t, testDB, auctions.EventAuctionCreated))

	var aggregateID uuid.UUID
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		"SELECT aggregate_id FROM outbox_events WHERE event_type = $1", string(auctions.EventAuctionCreated)).Scan(&aggregateID))
	assert.Equal(t, auction.ID, aggregateID)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, auctions.ErrNotFound)

	err = store.Create(ctx, auction)
	assert.ErrorIs(t, err, auctions.ErrConflict)
}

func TestPostgresAuctionStore_ConditionalUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	store, testDB := newStore(t)

	auction := newAuction(nil)
	require.NoError(t, store.Create(ctx, auction))
	bidder := uuid.New()

	t.Run("applies the mutation and records the event", func(t *testing.T) {
		updated, err := store.ConditionalUpdate(ctx, auction.ID, auctions.Update{
			Expect: auctions.Precondition{Version: 1},
			Apply:  placeBid(bidder, 105),
			Event:  auctions.EventBidPlaced,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)
		assert.Equal(t, int64(105), updated.CurrentPrice)

		stored, err := store.Get(ctx, auction.ID)
		require.NoError(t, err)
		require.Len(t, stored.Bids, 1)
		assert.Equal(t, bidder, stored.Bids[0].BidderID)
		require.NotNil(t, stored.HighestBidder)
		assert.Equal(t, bidder, *stored.HighestBidder)
		assert.Equal(t, 1, countOutbox(t, testDB, auctions.EventBidPlaced))
	})

	t.Run("rejects a stale version", func(t *testing.T) {
		_, err := store.ConditionalUpdate(ctx, auction.ID, auctions.Update{
			Expect: auctions.Precondition{Version: 1},
			Apply:  placeBid(bidder, 200),
			Event:  auctions.EventBidPlaced,
		})
		assert.ErrorIs(t, err, auctions.ErrConflict)

		stored, err := store.Get(ctx, auction.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(105), stored.CurrentPrice)
		assert.Equal(t, 1, countOutbox(t, testDB, auctions.EventBidPlaced))
	})

	t.Run("rejects a status mismatch", func(t *testing.T) {
		_, err := store.ConditionalUpdate(ctx, auction.ID, auctions.Update{
			Expect: auctions.Precondition{Status: auctions.StatusPending},
		})
		assert.ErrorIs(t, err, auctions.ErrConflict)
	})

	t.Run("returns mutation errors unchanged", func(t *testing.T) {
		refuse := errors.New("refused")
		_, err := store.ConditionalUpdate(ctx, auction.ID, auctions.Update{
			Apply: func(*auctions.Auction) error { return refuse },
		})
		assert.Equal(t, refuse, err)
	})

	t.Run("closes exactly once", func(t *testing.T) {
		closeUpdate := auctions.Update{
			Expect: auctions.Precondition{Status: auctions.StatusActive},
			Apply: func(a *auctions.Auction) error {
				a.Status = a.ClosingStatus()
				return nil
			},
			Event: auctions.EventAuctionEnded,
		}

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.ConditionalUpdate(ctx, auction.ID, closeUpdate); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, countOutbox(t, testDB, auctions.EventAuctionEnded))
		stored, err := store.Get(ctx, auction.ID)
		require.NoError(t, err)
		assert.Equal(t, auctions.StatusSold, stored.Status)
	})
}

func TestPostgresAuctionStore_FindAndCount(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	store, testDB := newStore(t)

	owner := uuid.New()
	now := time.Now().UTC()
	live := newAuction(func(a *auctions.Auction) {
		a.Title = "Leica M3"
		a.CreatedBy = owner
		a.CurrentPrice = 300
	})
	due := newAuction(func(a *auctions.Auction) {
		a.Title = "Pocket Watch"
		a.Status = auctions.StatusPending
		a.StartTime = now.Add(-time.Minute)
		a.EndTime = now.Add(time.Hour)
	})
	later := newAuction(func(a *auctions.Auction) {
		a.Title = "Oak Table"
		a.Category = "furniture"
		a.Description = "Solid 100% oak"
		a.Status = auctions.StatusPending
		a.StartTime = now.Add(time.Hour)
		a.EndTime = now.Add(2 * time.Hour)
	})
	for _, a := range []*auctions.Auction{live, due, later} {
		require.NoError(t, store.Create(ctx, a))
	}

	tests := []struct {
		name   string
		filter auctions.Filter
		want   []uuid.UUID
	}{
		{
			name:   "pending and due to start",
			filter: auctions.Filter{Statuses: []auctions.Status{auctions.StatusPending}, StartDue: now},
			want:   []uuid.UUID{due.ID},
		},
		{
			name:   "by owner",
			filter: auctions.Filter{CreatedBy: &owner},
			want:   []uuid.UUID{live.ID},
		},
		{
			name:   "by category ignoring case",
			filter: auctions.Filter{Category: "FURNITURE"},
			want:   []uuid.UUID{later.ID},
		},
		{
			name:   "search treats percent literally",
			filter: auctions.Filter{Search: "100%"},
			want:   []uuid.UUID{later.ID},
		},
		{
			name:   "sorted by price descending with limit",
			filter: auctions.Filter{SortBy: auctions.SortByCurrentPrice, Descending: true, Limit: 1},
			want:   []uuid.UUID{live.ID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := store.Find(ctx, tt.filter)
			require.NoError(t, err)

			ids := make([]uuid.UUID, len(found))
			for i, a := range found {
				ids[i] = a.ID
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	total, err := store.Count(ctx, auctions.Filter{Statuses: []auctions.Status{auctions.StatusPending}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	testDB.Truncate(ctx)
	total, err = store.Count(ctx, auctions.Filter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, countOutbox(t, testDB, auctions.EventAuctionCreated))
}

func TestPostgresAuctionStore_Delete(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	store, testDB := newStore(t)

	auction := newAuction(nil)
	require.NoError(t, store.Create(ctx, auction))
	_, err := store.ConditionalUpdate(ctx, auction.ID, auctions.Update{Apply: placeBid(uuid.New(), 110)})
	require.NoError(t, err)

	err = store.Delete(ctx, auction.ID, auctions.Precondition{Version: 1})
	assert.ErrorIs(t, err, auctions.ErrConflict)

	require.NoError(t, store.Delete(ctx, auction.ID, auctions.Precondition{Version: 2}))

	_, err = store.Get(ctx, auction.ID)
	assert.ErrorIs(t, err, auctions.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, auction.ID, auctions.Precondition{}), auctions.ErrNotFound)
	assert.Equal(t, 1, countOutbox(t, testDB, auctions.EventAuctionDeleted))

	var bids int
	require.NoError(t, testDB.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM bids WHERE auction_id = $1", auction.ID).Scan(&bids))
	assert.Zero(t, bids)
}
