package auctions_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/floroz/liveauction/internal/adapters/memory"
	"github.com/floroz/liveauction/internal/domain/auctions"
)

// lostAckStore applies the next `lost` writes and then reports err, as when
// a commit reaches the database but the acknowledgement does not come back
type lostAckStore struct {
	*memory.Store
	err    error
	lost   int
	writes int
}

func (s *lostAckStore) ack(err error) error {
	s.writes++
	if err == nil && s.lost > 0 {
		s.lost--
		return s.err
	}
	return err
}

func (s *lostAckStore) ConditionalUpdate(ctx context.Context, id uuid.UUID, u auctions.Update) (*auctions.Auction, error) {
	updated, err := s.Store.ConditionalUpdate(ctx, id, u)
	if err = s.ack(err); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *lostAckStore) Create(ctx context.Context, a *auctions.Auction) error {
	return s.ack(s.Store.Create(ctx, a))
}

func (s *lostAckStore) Delete(ctx context.Context, id uuid.UUID, expect auctions.Precondition) error {
	return s.ack(s.Store.Delete(ctx, id, expect))
}

var (
	lostAfterCommit   = fmt.Errorf("%w: failed to commit auction: unexpected EOF", auctions.ErrCommitUncertain)
	unavailableOnRead = fmt.Errorf("%w: connection reset by peer", auctions.ErrStoreUnavailable)
)

func TestAuctionService_PlaceBid_AcceptedWhenAcknowledgementLost(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "commit outcome unknown", err: lostAfterCommit},
		{name: "transient failure after the write applied", err: unavailableOnRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := memory.NewStore()
			seeded := seedAuction(t, inner, nil)
			flaky := &lostAckStore{Store: inner, err: tt.err, lost: 1}

			broadcaster := &recordingBroadcaster{}
			engine := auctions.NewBidEngine(
				auctions.NewRetryingStore(flaky, fastRetry, discardLogger()),
				auctions.WithEngineClock(fixedClock(baseTime)),
			)
			service := auctions.NewAuctionService(engine, broadcaster, discardLogger())
			bidder := uuid.New()

			accepted, err := service.PlaceBid(context.Background(), auctions.PlaceBidCommand{
				AuctionID: seeded.ID,
				BidderID:  bidder,
				Amount:    150,
			})

			require.NoError(t, err)
			assert.Equal(t, int64(150), accepted.CurrentPrice)

			stored, err := inner.Get(context.Background(), seeded.ID)
			require.NoError(t, err)
			require.Len(t, stored.Bids, 1, "the bid is recorded exactly once")
			assert.Equal(t, bidder, *stored.HighestBidder)
			assert.Len(t, broadcaster.ofType(auctions.NotificationAuctionUpdated), 1)
		})
	}
}

func TestLifecycleScanner_Tick_EmitsWhenCloseAcknowledgementLost(t *testing.T) {
	inner := memory.NewStore()
	due := seedAuction(t, inner, func(a *auctions.Auction) { a.EndTime = baseTime.Add(-time.Minute) })
	flaky := &lostAckStore{Store: inner, err: lostAfterCommit, lost: 1}

	handler := new(MockTransitionHandler)
	handler.On("HandleTransition", mock.Anything, transitionTo(due.ID, auctions.StatusActive, auctions.StatusEnded)).Once()
	scanner := auctions.NewLifecycleScanner(
		auctions.NewRetryingStore(flaky, fastRetry, discardLogger()),
		handler,
		discardLogger(),
		auctions.WithScannerClock(fixedClock(baseTime)),
	)

	report := scanner.Tick(context.Background())

	assert.Equal(t, auctions.ScanReport{Ended: 1}, report)
	assert.Equal(t, 1, flaky.writes, "an uncertain commit is not re-run")
	assert.Len(t, inner.EventsFor(due.ID, auctions.EventAuctionEnded), 1)
	handler.AssertExpectations(t)
}

func TestRetryingStore_UncertainCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("update without a landed check is reported, not repeated", func(t *testing.T) {
		inner := memory.NewStore()
		seeded := seedAuction(t, inner, nil)
		flaky := &lostAckStore{Store: inner, err: lostAfterCommit, lost: 1}
		store := auctions.NewRetryingStore(flaky, fastRetry, discardLogger())

		_, err := store.ConditionalUpdate(ctx, seeded.ID, auctions.Update{
			Apply: func(a *auctions.Auction) error {
				a.Title = "Renamed"
				return nil
			},
		})

		assert.ErrorIs(t, err, auctions.ErrCommitUncertain)
		assert.Equal(t, 1, flaky.writes)
	})

	t.Run("update whose effect is visible succeeds", func(t *testing.T) {
		inner := memory.NewStore()
		seeded := seedAuction(t, inner, nil)
		flaky := &lostAckStore{Store: inner, err: lostAfterCommit, lost: 1}
		store := auctions.NewRetryingStore(flaky, fastRetry, discardLogger())

		got, err := store.ConditionalUpdate(ctx, seeded.ID, auctions.Update{
			Apply: func(a *auctions.Auction) error {
				a.Title = "Renamed"
				return nil
			},
			Landed: func(a *auctions.Auction) bool { return a.Title == "Renamed" },
		})

		require.NoError(t, err)
		assert.Equal(t, seeded.Version+1, got.Version)
		assert.Equal(t, 1, flaky.writes)
	})

	t.Run("create and delete resolve by reading back", func(t *testing.T) {
		inner := memory.NewStore()
		flaky := &lostAckStore{Store: inner, err: lostAfterCommit, lost: 2}
		store := auctions.NewRetryingStore(flaky, fastRetry, discardLogger())

		a := &auctions.Auction{
			ID:        uuid.New(),
			Title:     "Oak Table",
			CreatedBy: uuid.New(),
			StartTime: baseTime,
			EndTime:   baseTime.Add(time.Hour),
			Status:    auctions.StatusActive,
			Version:   1,
		}
		require.NoError(t, store.Create(ctx, a))
		require.NoError(t, store.Delete(ctx, a.ID, auctions.Precondition{}))

		_, err := inner.Get(ctx, a.ID)
		assert.ErrorIs(t, err, auctions.ErrNotFound)
		assert.Equal(t, 2, flaky.writes)
	})
}
