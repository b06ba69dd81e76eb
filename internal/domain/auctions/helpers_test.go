package auctions_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/floroz/liveauction/internal/adapters/memory"
	"github.com/floroz/liveauction/internal/domain/auctions"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) auctions.Clock {
	return func() time.Time { return t }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedAuction stores an active auction priced at 100 with increment 5 unless mutate says otherwise
func seedAuction(t *testing.T, store *memory.Store, mutate func(a *auctions.Auction)) *auctions.Auction {
	t.Helper()
	a := &auctions.Auction{
		ID:               uuid.New(),
		Title:            "Vintage Camera",
		Description:      "Leica M3 in working condition",
		Category:         "photography",
		CreatedBy:        uuid.New(),
		StartingPrice:    100,
		CurrentPrice:     100,
		MinimumIncrement: 5,
		StartTime:        baseTime.Add(-time.Hour),
		EndTime:          baseTime.Add(time.Hour),
		Status:           auctions.StatusActive,
		Version:          1,
		CreatedAt:        baseTime.Add(-2 * time.Hour),
		UpdatedAt:        baseTime.Add(-2 * time.Hour),
	}
	if mutate != nil {
		mutate(a)
	}
	require.NoError(t, store.Create(context.Background(), a))
	return a
}

// withBids appends accepted bids and keeps price and leader consistent
func withBids(amounts ...int64) func(a *auctions.Auction) {
	return func(a *auctions.Auction) {
		for i, amount := range amounts {
			bidder := uuid.New()
			a.Bids = append(a.Bids, auctions.Bid{
				ID:        uuid.New(),
				BidderID:  bidder,
				Amount:    amount,
				CreatedAt: baseTime.Add(-time.Duration(len(amounts)-i) * time.Minute),
			})
			a.CurrentPrice = amount
			a.HighestBidder = &bidder
		}
	}
}

// recordingBroadcaster captures notifications for assertions
type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []auctions.Notification
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, n auctions.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, n)
	return nil
}

func (b *recordingBroadcaster) ofType(typ auctions.NotificationType) []auctions.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []auctions.Notification
	for _, n := range b.sent {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}
