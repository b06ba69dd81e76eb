package auctions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxBidAttempts bounds how often a bid is re-validated after losing a write race
const DefaultMaxBidAttempts = 16

// PlaceBidCommand represents the command to place a bid
type PlaceBidCommand struct {
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    int64
}

// BidEngine validates and applies bids against fresh snapshots.
// Concurrent bids on the same auction are serialized by the store's
// version check: the first committer wins and the others re-validate.
type BidEngine struct {
	store       Store
	now         Clock
	maxAttempts int
}

// EngineOption configures a BidEngine
type EngineOption func(*BidEngine)

// WithEngineClock overrides the time source
func WithEngineClock(c Clock) EngineOption {
	return func(e *BidEngine) { e.now = c }
}

// WithMaxBidAttempts overrides how many write races a bid may lose before giving up
func WithMaxBidAttempts(n int) EngineOption {
	return func(e *BidEngine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// NewBidEngine creates a new bid engine
func NewBidEngine(store Store, opts ...EngineOption) *BidEngine {
	e := &BidEngine{
		store:       store,
		now:         time.Now,
		maxAttempts: DefaultMaxBidAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// errPastEnd signals that the snapshot is active but its end time has passed
var errPastEnd = errors.New("auction end time has passed")

// Submit places a bid. On success the returned auction reflects the stored
// state at or after this bid.
func (e *BidEngine) Submit(ctx context.Context, cmd PlaceBidCommand) (*Auction, error) {
	// previous is the bid of the last attempt whose write lost a race; if that
	// write did land after all, the next snapshot carries it
	var previous *Bid
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		snapshot, err := e.store.Get(ctx, cmd.AuctionID)
		if err != nil {
			return nil, err
		}
		if previous != nil && snapshot.hasBid(previous.ID) {
			return snapshot, nil
		}

		now := e.now()
		if err := validateBid(snapshot, cmd, now); err != nil {
			if errors.Is(err, errPastEnd) {
				return nil, e.expire(ctx, snapshot)
			}
			return nil, err
		}

		bid := Bid{
			ID:        uuid.New(),
			BidderID:  cmd.BidderID,
			Amount:    cmd.Amount,
			CreatedAt: now,
		}

		updated, err := e.store.ConditionalUpdate(ctx, cmd.AuctionID, Update{
			Expect: Precondition{Version: snapshot.Version},
			Apply: func(a *Auction) error {
				a.applyBid(bid)
				return nil
			},
			Event: EventBidPlaced,
			Landed: func(a *Auction) bool {
				return a.hasBid(bid.ID)
			},
		})
		if errors.Is(err, ErrConflict) {
			previous = &bid
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	return nil, fmt.Errorf("%w: bid lost %d consecutive write races", ErrConflict, e.maxAttempts)
}

// validateBid runs the acceptance checks in order against one snapshot
func validateBid(a *Auction, cmd PlaceBidCommand, now time.Time) error {
	if a.Status != StatusActive {
		return ErrNotActive
	}
	if !now.Before(a.EndTime) {
		return errPastEnd
	}
	if a.IsOwnedBy(cmd.BidderID) {
		return ErrSelfBid
	}
	if minimum := a.MinimumNextBid(); cmd.Amount < minimum || cmd.Amount <= a.CurrentPrice {
		return &BidTooLowError{Minimum: minimum}
	}
	return nil
}

// expire performs the closing transition inline. It races the lifecycle
// scanner; the status precondition lets exactly one of them win.
func (e *BidEngine) expire(ctx context.Context, snapshot *Auction) error {
	closed, err := e.store.ConditionalUpdate(ctx, snapshot.ID, Update{
		Expect: Precondition{Status: StatusActive},
		Apply:  closeAuction,
		Event:  EventAuctionEnded,
		Landed: closedFrom(snapshot.Version),
	})
	switch {
	case err == nil:
		return &ExpiredError{Auction: closed}
	case errors.Is(err, ErrConflict):
		return &ExpiredError{}
	default:
		return &ExpiredError{Cause: err}
	}
}

// closeAuction decides sold or ended from the record being written, never from
// an earlier read
func closeAuction(a *Auction) error {
	a.Status = a.ClosingStatus()
	return nil
}

// startAuction activates a pending auction
func startAuction(a *Auction) error {
	a.Status = StatusActive
	return nil
}

// closedFrom recognises the closing write made on top of version
func closedFrom(version int64) func(a *Auction) bool {
	return func(a *Auction) bool {
		return a.Version == version+1 && (a.Status == StatusEnded || a.Status == StatusSold)
	}
}

// startedFrom recognises the activating write made on top of version
func startedFrom(version int64) func(a *Auction) bool {
	return func(a *Auction) bool {
		return a.Version == version+1 && a.Status == StatusActive
	}
}
