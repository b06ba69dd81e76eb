package auctions

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names the domain event recorded alongside a guarded write
type EventType string

const (
	EventAuctionCreated   EventType = "auction.created"
	EventAuctionUpdated   EventType = "auction.updated"
	EventAuctionStarted   EventType = "auction.started"
	EventAuctionEnded     EventType = "auction.ended"
	EventAuctionCancelled EventType = "auction.cancelled"
	EventAuctionDeleted   EventType = "auction.deleted"
	EventBidPlaced        EventType = "bid.placed"
)

// Precondition is checked against the stored record before a write is applied.
// A zero Status or Version is not checked.
type Precondition struct {
	Status  Status
	Version int64
}

// Holds reports whether the stored record satisfies the precondition
func (p Precondition) Holds(a *Auction) bool {
	if p.Status != "" && a.Status != p.Status {
		return false
	}
	if p.Version != 0 && a.Version != p.Version {
		return false
	}
	return true
}

// Mutation edits a private copy of the stored record. Returning an error aborts
// the write and the error is returned to the caller unchanged.
type Mutation func(a *Auction) error

// Update describes one atomic read-check-write against a single auction
type Update struct {
	Expect Precondition
	Apply  Mutation
	// Event, when set, is recorded in the same atomic step as the write
	Event EventType
	// Landed, when set, reports whether a freshly read record already carries
	// this update. It resolves writes that failed with ErrCommitUncertain.
	Landed func(a *Auction) bool
}

// SortField selects the ordering of Find results
type SortField string

const (
	SortByCreatedAt    SortField = "createdAt"
	SortByEndTime      SortField = "endTime"
	SortByStartTime    SortField = "startTime"
	SortByCurrentPrice SortField = "currentPrice"
)

// Filter selects auctions. Zero-valued fields are ignored.
type Filter struct {
	Statuses []Status
	// StartDue matches auctions whose start time is at or before it
	StartDue time.Time
	// EndDue matches auctions whose end time is at or before it
	EndDue time.Time
	// EndsAfter matches auctions whose end time is strictly after it
	EndsAfter time.Time
	CreatedBy *uuid.UUID
	Category  string
	// Search is a case-insensitive substring match on title or description
	Search     string
	SortBy     SortField
	Descending bool
	Limit      int
	Offset     int
}

// Store is the persistence port for auctions. Every write to a single auction
// is linearizable: ConditionalUpdate and Delete check their precondition and
// write atomically, returning ErrConflict when the precondition fails.
type Store interface {
	// Create inserts a new auction
	Create(ctx context.Context, auction *Auction) error

	// Get returns a consistent snapshot of one auction including its bids
	Get(ctx context.Context, id uuid.UUID) (*Auction, error)

	// ConditionalUpdate applies the mutation only if the precondition holds,
	// bumping Version and returning the stored result
	ConditionalUpdate(ctx context.Context, id uuid.UUID, update Update) (*Auction, error)

	// Find returns auctions matching the filter
	Find(ctx context.Context, filter Filter) ([]*Auction, error)

	// Count returns how many auctions match the filter, ignoring pagination
	Count(ctx context.Context, filter Filter) (int, error)

	// Delete removes an auction if the precondition holds
	Delete(ctx context.Context, id uuid.UUID, expect Precondition) error
}

// Clock returns the current time
type Clock func() time.Time
