package auctions

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an auction
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusSold      Status = "sold"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusEnded, StatusSold, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further bids or lifecycle transitions are possible
func (s Status) IsTerminal() bool {
	return s == StatusEnded || s == StatusSold || s == StatusCancelled
}

// DefaultMinimumIncrement applies when an auction has no positive increment configured
const DefaultMinimumIncrement int64 = 1

// Bid is an immutable record of an accepted offer
type Bid struct {
	ID        uuid.UUID `db:"id" json:"id"`
	BidderID  uuid.UUID `db:"bidder_id" json:"bidderId"`
	Amount    int64     `db:"amount" json:"amount"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Auction is the aggregate guarded by the store's conditional update.
// Amounts are in minor currency units.
type Auction struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Title            string     `db:"title" json:"title"`
	Description      string     `db:"description" json:"description"`
	Category         string     `db:"category" json:"category"`
	CreatedBy        uuid.UUID  `db:"created_by" json:"createdBy"`
	StartingPrice    int64      `db:"starting_price" json:"startingPrice"`
	CurrentPrice     int64      `db:"current_price" json:"currentPrice"`
	MinimumIncrement int64      `db:"minimum_increment" json:"minimumIncrement"`
	StartTime        time.Time  `db:"start_time" json:"startTime"`
	EndTime          time.Time  `db:"end_time" json:"endTime"`
	Status           Status     `db:"status" json:"status"`
	HighestBidder    *uuid.UUID `db:"highest_bidder" json:"highestBidder,omitempty"`
	Bids             []Bid      `json:"bids"`
	Version          int64      `db:"version" json:"version"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}

// HasBids reports whether at least one bid has been accepted
func (a *Auction) HasBids() bool {
	return len(a.Bids) > 0
}

// hasBid reports whether the bid with id has been recorded
func (a *Auction) hasBid(id uuid.UUID) bool {
	for i := range a.Bids {
		if a.Bids[i].ID == id {
			return true
		}
	}
	return false
}

// MinimumNextBid returns the lowest amount the next bid may carry
func (a *Auction) MinimumNextBid() int64 {
	inc := a.MinimumIncrement
	if inc <= 0 {
		inc = DefaultMinimumIncrement
	}
	return a.CurrentPrice + inc
}

// IsOwnedBy reports whether userID created the auction
func (a *Auction) IsOwnedBy(userID uuid.UUID) bool {
	return a.CreatedBy == userID
}

// ClosingStatus is the terminal status the auction takes when its end time passes
func (a *Auction) ClosingStatus() Status {
	if a.HasBids() {
		return StatusSold
	}
	return StatusEnded
}

// statusAt derives pending/active from the schedule
func statusAt(start, now time.Time) Status {
	if !start.After(now) {
		return StatusActive
	}
	return StatusPending
}

// applyBid appends the bid and advances price and leader together
func (a *Auction) applyBid(bid Bid) {
	a.Bids = append(a.Bids, bid)
	a.CurrentPrice = bid.Amount
	bidder := bid.BidderID
	a.HighestBidder = &bidder
	a.Status = StatusActive
}

// Clone returns a deep copy so callers never share the bids slice or leader pointer
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	c := *a
	if a.HighestBidder != nil {
		bidder := *a.HighestBidder
		c.HighestBidder = &bidder
	}
	if a.Bids != nil {
		c.Bids = make([]Bid, len(a.Bids))
		copy(c.Bids, a.Bids)
	}
	return &c
}

// Role is the capability level carried by an authenticated caller
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor identifies who performs a management operation
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// IsAdmin reports whether the actor holds the admin role
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// canManage reports whether the actor may modify the auction
func (a Actor) canManage(auction *Auction) bool {
	return a.IsAdmin() || auction.IsOwnedBy(a.UserID)
}
