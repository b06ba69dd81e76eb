package auctions

import (
	"errors"
	"fmt"
)

// Domain errors. Adapters translate storage failures into these so callers
// never depend on driver error shapes.
var (
	ErrNotFound         = errors.New("auction not found")
	ErrNotActive        = errors.New("auction is not active")
	ErrAuctionExpired   = errors.New("auction has already ended")
	ErrSelfBid          = errors.New("you cannot bid on your own auction")
	ErrBidTooLow        = errors.New("bid amount is too low")
	ErrUnauthorized     = errors.New("you are not authorized to perform this action")
	ErrConflict         = errors.New("auction was modified concurrently")
	ErrStoreUnavailable = errors.New("auction store unavailable")
	ErrInvalidInput     = errors.New("invalid auction input")

	// ErrCommitUncertain means the write was sent but its acknowledgement was
	// lost, so it may or may not have been applied. It is never retried blindly.
	ErrCommitUncertain = errors.New("auction store write outcome unknown")

	// ErrRejectedByStore marks ErrInvalidInput raised by a storage constraint
	// rather than by domain validation. Its detail stays server side.
	ErrRejectedByStore = errors.New("auction store rejected the record")
)

// BidTooLowError reports the minimum acceptable amount alongside ErrBidTooLow
type BidTooLowError struct {
	Minimum int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("Bid amount is too low. Minimum next bid is $%s.", FormatAmount(e.Minimum))
}

func (e *BidTooLowError) Is(target error) bool {
	return target == ErrBidTooLow
}

// ExpiredError rejects a bid that arrived after the end time. Auction is the
// terminal snapshot when this caller performed the closing transition, nil
// when another writer closed the auction first.
type ExpiredError struct {
	Auction *Auction
	Cause   error
}

func (e *ExpiredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", ErrAuctionExpired, e.Cause)
	}
	return ErrAuctionExpired.Error()
}

func (e *ExpiredError) Is(target error) bool {
	return target == ErrAuctionExpired
}

func (e *ExpiredError) Unwrap() error {
	return e.Cause
}

// invalidInput wraps ErrInvalidInput with a client-facing reason
func invalidInput(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}
