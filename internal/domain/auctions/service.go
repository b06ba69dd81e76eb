package auctions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// NotificationType is the event name observers receive
type NotificationType string

const (
	NotificationAuctionStarted NotificationType = "auctionStarted"
	NotificationAuctionEnded   NotificationType = "auctionEnded"
	NotificationAuctionUpdated NotificationType = "auction-updated"
)

// Notification is a state change fanned out to every observer of an auction
type Notification struct {
	Type      NotificationType `json:"type"`
	AuctionID uuid.UUID        `json:"auctionId"`
	Status    Status           `json:"status"`
	Message   string           `json:"message,omitempty"`
	Auction   *Auction         `json:"data,omitempty"`
}

// Broadcaster delivers notifications to the observers of an auction room.
// Delivery is fire-and-forget.
type Broadcaster interface {
	Broadcast(ctx context.Context, n Notification) error
}

// AuctionService orchestrates bid placement and lifecycle notifications
type AuctionService struct {
	engine      *BidEngine
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewAuctionService creates a new auction service
func NewAuctionService(engine *BidEngine, broadcaster Broadcaster, logger *slog.Logger) *AuctionService {
	return &AuctionService{
		engine:      engine,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// PlaceBid submits a bid and notifies the auction room of the outcome
func (s *AuctionService) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*Auction, error) {
	updated, err := s.engine.Submit(ctx, cmd)
	if err != nil {
		var expired *ExpiredError
		if errors.As(err, &expired) && expired.Auction != nil {
			s.HandleTransition(ctx, Transition{Auction: expired.Auction, From: StatusActive, To: expired.Auction.Status})
		}
		return nil, err
	}

	s.logger.Info("Bid placed",
		"auction_id", updated.ID,
		"bidder_id", cmd.BidderID,
		"amount", cmd.Amount,
	)

	s.notify(ctx, Notification{
		Type:      NotificationAuctionUpdated,
		AuctionID: updated.ID,
		Status:    updated.Status,
		Message:   fmt.Sprintf("New highest bid of $%s on %q.", FormatAmount(updated.CurrentPrice), updated.Title),
		Auction:   updated,
	})
	return updated, nil
}

// HandleTransition publishes auctionStarted or auctionEnded for a committed transition
func (s *AuctionService) HandleTransition(ctx context.Context, t Transition) {
	a := t.Auction
	switch t.To {
	case StatusActive:
		s.notify(ctx, Notification{
			Type:      NotificationAuctionStarted,
			AuctionID: a.ID,
			Status:    a.Status,
			Message:   fmt.Sprintf("Auction %q is now live!", a.Title),
			Auction:   a,
		})
	case StatusEnded, StatusSold, StatusCancelled:
		s.notify(ctx, Notification{
			Type:      NotificationAuctionEnded,
			AuctionID: a.ID,
			Status:    a.Status,
			Message:   fmt.Sprintf("Auction %q has %s.", a.Title, a.Status),
			Auction:   a,
		})
	default:
		s.logger.Warn("Ignoring unexpected transition", "auction_id", a.ID, "from", t.From, "to", t.To)
	}
}

func (s *AuctionService) notify(ctx context.Context, n Notification) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(ctx, n); err != nil {
		s.logger.Warn("Failed to broadcast notification", "auction_id", n.AuctionID, "type", n.Type, "error", err)
	}
}
