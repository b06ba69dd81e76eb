package auctions

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Phase is a coarse lifecycle filter for listings
type Phase string

const (
	PhaseLive     Phase = "live"
	PhaseUpcoming Phase = "upcoming"
	PhasePast     Phase = "past"
)

// CreateAuctionCommand represents the command to list a new auction
type CreateAuctionCommand struct {
	SellerID         uuid.UUID
	Title            string
	Description      string
	Category         string
	StartingPrice    int64
	MinimumIncrement int64
	StartTime        time.Time
	EndTime          time.Time
}

// UpdateAuctionCommand carries the fields to change. Nil fields are left untouched.
type UpdateAuctionCommand struct {
	AuctionID        uuid.UUID
	Actor            Actor
	Title            *string
	Description      *string
	Category         *string
	StartingPrice    *int64
	MinimumIncrement *int64
	StartTime        *time.Time
	EndTime          *time.Time
	Status           *Status
}

func (c UpdateAuctionCommand) empty() bool {
	return c.Title == nil && c.Description == nil && c.Category == nil &&
		c.StartingPrice == nil && c.MinimumIncrement == nil &&
		c.StartTime == nil && c.EndTime == nil && c.Status == nil
}

// ListQuery represents filtering and pagination for listings
type ListQuery struct {
	Search     string
	Category   string
	Status     Status
	Phase      Phase
	SellerID   *uuid.UUID
	SortBy     SortField
	Descending bool
	Page       int
	Limit      int
}

// ListResult is one page of auctions
type ListResult struct {
	Auctions   []*Auction
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

// CatalogService implements auction management: listing, editing,
// cancelling and removing auctions
type CatalogService struct {
	store       Store
	broadcaster Broadcaster
	now         Clock
	logger      *slog.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store Store, broadcaster Broadcaster, logger *slog.Logger, now Clock) *CatalogService {
	if now == nil {
		now = time.Now
	}
	return &CatalogService{
		store:       store,
		broadcaster: broadcaster,
		now:         now,
		logger:      logger,
	}
}

// CreateAuction validates and stores a new auction
func (s *CatalogService) CreateAuction(ctx context.Context, cmd CreateAuctionCommand) (*Auction, error) {
	title := strings.TrimSpace(cmd.Title)
	if title == "" {
		return nil, invalidInput("title is required")
	}
	description := strings.TrimSpace(cmd.Description)
	if description == "" {
		return nil, invalidInput("description is required")
	}
	if strings.TrimSpace(cmd.Category) == "" {
		return nil, invalidInput("category is required")
	}
	if cmd.StartingPrice < 0 {
		return nil, invalidInput("starting price must not be negative")
	}
	if cmd.MinimumIncrement < 0 {
		return nil, invalidInput("minimum increment must not be negative")
	}

	now := s.now()
	start := cmd.StartTime
	if start.IsZero() {
		start = now
	}
	if !cmd.EndTime.After(start) {
		return nil, invalidInput("end time must be after start time")
	}

	increment := cmd.MinimumIncrement
	if increment == 0 {
		increment = DefaultMinimumIncrement
	}

	auction := &Auction{
		ID:               uuid.New(),
		Title:            title,
		Description:      description,
		Category:         strings.TrimSpace(cmd.Category),
		CreatedBy:        cmd.SellerID,
		StartingPrice:    cmd.StartingPrice,
		CurrentPrice:     cmd.StartingPrice,
		MinimumIncrement: increment,
		StartTime:        start,
		EndTime:          cmd.EndTime,
		Status:           statusAt(start, now),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.Create(ctx, auction); err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}

	s.logger.Info("Auction created", "auction_id", auction.ID, "seller_id", cmd.SellerID, "status", auction.Status)
	return auction, nil
}

// GetAuction returns a single auction
func (s *CatalogService) GetAuction(ctx context.Context, id uuid.UUID) (*Auction, error) {
	return s.store.Get(ctx, id)
}

// UpdateAuction applies an owner or admin edit. All rules are evaluated
// against the stored record inside the guarded write.
func (s *CatalogService) UpdateAuction(ctx context.Context, cmd UpdateAuctionCommand) (*Auction, error) {
	if cmd.empty() {
		return nil, invalidInput("no fields to update")
	}
	if cmd.Status != nil && !cmd.Status.Valid() {
		return nil, invalidInput(fmt.Sprintf("unknown status %q", *cmd.Status))
	}

	event := EventAuctionUpdated
	if cmd.Status != nil && *cmd.Status == StatusCancelled {
		event = EventAuctionCancelled
	}

	var previous Status
	now := s.now()
	updated, err := s.store.ConditionalUpdate(ctx, cmd.AuctionID, Update{
		Apply: func(a *Auction) error {
			previous = a.Status
			return applyEdit(a, cmd, now)
		},
		Event: event,
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, previous, updated)
	return updated, nil
}

func applyEdit(a *Auction, cmd UpdateAuctionCommand, now time.Time) error {
	actor := cmd.Actor
	if !actor.canManage(a) {
		return ErrUnauthorized
	}

	if cmd.Title != nil {
		title := strings.TrimSpace(*cmd.Title)
		if title == "" {
			return invalidInput("title must not be empty")
		}
		a.Title = title
	}
	if cmd.Description != nil {
		description := strings.TrimSpace(*cmd.Description)
		if description == "" {
			return invalidInput("description must not be empty")
		}
		a.Description = description
	}
	if cmd.Category != nil {
		category := strings.TrimSpace(*cmd.Category)
		if category == "" {
			return invalidInput("category must not be empty")
		}
		a.Category = category
	}
	if cmd.StartingPrice != nil {
		if a.HasBids() {
			return invalidInput("starting price cannot change once bids exist")
		}
		if *cmd.StartingPrice < 0 {
			return invalidInput("starting price must not be negative")
		}
		a.StartingPrice = *cmd.StartingPrice
		a.CurrentPrice = *cmd.StartingPrice
	}
	if cmd.MinimumIncrement != nil {
		if *cmd.MinimumIncrement < 0 {
			return invalidInput("minimum increment must not be negative")
		}
		a.MinimumIncrement = *cmd.MinimumIncrement
	}
	if cmd.StartTime != nil {
		a.StartTime = *cmd.StartTime
	}
	if cmd.EndTime != nil {
		a.EndTime = *cmd.EndTime
	}
	if !a.EndTime.After(a.StartTime) {
		return invalidInput("end time must be after start time")
	}

	switch {
	case cmd.Status != nil:
		if err := changeStatus(a, actor, *cmd.Status); err != nil {
			return err
		}
	case cmd.StartTime != nil:
		// Rescheduling a finished auction is ignored unless done by an admin.
		if a.Status.IsTerminal() && !actor.IsAdmin() {
			break
		}
		a.Status = statusAt(a.StartTime, now)
	}
	return nil
}

func changeStatus(a *Auction, actor Actor, to Status) error {
	if actor.IsAdmin() {
		a.Status = to
		return nil
	}
	if to != StatusCancelled {
		return fmt.Errorf("%w: only admins may set status %q", ErrUnauthorized, to)
	}
	if a.Status == StatusEnded || a.Status == StatusSold {
		return invalidInput("a finished auction cannot be cancelled")
	}
	a.Status = StatusCancelled
	return nil
}

// CancelAuction withdraws an auction. Sellers may only cancel before the first bid.
func (s *CatalogService) CancelAuction(ctx context.Context, id uuid.UUID, actor Actor) (*Auction, error) {
	var previous Status
	cancelled, err := s.store.ConditionalUpdate(ctx, id, Update{
		Apply: func(a *Auction) error {
			previous = a.Status
			if !actor.canManage(a) {
				return ErrUnauthorized
			}
			if a.Status.IsTerminal() {
				return ErrNotActive
			}
			if a.HasBids() && !actor.IsAdmin() {
				return invalidInput("an auction with bids cannot be cancelled")
			}
			a.Status = StatusCancelled
			return nil
		},
		Event: EventAuctionCancelled,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Auction cancelled", "auction_id", id, "by", actor.UserID)
	s.announce(ctx, previous, cancelled)
	return cancelled, nil
}

// DeleteAuction removes an auction. Sellers may only delete before the first
// bid; admins may delete regardless.
func (s *CatalogService) DeleteAuction(ctx context.Context, id uuid.UUID, actor Actor) error {
	auction, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.canManage(auction) {
		return ErrUnauthorized
	}

	expect := Precondition{}
	if !actor.IsAdmin() {
		if auction.HasBids() {
			return invalidInput("an auction with bids cannot be deleted")
		}
		// a bid landing between the read and the delete must abort the delete
		expect.Version = auction.Version
	}

	if err := s.store.Delete(ctx, id, expect); err != nil {
		return err
	}

	s.logger.Info("Auction deleted", "auction_id", id, "by", actor.UserID)
	return nil
}

// ListAuctions returns a filtered page of auctions
func (s *CatalogService) ListAuctions(ctx context.Context, q ListQuery) (*ListResult, error) {
	filter, err := s.buildFilter(q)
	if err != nil {
		return nil, err
	}

	found, err := s.store.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count auctions: %w", err)
	}

	page := filter.Offset/filter.Limit + 1
	return &ListResult{
		Auctions:   found,
		Total:      total,
		Page:       page,
		Limit:      filter.Limit,
		TotalPages: int(math.Ceil(float64(total) / float64(filter.Limit))),
	}, nil
}

// ListMyAuctions lists the caller's own auctions; admins see every auction
func (s *CatalogService) ListMyAuctions(ctx context.Context, actor Actor, q ListQuery) (*ListResult, error) {
	q.SellerID = nil
	if !actor.IsAdmin() {
		id := actor.UserID
		q.SellerID = &id
	}
	return s.ListAuctions(ctx, q)
}

func (s *CatalogService) buildFilter(q ListQuery) (Filter, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}

	sortBy := q.SortBy
	switch sortBy {
	case "":
		sortBy = SortByCreatedAt
	case SortByCreatedAt, SortByEndTime, SortByStartTime, SortByCurrentPrice:
	default:
		return Filter{}, invalidInput(fmt.Sprintf("unknown sort field %q", sortBy))
	}

	filter := Filter{
		CreatedBy:  q.SellerID,
		Category:   strings.TrimSpace(q.Category),
		Search:     strings.TrimSpace(q.Search),
		SortBy:     sortBy,
		Descending: q.Descending,
		Limit:      limit,
		Offset:     (page - 1) * limit,
	}

	switch q.Phase {
	case "":
	case PhaseLive:
		filter.Statuses = []Status{StatusActive}
		filter.EndsAfter = s.now()
	case PhaseUpcoming:
		filter.Statuses = []Status{StatusPending}
	case PhasePast:
		filter.Statuses = []Status{StatusEnded, StatusSold}
	default:
		return Filter{}, invalidInput(fmt.Sprintf("unknown phase %q", q.Phase))
	}

	if q.Status != "" {
		if !q.Status.Valid() {
			return Filter{}, invalidInput(fmt.Sprintf("unknown status %q", q.Status))
		}
		filter.Statuses = []Status{q.Status}
	}
	return filter, nil
}

// announce tells observers about edits that change what they may do
func (s *CatalogService) announce(ctx context.Context, previous Status, a *Auction) {
	if s.broadcaster == nil {
		return
	}

	n := Notification{
		Type:      NotificationAuctionUpdated,
		AuctionID: a.ID,
		Status:    a.Status,
		Auction:   a,
	}
	switch {
	case previous != a.Status && a.Status == StatusActive:
		n.Type = NotificationAuctionStarted
		n.Message = fmt.Sprintf("Auction %q is now live!", a.Title)
	case previous != a.Status && a.Status.IsTerminal():
		n.Type = NotificationAuctionEnded
		n.Message = fmt.Sprintf("Auction %q has %s.", a.Title, a.Status)
	}

	if err := s.broadcaster.Broadcast(ctx, n); err != nil {
		s.logger.Warn("Failed to broadcast notification", "auction_id", a.ID, "type", n.Type, "error", err)
	}
}
