// Package memory provides an in-process auction store. Each auction is
// guarded by its own mutex so writes to different auctions never contend.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/floroz/liveauction/internal/domain/auctions"
)

// RecordedEvent is a domain event captured alongside a committed write
type RecordedEvent struct {
	Type      auctions.EventType
	AuctionID uuid.UUID
	Version   int64
	At        time.Time
}

type record struct {
	mu      sync.Mutex
	auction *auctions.Auction
	deleted bool
}

// Store implements auctions.Store in memory
type Store struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*record

	eventsMu sync.Mutex
	events   []RecordedEvent

	now auctions.Clock
}

var _ auctions.Store = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		records: make(map[uuid.UUID]*record),
		now:     time.Now,
	}
}

// Create inserts a new auction
func (s *Store) Create(_ context.Context, auction *auctions.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[auction.ID]; exists {
		return auctions.ErrConflict
	}
	stored := auction.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	s.records[auction.ID] = &record{auction: stored}
	s.record(auctions.EventAuctionCreated, stored)
	return nil
}

func (s *Store) lookup(id uuid.UUID) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// Get returns a snapshot of the auction
func (s *Store) Get(_ context.Context, id uuid.UUID) (*auctions.Auction, error) {
	r, ok := s.lookup(id)
	if !ok {
		return nil, auctions.ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return nil, auctions.ErrNotFound
	}
	return r.auction.Clone(), nil
}

// ConditionalUpdate checks the precondition and applies the mutation under the record lock
func (s *Store) ConditionalUpdate(ctx context.Context, id uuid.UUID, update auctions.Update) (*auctions.Auction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, ok := s.lookup(id)
	if !ok {
		return nil, auctions.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return nil, auctions.ErrNotFound
	}
	if !update.Expect.Holds(r.auction) {
		return nil, auctions.ErrConflict
	}

	working := r.auction.Clone()
	if update.Apply != nil {
		if err := update.Apply(working); err != nil {
			return nil, err
		}
	}
	working.ID = r.auction.ID
	working.Version = r.auction.Version + 1
	working.UpdatedAt = s.now()
	r.auction = working

	if update.Event != "" {
		s.record(update.Event, working)
	}
	return working.Clone(), nil
}

// Find returns snapshots of every auction matching the filter
func (s *Store) Find(_ context.Context, filter auctions.Filter) ([]*auctions.Auction, error) {
	matched := s.matching(filter)
	sortAuctions(matched, filter.SortBy, filter.Descending)

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*auctions.Auction{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Count returns the number of auctions matching the filter
func (s *Store) Count(_ context.Context, filter auctions.Filter) (int, error) {
	return len(s.matching(filter)), nil
}

// Delete removes the auction if the precondition holds
func (s *Store) Delete(_ context.Context, id uuid.UUID, expect auctions.Precondition) error {
	r, ok := s.lookup(id)
	if !ok {
		return auctions.ErrNotFound
	}

	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return auctions.ErrNotFound
	}
	if !expect.Holds(r.auction) {
		r.mu.Unlock()
		return auctions.ErrConflict
	}
	r.deleted = true
	s.record(auctions.EventAuctionDeleted, r.auction)
	r.mu.Unlock()

	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

// Events returns the recorded events in commit order
func (s *Store) Events() []RecordedEvent {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	out := make([]RecordedEvent, len(s.events))
	copy(out, s.events)
	return out
}

// EventsFor returns the recorded events of one type for one auction
func (s *Store) EventsFor(id uuid.UUID, eventType auctions.EventType) []RecordedEvent {
	var out []RecordedEvent
	for _, e := range s.Events() {
		if e.AuctionID == id && e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) record(eventType auctions.EventType, a *auctions.Auction) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events = append(s.events, RecordedEvent{
		Type:      eventType,
		AuctionID: a.ID,
		Version:   a.Version,
		At:        s.now(),
	})
}

func (s *Store) matching(filter auctions.Filter) []*auctions.Auction {
	s.mu.RLock()
	records := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	s.mu.RUnlock()

	var out []*auctions.Auction
	for _, r := range records {
		r.mu.Lock()
		if !r.deleted && matches(r.auction, filter) {
			out = append(out, r.auction.Clone())
		}
		r.mu.Unlock()
	}
	return out
}

func matches(a *auctions.Auction, f auctions.Filter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if a.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.StartDue.IsZero() && a.StartTime.After(f.StartDue) {
		return false
	}
	if !f.EndDue.IsZero() && a.EndTime.After(f.EndDue) {
		return false
	}
	if !f.EndsAfter.IsZero() && !a.EndTime.After(f.EndsAfter) {
		return false
	}
	if f.CreatedBy != nil && a.CreatedBy != *f.CreatedBy {
		return false
	}
	if f.Category != "" && !strings.EqualFold(a.Category, f.Category) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(a.Title), needle) &&
			!strings.Contains(strings.ToLower(a.Description), needle) {
			return false
		}
	}
	return true
}

func sortAuctions(list []*auctions.Auction, by auctions.SortField, desc bool) {
	key := func(a *auctions.Auction) int64 {
		switch by {
		case auctions.SortByEndTime:
			return a.EndTime.UnixNano()
		case auctions.SortByStartTime:
			return a.StartTime.UnixNano()
		case auctions.SortByCurrentPrice:
			return a.CurrentPrice
		default:
			return a.CreatedAt.UnixNano()
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		ki, kj := key(list[i]), key(list[j])
		if ki == kj {
			return list[i].ID.String() < list[j].ID.String()
		}
		if desc {
			return ki > kj
		}
		return ki < kj
	})
}
