// Package rooms keeps track of which observers watch which auction and fans
// out payloads to them without ever blocking the publisher.
package rooms

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultBufferSize is the outbound queue length per subscriber
const DefaultBufferSize = 64

// ErrSubscriberClosed is returned when joining with a disconnected subscriber
var ErrSubscriberClosed = errors.New("subscriber is disconnected")

// Subscriber is one connected observer. Payloads queued for it are read from Messages.
type Subscriber struct {
	ID     string
	UserID *uuid.UUID

	send   chan []byte
	closed bool
}

// NewSubscriber creates a subscriber with a bounded outbound queue
func NewSubscriber(id string, userID *uuid.UUID, bufferSize int) *Subscriber {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Subscriber{
		ID:     id,
		UserID: userID,
		send:   make(chan []byte, bufferSize),
	}
}

// Messages is closed once the subscriber has been disconnected
func (s *Subscriber) Messages() <-chan []byte {
	return s.send
}

// Hub is the process-wide room registry
type Hub struct {
	mu          sync.RWMutex
	rooms       map[uuid.UUID]map[*Subscriber]struct{}
	memberships map[*Subscriber]map[uuid.UUID]struct{}
	logger      *slog.Logger
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:       make(map[uuid.UUID]map[*Subscriber]struct{}),
		memberships: make(map[*Subscriber]map[uuid.UUID]struct{}),
		logger:      logger,
	}
}

// Join adds the subscriber to the auction's room. Joining twice is a no-op.
func (h *Hub) Join(auctionID uuid.UUID, sub *Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return ErrSubscriberClosed
	}

	room, ok := h.rooms[auctionID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[auctionID] = room
	}
	room[sub] = struct{}{}

	joined, ok := h.memberships[sub]
	if !ok {
		joined = make(map[uuid.UUID]struct{})
		h.memberships[sub] = joined
	}
	joined[auctionID] = struct{}{}

	h.logger.Debug("Subscriber joined room", "subscriber_id", sub.ID, "auction_id", auctionID, "room_size", len(room))
	return nil
}

// Leave removes the subscriber from one room
func (h *Hub) Leave(auctionID uuid.UUID, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(auctionID, sub)
}

func (h *Hub) leaveLocked(auctionID uuid.UUID, sub *Subscriber) {
	if room, ok := h.rooms[auctionID]; ok {
		delete(room, sub)
		if len(room) == 0 {
			delete(h.rooms, auctionID)
		}
	}
	if joined, ok := h.memberships[sub]; ok {
		delete(joined, auctionID)
		if len(joined) == 0 {
			delete(h.memberships, sub)
		}
	}
}

// Disconnect removes the subscriber from every room it joined and closes its queue
func (h *Hub) Disconnect(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnectLocked(sub)
}

func (h *Hub) disconnectLocked(sub *Subscriber) {
	for auctionID := range h.memberships[sub] {
		h.leaveLocked(auctionID, sub)
	}
	delete(h.memberships, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.send)
	}
}

// Publish queues the payload for every subscriber currently in the room and
// returns how many received it. Subscribers whose queue is full are
// disconnected rather than waited on.
func (h *Hub) Publish(auctionID uuid.UUID, payload []byte) int {
	var delivered int
	var slow []*Subscriber

	h.mu.RLock()
	for sub := range h.rooms[auctionID] {
		select {
		case sub.send <- payload:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, sub := range slow {
			h.logger.Warn("Evicting slow subscriber", "subscriber_id", sub.ID, "auction_id", auctionID)
			h.disconnectLocked(sub)
		}
		h.mu.Unlock()
	}
	return delivered
}

// Notify queues a payload for one subscriber, such as a bid acknowledgment.
// It reports false when the subscriber is gone or its queue is full.
func (h *Hub) Notify(sub *Subscriber, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if sub.closed {
		return false
	}
	select {
	case sub.send <- payload:
		return true
	default:
		return false
	}
}

// RoomSize returns the number of subscribers in a room
func (h *Hub) RoomSize(auctionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[auctionID])
}

// Rooms returns the auction ids the subscriber has joined
func (h *Hub) Rooms(sub *Subscriber) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(h.memberships[sub]))
	for id := range h.memberships[sub] {
		out = append(out, id)
	}
	return out
}
