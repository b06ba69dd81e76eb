// Package ws is the websocket transport of the notification hub. Observers
// join auction rooms, receive room events and may submit bids.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/floroz/liveauction/internal/domain/auctions"
	"github.com/floroz/liveauction/internal/rooms"
	"github.com/floroz/liveauction/pkg/auth"
)

// BidPlacer submits bids on behalf of an authenticated observer
type BidPlacer interface {
	PlaceBid(ctx context.Context, cmd auctions.PlaceBidCommand) (*auctions.Auction, error)
}

// Handler handles WebSocket connections
type Handler struct {
	hub        *rooms.Hub
	bids       BidPlacer
	signer     *auth.Signer
	bufferSize int
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *rooms.Hub, bids BidPlacer, signer *auth.Signer, bufferSize int, logger *slog.Logger) *Handler {
	return &Handler{
		hub:        hub,
		bids:       bids,
		signer:     signer,
		bufferSize: bufferSize,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from other origins; auth is the bearer token
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes mounts the websocket, health and stats endpoints
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.HandleWebSocket)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/stats/auctions/{id}", h.GetStats).Methods(http.MethodGet)
}

// HandleWebSocket upgrades the connection. A token is optional: anonymous
// observers may watch rooms but not bid. A token that fails validation is rejected.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var userID *uuid.UUID
	claims, err := auth.AuthenticateRequest(h.signer, r)
	switch {
	case err == nil:
		id, _ := claims.UserID()
		userID = &id
	case errors.Is(err, auth.ErrMissingToken):
	default:
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		sub:    rooms.NewSubscriber(uuid.NewString(), userID, h.bufferSize),
		hub:    h.hub,
		bids:   h.bids,
		logger: h.logger,
	}
	h.logger.Debug("Observer connected", "subscriber_id", c.sub.ID, "authenticated", userID != nil)

	go c.writePump()
	c.reply(replyFrame{Type: FrameConnected, ClientID: c.sub.ID})

	// the request context ends when the handler returns, so bids run on a detached one
	go c.readPump(context.WithoutCancel(r.Context()))
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"liveauction"}`)
}

// GetStats returns the number of observers in an auction room
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"auctionId":"%s","subscribers":%d}`, auctionID, h.hub.RoomSize(auctionID))
}
