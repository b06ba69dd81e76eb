package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/floroz/liveauction/internal/domain/auctions"
	"github.com/floroz/liveauction/internal/rooms"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	bidTimeout     = 10 * time.Second
)

// Frame types exchanged with observers
const (
	FrameJoinRoom    = "joinAuctionRoom"
	FrameLeaveRoom   = "leaveAuctionRoom"
	FramePlaceBid    = "place-bid"
	FrameConnected   = "connected"
	FrameJoinedRoom  = "joinedAuctionRoom"
	FrameBidAccepted = "bid-placed-successfully"
	FrameBidError    = "bid-error"
	FrameError       = "error"
)

// inboundFrame is any message an observer sends
type inboundFrame struct {
	Type      string `json:"type"`
	AuctionID string `json:"auctionId"`
	Amount    int64  `json:"amount"`
}

// replyFrame is sent to a single observer
type replyFrame struct {
	Type           string            `json:"type"`
	AuctionID      string            `json:"auctionId,omitempty"`
	ClientID       string            `json:"clientId,omitempty"`
	Message        string            `json:"message,omitempty"`
	UpdatedAuction *auctions.Auction `json:"updatedAuction,omitempty"`
}

// client pumps frames between one websocket connection and its hub subscriber
type client struct {
	conn   *websocket.Conn
	sub    *rooms.Subscriber
	hub    *rooms.Hub
	bids   BidPlacer
	logger *slog.Logger
}

// writePump drains the subscriber queue to the connection. The queue is
// closed by the hub on disconnect or eviction, which ends the pump.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sub.Messages():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles observer frames until the connection drops, then
// removes the subscriber from every room
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Disconnect(c.sub)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read failed", "subscriber_id", c.sub.ID, "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.reply(replyFrame{Type: FrameError, Message: "Malformed message"})
			continue
		}
		c.handle(ctx, frame)
	}
}

func (c *client) handle(ctx context.Context, frame inboundFrame) {
	auctionID, err := uuid.Parse(frame.AuctionID)
	if err != nil {
		errType := FrameError
		if frame.Type == FramePlaceBid {
			errType = FrameBidError
		}
		c.reply(replyFrame{Type: errType, AuctionID: frame.AuctionID, Message: "Invalid auction id"})
		return
	}

	switch frame.Type {
	case FrameJoinRoom:
		if err := c.hub.Join(auctionID, c.sub); err != nil {
			return
		}
		c.reply(replyFrame{Type: FrameJoinedRoom, AuctionID: frame.AuctionID})

	case FrameLeaveRoom:
		c.hub.Leave(auctionID, c.sub)

	case FramePlaceBid:
		c.placeBid(ctx, auctionID, frame.Amount)

	default:
		c.reply(replyFrame{Type: FrameError, Message: fmt.Sprintf("Unknown message type %q", frame.Type)})
	}
}

func (c *client) placeBid(ctx context.Context, auctionID uuid.UUID, amount int64) {
	if c.sub.UserID == nil {
		c.reply(replyFrame{Type: FrameBidError, AuctionID: auctionID.String(), Message: "Authentication required"})
		return
	}
	if amount <= 0 {
		c.reply(replyFrame{Type: FrameBidError, AuctionID: auctionID.String(), Message: "Bid amount must be positive"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, bidTimeout)
	defer cancel()

	updated, err := c.bids.PlaceBid(ctx, auctions.PlaceBidCommand{
		AuctionID: auctionID,
		BidderID:  *c.sub.UserID,
		Amount:    amount,
	})
	if err != nil {
		if storeFailure(err) {
			c.logger.Error("Bid failed in auction store", "auction_id", auctionID, "bidder_id", *c.sub.UserID, "error", err)
		}
		c.reply(replyFrame{Type: FrameBidError, AuctionID: auctionID.String(), Message: bidErrorMessage(err)})
		return
	}

	c.reply(replyFrame{
		Type:           FrameBidAccepted,
		AuctionID:      auctionID.String(),
		Message:        fmt.Sprintf("Bid of $%s placed.", auctions.FormatAmount(amount)),
		UpdatedAuction: updated,
	})
}

func (c *client) reply(frame replyFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("Failed to encode reply", "type", frame.Type, "error", err)
		return
	}
	if !c.hub.Notify(c.sub, payload) {
		c.logger.Debug("Dropped reply to gone subscriber", "subscriber_id", c.sub.ID, "type", frame.Type)
	}
}

// bidErrorMessage is the text observers see for a rejected bid. Store
// failures are not described to the client.
func bidErrorMessage(err error) string {
	var tooLow *auctions.BidTooLowError
	switch {
	case errors.As(err, &tooLow):
		return tooLow.Error()
	case errors.Is(err, auctions.ErrAuctionExpired):
		return "Auction has ended."
	case errors.Is(err, auctions.ErrNotActive):
		return "Auction is not active."
	case errors.Is(err, auctions.ErrSelfBid):
		return "You cannot bid on your own auction."
	case errors.Is(err, auctions.ErrNotFound):
		return "Auction not found."
	case errors.Is(err, auctions.ErrConflict):
		return "Auction is busy, please retry."
	case errors.Is(err, auctions.ErrCommitUncertain):
		return "Bid outcome unknown, check the auction before retrying."
	default:
		return "Failed to place bid."
	}
}

func storeFailure(err error) bool {
	return errors.Is(err, auctions.ErrStoreUnavailable) ||
		errors.Is(err, auctions.ErrCommitUncertain) ||
		errors.Is(err, auctions.ErrRejectedByStore)
}
