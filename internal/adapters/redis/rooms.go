// Package redis fans room notifications out across API instances over
// Redis pub/sub, one channel per auction room.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/floroz/liveauction/internal/domain/auctions"
	"github.com/floroz/liveauction/internal/rooms"
)

// ChannelPrefix is followed by the auction id, e.g. "auction_rooms:{id}"
const ChannelPrefix = "auction_rooms:"

// Channel returns the pub/sub channel of an auction room
func Channel(auctionID uuid.UUID) string {
	return ChannelPrefix + auctionID.String()
}

// RoomBroadcaster publishes notifications to Redis. Every instance running a
// RoomRelay, this one included, delivers them to its local observers.
type RoomBroadcaster struct {
	client *redis.Client
}

var _ auctions.Broadcaster = (*RoomBroadcaster)(nil)

// NewRoomBroadcaster creates a broadcaster on an established client
func NewRoomBroadcaster(client *redis.Client) *RoomBroadcaster {
	return &RoomBroadcaster{client: client}
}

// Broadcast publishes the encoded notification on the auction's channel
func (b *RoomBroadcaster) Broadcast(ctx context.Context, n auctions.Notification) error {
	payload, err := rooms.EncodeNotification(n)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, Channel(n.AuctionID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", Channel(n.AuctionID), err)
	}
	return nil
}

// RoomRelay forwards every room channel into the local hub
type RoomRelay struct {
	client *redis.Client
	hub    *rooms.Hub
	logger *slog.Logger
}

// NewRoomRelay creates a relay into hub
func NewRoomRelay(client *redis.Client, hub *rooms.Hub, logger *slog.Logger) *RoomRelay {
	return &RoomRelay{client: client, hub: hub, logger: logger}
}

// Run subscribes to all room channels and blocks until ctx is done
func (r *RoomRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, ChannelPrefix+"*")
	defer pubsub.Close()

	// Receive blocks until the subscription is confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to room channels: %w", err)
	}
	r.logger.Info("Relaying auction rooms from Redis")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			auctionID, err := uuid.Parse(strings.TrimPrefix(msg.Channel, ChannelPrefix))
			if err != nil {
				r.logger.Warn("Ignoring message on unexpected channel", "channel", msg.Channel)
				continue
			}
			r.hub.Publish(auctionID, []byte(msg.Payload))
		}
	}
}
