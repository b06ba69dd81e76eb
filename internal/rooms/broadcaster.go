package rooms

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/floroz/liveauction/internal/domain/auctions"
)

// EncodeNotification renders a notification as the JSON frame observers receive
func EncodeNotification(n auctions.Notification) ([]byte, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}
	return payload, nil
}

// HubBroadcaster delivers notifications to the rooms of this process only
type HubBroadcaster struct {
	hub *Hub
}

var _ auctions.Broadcaster = (*HubBroadcaster)(nil)

// NewHubBroadcaster creates a broadcaster backed by the local hub
func NewHubBroadcaster(hub *Hub) *HubBroadcaster {
	return &HubBroadcaster{hub: hub}
}

// Broadcast publishes the notification to the auction's room
func (b *HubBroadcaster) Broadcast(_ context.Context, n auctions.Notification) error {
	payload, err := EncodeNotification(n)
	if err != nil {
		return err
	}
	b.hub.Publish(n.AuctionID, payload)
	return nil
}
