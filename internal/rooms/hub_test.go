package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/liveauction/internal/domain/auctions"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func drain(sub *Subscriber) [][]byte {
	var out [][]byte
	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_PublishReachesOnlyRoomMembers(t *testing.T) {
	hub := newTestHub()
	auctionA, auctionB := uuid.New(), uuid.New()
	alice := NewSubscriber("alice", nil, 4)
	bob := NewSubscriber("bob", nil, 4)
	carol := NewSubscriber("carol", nil, 4)

	require.NoError(t, hub.Join(auctionA, alice))
	require.NoError(t, hub.Join(auctionA, bob))
	require.NoError(t, hub.Join(auctionB, carol))

	delivered := hub.Publish(auctionA, []byte("update-a"))

	assert.Equal(t, 2, delivered)
	assert.Equal(t, [][]byte{[]byte("update-a")}, drain(alice))
	assert.Equal(t, [][]byte{[]byte("update-a")}, drain(bob))
	assert.Empty(t, drain(carol))
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	hub := newTestHub()
	auctionID := uuid.New()
	sub := NewSubscriber("s", nil, 4)

	require.NoError(t, hub.Join(auctionID, sub))
	require.NoError(t, hub.Join(auctionID, sub))

	assert.Equal(t, 1, hub.RoomSize(auctionID))
	assert.Equal(t, 1, hub.Publish(auctionID, []byte("x")))
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	hub := newTestHub()
	auctionID := uuid.New()
	sub := NewSubscriber("s", nil, 4)
	require.NoError(t, hub.Join(auctionID, sub))

	hub.Leave(auctionID, sub)

	assert.Equal(t, 0, hub.Publish(auctionID, []byte("x")))
	assert.Equal(t, 0, hub.RoomSize(auctionID))
	assert.Empty(t, hub.Rooms(sub))
}

func TestHub_DisconnectLeavesEveryRoom(t *testing.T) {
	hub := newTestHub()
	sub := NewSubscriber("s", nil, 4)
	joined := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range joined {
		require.NoError(t, hub.Join(id, sub))
	}
	assert.ElementsMatch(t, joined, hub.Rooms(sub))

	hub.Disconnect(sub)
	hub.Disconnect(sub)

	for _, id := range joined {
		assert.Equal(t, 0, hub.RoomSize(id))
		assert.Equal(t, 0, hub.Publish(id, []byte("x")))
	}
	_, open := <-sub.Messages()
	assert.False(t, open, "queue is closed on disconnect")
	assert.ErrorIs(t, hub.Join(joined[0], sub), ErrSubscriberClosed)
	assert.False(t, hub.Notify(sub, []byte("ack")))
}

func TestHub_SlowSubscriberIsEvicted(t *testing.T) {
	hub := newTestHub()
	auctionID := uuid.New()
	slow := NewSubscriber("slow", nil, 1)
	fast := NewSubscriber("fast", nil, 8)
	require.NoError(t, hub.Join(auctionID, slow))
	require.NoError(t, hub.Join(auctionID, fast))

	assert.Equal(t, 2, hub.Publish(auctionID, []byte("1")))
	assert.Equal(t, 1, hub.Publish(auctionID, []byte("2")))

	assert.Equal(t, 1, hub.RoomSize(auctionID))
	assert.Len(t, drain(fast), 2)
	assert.Equal(t, [][]byte{[]byte("1")}, drain(slow))
}

func TestHub_NotifyTargetsOneSubscriber(t *testing.T) {
	hub := newTestHub()
	target := NewSubscriber("target", nil, 2)
	other := NewSubscriber("other", nil, 2)
	auctionID := uuid.New()
	require.NoError(t, hub.Join(auctionID, target))
	require.NoError(t, hub.Join(auctionID, other))

	assert.True(t, hub.Notify(target, []byte("ack")))

	assert.Len(t, drain(target), 1)
	assert.Empty(t, drain(other))
}

func TestHub_ConcurrentMembershipAndPublish(t *testing.T) {
	hub := newTestHub()
	auctionIDs := []uuid.UUID{uuid.New(), uuid.New()}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := NewSubscriber(fmt.Sprintf("sub-%d", i), nil, 256)
			for _, id := range auctionIDs {
				_ = hub.Join(id, sub)
			}
			for j := 0; j < 50; j++ {
				hub.Publish(auctionIDs[j%2], []byte("tick"))
			}
			hub.Leave(auctionIDs[0], sub)
			hub.Disconnect(sub)
		}(i)
	}
	wg.Wait()

	for _, id := range auctionIDs {
		assert.Equal(t, 0, hub.RoomSize(id))
	}
}

func TestHubBroadcaster_EncodesNotification(t *testing.T) {
	hub := newTestHub()
	auctionID := uuid.New()
	sub := NewSubscriber("s", nil, 2)
	require.NoError(t, hub.Join(auctionID, sub))

	err := NewHubBroadcaster(hub).Broadcast(context.Background(), auctions.Notification{
		Type:      auctions.NotificationAuctionStarted,
		AuctionID: auctionID,
		Status:    auctions.StatusActive,
		Message:   `Auction "Lamp" is now live!`,
		Auction:   &auctions.Auction{ID: auctionID, Title: "Lamp", Status: auctions.StatusActive},
	})
	require.NoError(t, err)

	msgs := drain(sub)
	require.Len(t, msgs, 1)
	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0], &frame))
	assert.Equal(t, "auctionStarted", frame["type"])
	assert.Equal(t, auctionID.String(), frame["auctionId"])
	assert.Equal(t, "active", frame["status"])
	assert.Equal(t, `Auction "Lamp" is now live!`, frame["message"])
	assert.Equal(t, "Lamp", frame["data"].(map[string]interface{})["title"])
}
