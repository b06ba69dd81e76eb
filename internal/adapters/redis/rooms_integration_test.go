//go:build integration

package redis_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/floroz/liveauction/internal/adapters/redis"
	"github.com/floroz/liveauction/internal/domain/auctions"
	"github.com/floroz/liveauction/internal/rooms"
)

func startRedis(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRoomRelay_FansOutAcrossInstances(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := startRedis(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// two instances, each with its own hub and relay
	hubA := rooms.NewHub(logger)
	hubB := rooms.NewHub(logger)
	for _, hub := range []*rooms.Hub{hubA, hubB} {
		relay := redis.NewRoomRelay(client, hub, logger)
		go func() {
			_ = relay.Run(ctx)
		}()
	}

	auctionID := uuid.New()
	watcherA := rooms.NewSubscriber("a", nil, 4)
	watcherB := rooms.NewSubscriber("b", nil, 4)
	other := rooms.NewSubscriber("other", nil, 4)
	require.NoError(t, hubA.Join(auctionID, watcherA))
	require.NoError(t, hubB.Join(auctionID, watcherB))
	require.NoError(t, hubB.Join(uuid.New(), other))

	// wait until both relays are subscribed
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumPat(ctx).Result()
		return err == nil && n >= 1
	}, 5*time.Second, 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	broadcaster := redis.NewRoomBroadcaster(client)
	err := broadcaster.Broadcast(ctx, auctions.Notification{
		Type:      auctions.NotificationAuctionEnded,
		AuctionID: auctionID,
		Status:    auctions.StatusSold,
		Message:   `Auction "Vintage Camera" has sold.`,
	})
	require.NoError(t, err)

	for _, sub := range []*rooms.Subscriber{watcherA, watcherB} {
		select {
		case payload := <-sub.Messages():
			var n auctions.Notification
			require.NoError(t, json.Unmarshal(payload, &n))
			assert.Equal(t, auctions.NotificationAuctionEnded, n.Type)
			assert.Equal(t, auctionID, n.AuctionID)
		case <-time.After(5 * time.Second):
			t.Fatalf("subscriber %s received nothing", sub.ID)
		}
	}

	select {
	case <-other.Messages():
		t.Fatal("observer of another room received the notification")
	case <-time.After(200 * time.Millisecond):
	}
}
