//go:build integration

package database_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/floroz/liveauction/internal/adapters/database"
	"github.com/floroz/liveauction/internal/domain/auctions"
	pkgdb "github.com/floroz/liveauction/pkg/database"
	"github.com/floroz/liveauction/pkg/events"
)

func TestOutboxRelay_PublishesStoreEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	// 1. Postgres with an auction whose write recorded a bid.placed event
	store, testDB := newStore(t)
	auction := newAuction(nil)
	require.NoError(t, store.Create(ctx, auction))
	bidder := uuid.New()
	_, err := store.ConditionalUpdate(ctx, auction.ID, auctions.Update{
		Expect: auctions.Precondition{Version: 1},
		Apply:  placeBid(bidder, 150),
		Event:  auctions.EventBidPlaced,
	})
	require.NoError(t, err)

	// 2. RabbitMQ
	rabbitContainer, err := rabbitmq.Run(ctx,
		"rabbitmq:3.12-management-alpine",
		rabbitmq.WithAdminPassword("password"),
	)
	require.NoError(t, err)
	defer func() {
		_ = rabbitContainer.Terminate(ctx)
	}()

	amqpURL, err := rabbitContainer.AmqpURL(ctx)
	require.NoError(t, err)
	conn, err := amqp.Dial(amqpURL)
	require.NoError(t, err)
	defer conn.Close()

	publisher, err := events.NewRabbitMQPublisher(conn, events.DefaultExchange)
	require.NoError(t, err)
	defer publisher.Close()

	// 3. Consumer bound to bid.placed only
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, string(auctions.EventBidPlaced), events.DefaultExchange, false, nil))
	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	require.NoError(t, err)

	// 4. Run the relay
	outbox := database.NewPostgresOutboxRepository(testDB.Pool)
	txManager := pkgdb.NewPostgresTransactionManager(testDB.Pool, 3*time.Second)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := events.NewOutboxRelay(outbox, publisher, txManager, 10, 100*time.Millisecond, events.DefaultExchange, logger)

	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = relay.Run(relayCtx)
	}()

	// 5. The bid event arrives with the auction state after the write
	select {
	case msg := <-msgs:
		assert.Equal(t, "application/x-protobuf", msg.ContentType)
		payload, err := database.DecodeEventPayload(msg.Body)
		require.NoError(t, err)
		assert.Equal(t, auction.ID.String(), payload["auctionId"])
		assert.Equal(t, bidder.String(), payload["bidderId"])
		assert.Equal(t, "150", payload["amount"])
		assert.Equal(t, "2", payload["version"])
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for bid.placed message")
	}

	// 6. Every event ends up published
	require.Eventually(t, func() bool {
		var pending int
		err := testDB.Pool.QueryRow(ctx,
			"SELECT COUNT(*) FROM outbox_events WHERE status <> 'published'").Scan(&pending)
		return err == nil && pending == 0
	}, 5*time.Second, 100*time.Millisecond)
}
