package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const natsFlushTimeout = 5 * time.Second

// NATSPublisher implements EventPublisher on core NATS subjects.
// The exchange becomes the subject prefix: auction.events + bid.placed
// is published on "auction.events.bid.placed".
type NATSPublisher struct {
	conn *nats.Conn
}

var _ EventPublisher = (*NATSPublisher)(nil)

// NewNATSPublisher creates a publisher on an established connection
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// Publish publishes the payload and flushes so the relay only marks events
// published once the server has them
func (p *NATSPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	subject := Subject(exchange, routingKey)
	msg := nats.NewMsg(subject)
	msg.Header.Set("Content-Type", "application/x-protobuf")
	msg.Data = body

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	// FlushWithContext requires a deadline
	flushCtx, cancel := context.WithTimeout(ctx, natsFlushTimeout)
	defer cancel()
	if err := p.conn.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("failed to flush %s: %w", subject, err)
	}
	return nil
}

// Subject joins an exchange and routing key into a NATS subject
func Subject(exchange, routingKey string) string {
	if exchange == "" {
		return routingKey
	}
	return exchange + "." + routingKey
}
