// Package events moves domain events recorded in the outbox table to a message broker.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/liveauction/pkg/database"
)

// DefaultExchange is the topic exchange auction events are published to
const DefaultExchange = "auction.events"

// OutboxStatus defines the status of an event in the outbox
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusPublished  OutboxStatus = "published"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// OutboxEvent is an event waiting in the database to be published.
// Seq orders events globally; AggregateID is the auction the event belongs to.
type OutboxEvent struct {
	Seq         int64        `db:"seq"`
	ID          uuid.UUID    `db:"id"`
	AggregateID uuid.UUID    `db:"aggregate_id"`
	EventType   string       `db:"event_type"`
	Payload     []byte       `db:"payload"`
	Status      OutboxStatus `db:"status"`
	CreatedAt   time.Time    `db:"created_at"`
	ProcessedAt *time.Time   `db:"processed_at"`
}

// OutboxRepository reads and marks events inside the relay's transaction
type OutboxRepository interface {
	GetPendingEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*OutboxEvent, error)
	UpdateEventStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status OutboxStatus) error
}

// EventPublisher defines the interface for publishing events to a broker
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// OutboxRelay moves pending outbox rows to the broker in creation order.
// Rows are locked, published and marked inside one transaction, so a crash
// before commit republishes them (at-least-once delivery).
type OutboxRelay struct {
	outboxRepo OutboxRepository
	publisher  EventPublisher
	txManager  database.TransactionManager
	batchSize  int
	interval   time.Duration
	exchange   string
	logger     *slog.Logger
}

func NewOutboxRelay(
	outboxRepo OutboxRepository,
	publisher EventPublisher,
	txManager database.TransactionManager,
	batchSize int,
	interval time.Duration,
	exchange string,
	logger *slog.Logger,
) *OutboxRelay {
	return &OutboxRelay{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		txManager:  txManager,
		batchSize:  batchSize,
		interval:   interval,
		exchange:   exchange,
		logger:     logger.With("component", "outbox_relay", "exchange", exchange),
	}
}

// Run drains the outbox on every tick until ctx is done
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.Drain(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain processes batches back to back while they come back full, so a
// backlog is not throttled to one batch per interval. It returns the number
// of events published.
func (r *OutboxRelay) Drain(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := r.ProcessBatch(ctx)
		total += n
		if err != nil {
			r.logger.Error("Error processing outbox batch", "published", n, "error", err)
			break
		}
		if n < r.batchSize {
			break
		}
	}
	if total > 0 {
		r.logger.Info("Published outbox events", "count", total)
	}
	return total
}

// ProcessBatch publishes up to one batch of pending events and returns how many were published.
// Publishing stops at the first broker failure; events published before it are
// still marked and committed so they are not sent twice, the rest stay pending.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	tx, err := r.txManager.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// FOR UPDATE SKIP LOCKED lets several relays share the table
	pending, err := r.outboxRepo.GetPendingEvents(ctx, tx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending events: %w", err)
	}

	published := 0
	var publishErr error
	for _, event := range pending {
		// routing key is the event type, e.g. "bid.placed"
		if err := r.publisher.Publish(ctx, r.exchange, event.EventType, event.Payload); err != nil {
			publishErr = fmt.Errorf("failed to publish event %s (%s): %w", event.ID, event.EventType, err)
			break
		}
		if err := r.outboxRepo.UpdateEventStatus(ctx, tx, event.ID, OutboxStatusPublished); err != nil {
			return 0, fmt.Errorf("failed to update event status %s: %w", event.ID, err)
		}
		published++
	}

	if published == 0 {
		return 0, publishErr
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit outbox batch: %w", err)
	}
	return published, publishErr
}
