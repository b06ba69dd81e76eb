package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgevents "github.com/floroz/liveauction/pkg/events"
)

// PostgresOutboxRepository stores auction events next to the auction rows so
// both commit together, and serves them to the relay in seq order.
type PostgresOutboxRepository struct {
	pool *pgxpool.Pool
}

var _ pkgevents.OutboxRepository = (*PostgresOutboxRepository)(nil)

func NewPostgresOutboxRepository(pool *pgxpool.Pool) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{pool: pool}
}

// SaveEvent must run in the transaction that wrote the auction change
func (r *PostgresOutboxRepository) SaveEvent(ctx context.Context, tx pgx.Tx, event *pkgevents.OutboxEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (id, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5::outbox_status, $6)`,
		event.ID,
		event.AggregateID,
		event.EventType,
		event.Payload,
		string(event.Status),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event for auction %s: %w", event.EventType, event.AggregateID, err)
	}
	return nil
}

// GetPendingEvents locks up to limit pending events, oldest seq first.
// SKIP LOCKED lets a second relay take the next rows instead of waiting.
func (r *PostgresOutboxRepository) GetPendingEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*pkgevents.OutboxEvent, error) {
	rows, err := tx.Query(ctx, `
		SELECT seq, id, aggregate_id, event_type, payload, status::text AS status, created_at, processed_at
		FROM outbox_events
		WHERE status = 'pending'
		ORDER BY seq
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}

	events, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[pkgevents.OutboxEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending events: %w", err)
	}
	return events, nil
}

// UpdateEventStatus stamps processed_at when the event leaves the queue for good
func (r *PostgresOutboxRepository) UpdateEventStatus(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, status pkgevents.OutboxStatus) error {
	final := status == pkgevents.OutboxStatusPublished || status == pkgevents.OutboxStatusFailed
	result, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET status = $1::outbox_status,
		    processed_at = CASE WHEN $3 THEN now() END
		WHERE id = $2`,
		string(status), eventID, final)
	if err != nil {
		return fmt.Errorf("failed to mark event %s %s: %w", eventID, status, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s not found", eventID)
	}
	return nil
}
