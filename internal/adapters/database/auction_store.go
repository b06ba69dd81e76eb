// Package database implements the auction store and outbox on PostgreSQL.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/floroz/liveauction/internal/domain/auctions"
	pkgdb "github.com/floroz/liveauction/pkg/database"
	pkgevents "github.com/floroz/liveauction/pkg/events"
)

const auctionColumns = `
	id, title, description, category, created_by, starting_price, current_price,
	minimum_increment, start_time, end_time, status::text, highest_bidder, version,
	created_at, updated_at`

var sortColumns = map[auctions.SortField]string{
	auctions.SortByCreatedAt:    "created_at",
	auctions.SortByEndTime:      "end_time",
	auctions.SortByStartTime:    "start_time",
	auctions.SortByCurrentPrice: "current_price",
}

// PostgresAuctionStore implements auctions.Store using pgx.
// Guarded writes lock the auction row with SELECT ... FOR UPDATE and record
// their outbox event in the same transaction.
type PostgresAuctionStore struct {
	pool      *pgxpool.Pool // Keep pool for non-transactional reads
	txManager pkgdb.TransactionManager
	outbox    *PostgresOutboxRepository
	now       auctions.Clock
}

var _ auctions.Store = (*PostgresAuctionStore)(nil)

// NewPostgresAuctionStore creates a new PostgreSQL auction store
func NewPostgresAuctionStore(pool *pgxpool.Pool, txManager pkgdb.TransactionManager, outbox *PostgresOutboxRepository) *PostgresAuctionStore {
	return &PostgresAuctionStore{
		pool:      pool,
		txManager: txManager,
		outbox:    outbox,
		now:       time.Now,
	}
}

// Create inserts a new auction and its auction.created event
func (s *PostgresAuctionStore) Create(ctx context.Context, auction *auctions.Auction) error {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return storeError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if auction.Version == 0 {
		auction.Version = 1
	}
	query := `
		INSERT INTO auctions (id, title, description, category, created_by, starting_price,
			current_price, minimum_increment, start_time, end_time, status, highest_bidder,
			version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::auction_status, $12, $13, $14, $15)
	`
	_, err = tx.Exec(ctx, query,
		auction.ID,
		auction.Title,
		auction.Description,
		auction.Category,
		auction.CreatedBy,
		auction.StartingPrice,
		auction.CurrentPrice,
		auction.MinimumIncrement,
		auction.StartTime,
		auction.EndTime,
		string(auction.Status),
		auction.HighestBidder,
		auction.Version,
		auction.CreatedAt,
		auction.UpdatedAt,
	)
	if err != nil {
		return storeError("insert auction", err)
	}
	if err := insertBids(ctx, tx, auction.ID, auction.Bids); err != nil {
		return err
	}
	if err := s.saveEvent(ctx, tx, auctions.EventAuctionCreated, auction); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return commitError("commit auction", err)
	}
	return nil
}

// Get reads the auction and its bids from one snapshot
func (s *PostgresAuctionStore) Get(ctx context.Context, id uuid.UUID) (*auctions.Auction, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, storeError("begin read", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	return getAuction(ctx, tx, id, false)
}

// ConditionalUpdate locks the row, checks the precondition and applies the mutation
func (s *PostgresAuctionStore) ConditionalUpdate(ctx context.Context, id uuid.UUID, update auctions.Update) (*auctions.Auction, error) {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, storeError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	current, err := getAuction(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if !update.Expect.Holds(current) {
		return nil, auctions.ErrConflict
	}

	working := current.Clone()
	if update.Apply != nil {
		if err := update.Apply(working); err != nil {
			return nil, err
		}
	}
	working.ID = current.ID
	working.Version = current.Version + 1
	working.UpdatedAt = s.now()

	query := `
		UPDATE auctions
		SET title = $1, description = $2, category = $3, starting_price = $4,
			current_price = $5, minimum_increment = $6, start_time = $7, end_time = $8,
			status = $9::auction_status, highest_bidder = $10, version = $11, updated_at = $12
		WHERE id = $13 AND version = $14
	`
	result, err := tx.Exec(ctx, query,
		working.Title,
		working.Description,
		working.Category,
		working.StartingPrice,
		working.CurrentPrice,
		working.MinimumIncrement,
		working.StartTime,
		working.EndTime,
		string(working.Status),
		working.HighestBidder,
		working.Version,
		working.UpdatedAt,
		id,
		current.Version,
	)
	if err != nil {
		return nil, storeError("update auction", err)
	}
	if result.RowsAffected() == 0 {
		return nil, auctions.ErrConflict
	}

	// bids are append-only, anything past the stored count is new
	if len(working.Bids) > len(current.Bids) {
		if err := insertBids(ctx, tx, id, working.Bids[len(current.Bids):]); err != nil {
			return nil, err
		}
	}
	if update.Event != "" {
		if err := s.saveEvent(ctx, tx, update.Event, working); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, commitError("commit auction", err)
	}
	return working, nil
}

// Find returns auctions matching the filter with their bids
func (s *PostgresAuctionStore) Find(ctx context.Context, filter auctions.Filter) ([]*auctions.Auction, error) {
	where, args := buildWhere(filter)

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "ASC"
	if filter.Descending {
		direction = "DESC"
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(auctionColumns)
	sb.WriteString(" FROM auctions")
	sb.WriteString(where)
	fmt.Fprintf(&sb, " ORDER BY %s %s, id::text ASC", column, direction)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, storeError("query auctions", err)
	}
	found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*auctions.Auction, error) {
		return scanAuction(row)
	})
	if err != nil {
		return nil, storeError("scan auctions", err)
	}
	if len(found) == 0 {
		return []*auctions.Auction{}, nil
	}

	if err := loadBids(ctx, s.pool, found); err != nil {
		return nil, err
	}
	return found, nil
}

// Count returns the number of auctions matching the filter, ignoring pagination
func (s *PostgresAuctionStore) Count(ctx context.Context, filter auctions.Filter) (int, error) {
	where, args := buildWhere(filter)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM auctions"+where, args...).Scan(&total); err != nil {
		return 0, storeError("count auctions", err)
	}
	return total, nil
}

// Delete removes the auction and its bids if the precondition holds
func (s *PostgresAuctionStore) Delete(ctx context.Context, id uuid.UUID, expect auctions.Precondition) error {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return storeError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	current, err := getAuction(ctx, tx, id, true)
	if err != nil {
		return err
	}
	if !expect.Holds(current) {
		return auctions.ErrConflict
	}

	if _, err := tx.Exec(ctx, `DELETE FROM auctions WHERE id = $1`, id); err != nil {
		return storeError("delete auction", err)
	}
	if err := s.saveEvent(ctx, tx, auctions.EventAuctionDeleted, current); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return commitError("commit delete", err)
	}
	return nil
}

func (s *PostgresAuctionStore) saveEvent(ctx context.Context, tx pgx.Tx, eventType auctions.EventType, a *auctions.Auction) error {
	now := s.now()
	payload, err := encodeEventPayload(eventType, a, now)
	if err != nil {
		return err
	}
	event := &pkgevents.OutboxEvent{
		ID:          uuid.New(),
		AggregateID: a.ID,
		EventType:   string(eventType),
		Payload:     payload,
		Status:      pkgevents.OutboxStatusPending,
		CreatedAt:   now,
	}
	if err := s.outbox.SaveEvent(ctx, tx, event); err != nil {
		return storeError("save outbox event", err)
	}
	return nil
}

// getAuction works with any DBTX; forUpdate locks the row until the transaction ends
func getAuction(ctx context.Context, db pkgdb.DBTX, id uuid.UUID, forUpdate bool) (*auctions.Auction, error) {
	query := "SELECT " + auctionColumns + " FROM auctions WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	auction, err := scanAuction(db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auctions.ErrNotFound
		}
		return nil, storeError("get auction", err)
	}

	if err := loadBids(ctx, db, []*auctions.Auction{auction}); err != nil {
		return nil, err
	}
	return auction, nil
}

func scanAuction(row pgx.Row) (*auctions.Auction, error) {
	var (
		a      auctions.Auction
		status string
	)
	err := row.Scan(
		&a.ID,
		&a.Title,
		&a.Description,
		&a.Category,
		&a.CreatedBy,
		&a.StartingPrice,
		&a.CurrentPrice,
		&a.MinimumIncrement,
		&a.StartTime,
		&a.EndTime,
		&status,
		&a.HighestBidder,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = auctions.Status(status)
	return &a, nil
}

// loadBids fills the bids of every auction in acceptance order
func loadBids(ctx context.Context, db pkgdb.DBTX, list []*auctions.Auction) error {
	byID := make(map[uuid.UUID]*auctions.Auction, len(list))
	ids := make([]uuid.UUID, 0, len(list))
	for _, a := range list {
		a.Bids = []auctions.Bid{}
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}

	rows, err := db.Query(ctx, `
		SELECT auction_id, id, bidder_id, amount, created_at
		FROM bids
		WHERE auction_id = ANY($1)
		ORDER BY auction_id, seq ASC
	`, ids)
	if err != nil {
		return storeError("query bids", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			auctionID uuid.UUID
			bid       auctions.Bid
		)
		if err := rows.Scan(&auctionID, &bid.ID, &bid.BidderID, &bid.Amount, &bid.CreatedAt); err != nil {
			return storeError("scan bid", err)
		}
		if a, ok := byID[auctionID]; ok {
			a.Bids = append(a.Bids, bid)
		}
	}
	if err := rows.Err(); err != nil {
		return storeError("read bids", err)
	}
	return nil
}

func insertBids(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID, bids []auctions.Bid) error {
	for _, bid := range bids {
		_, err := tx.Exec(ctx, `
			INSERT INTO bids (id, auction_id, bidder_id, amount, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, bid.ID, auctionID, bid.BidderID, bid.Amount, bid.CreatedAt)
		if err != nil {
			return storeError("insert bid", err)
		}
	}
	return nil
}

func buildWhere(f auctions.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		add("status::text = ANY($%d)", statuses)
	}
	if !f.StartDue.IsZero() {
		add("start_time <= $%d", f.StartDue)
	}
	if !f.EndDue.IsZero() {
		add("end_time <= $%d", f.EndDue)
	}
	if !f.EndsAfter.IsZero() {
		add("end_time > $%d", f.EndsAfter)
	}
	if f.CreatedBy != nil {
		add("created_by = $%d", *f.CreatedBy)
	}
	if f.Category != "" {
		add("LOWER(category) = LOWER($%d)", f.Category)
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", n, n))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// storeError classifies a database failure. Rejected writes surface as domain
// errors, anything else is treated as the store being unavailable.
// commitError classifies a failed COMMIT. The server may have applied the
// transaction before the connection dropped, so the outcome is unknown.
func commitError(action string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", auctions.ErrCommitUncertain, action, err)
}

func storeError(action string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", auctions.ErrConflict, pgErr.Message)
		case "23514", "22P02": // check_violation, invalid_text_representation
			return fmt.Errorf("%w: %w: failed to %s: %s", auctions.ErrInvalidInput, auctions.ErrRejectedByStore, action, pgErr.Message)
		}
	}
	if pkgdb.IsLockTimeout(err) {
		return fmt.Errorf("%w: failed to %s: row lock not acquired in time", auctions.ErrStoreUnavailable, action)
	}
	return fmt.Errorf("%w: failed to %s: %v", auctions.ErrStoreUnavailable, action, err)
}
