// Package testhelpers starts disposable Postgres instances for integration tests.
package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const postgresImage = "postgres:16-alpine"

// Tables holding auction state, in truncation order
var Tables = []string{"outbox_events", "bids", "auctions"}

// TestDatabase is a migrated Postgres container plus a pool connected to it
type TestDatabase struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string

	t testing.TB
}

// NewTestDatabase starts a container and applies the goose migrations found in migrationsPath.
// Callers own Close; the usual pattern is t.Cleanup(testDB.Close).
func NewTestDatabase(t testing.TB, migrationsPath string) *TestDatabase {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		postgresImage,
		postgres.WithDatabase("liveauction_test"),
		postgres.WithUsername("liveauction"),
		postgres.WithPassword("liveauction"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %s", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("failed to get connection string: %s", err)
	}

	if err := migrate(connStr, migrationsPath); err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("%s", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("failed to connect to database: %s", err)
	}
	if pingErr := pool.Ping(ctx); pingErr != nil {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("failed to ping database: %s", pingErr)
	}

	return &TestDatabase{
		Container: pgContainer,
		Pool:      pool,
		ConnStr:   connStr,
		t:         t,
	}
}

func migrate(connStr, migrationsPath string) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open sql db for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to resolve migrations path %q: %w", migrationsPath, err)
	}
	if err := goose.Up(db, absPath); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Truncate empties every auction table so one container can serve several subtests
func (td *TestDatabase) Truncate(ctx context.Context) {
	td.t.Helper()
	if _, err := td.Pool.Exec(ctx, "TRUNCATE "+strings.Join(Tables, ", ")+" CASCADE"); err != nil {
		td.t.Fatalf("failed to truncate tables: %s", err)
	}
}

func (td *TestDatabase) Close() {
	td.Pool.Close()
	if termErr := td.Container.Terminate(context.Background()); termErr != nil {
		// Cleanup still succeeds; the reaper removes the container eventually.
		td.t.Logf("failed to terminate container: %v", termErr)
	}
}
