package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/floroz/liveauction/internal/adapters/database"
	"github.com/floroz/liveauction/internal/config"
	pkgdb "github.com/floroz/liveauction/pkg/database"
	pkgevents "github.com/floroz/liveauction/pkg/events"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load environment variables (local overrides .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load(config.ComponentWorker)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down worker...")
		cancel()
	}()

	// 1. Initialize Postgres Connection Pool
	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("Unable to parse database config", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		logger.Error("Unable to create connection pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if pingErr := pool.Ping(ctx); pingErr != nil {
		logger.Error("Unable to ping database", "error", pingErr)
		os.Exit(1)
	}
	logger.Info("Postgres Connected")

	// 2. Connect to the broker
	var publisher pkgevents.EventPublisher
	switch cfg.Broker {
	case config.BrokerNATS:
		nc, natsErr := nats.Connect(cfg.NATSURL, nats.Name("liveauction-worker"))
		if natsErr != nil {
			logger.Error("Failed to connect to NATS", "error", natsErr)
			os.Exit(1)
		}
		defer nc.Close()
		logger.Info("NATS Connected")
		publisher = pkgevents.NewNATSPublisher(nc)

	default:
		amqpConn, amqpErr := amqp.Dial(cfg.RabbitMQURL)
		if amqpErr != nil {
			logger.Error("Failed to connect to RabbitMQ", "error", amqpErr)
			os.Exit(1)
		}
		defer amqpConn.Close()
		logger.Info("RabbitMQ Connected")

		rabbitPublisher, pubErr := pkgevents.NewRabbitMQPublisher(amqpConn, pkgevents.DefaultExchange)
		if pubErr != nil {
			logger.Error("Failed to create RabbitMQ publisher", "error", pubErr)
			os.Exit(1)
		}
		defer rabbitPublisher.Close()
		publisher = rabbitPublisher
	}

	// 3. Outbox Relay
	relay := pkgevents.NewOutboxRelay(
		database.NewPostgresOutboxRepository(pool),
		publisher,
		pkgdb.NewPostgresTransactionManager(pool, cfg.DBLockTimeout),
		cfg.OutboxBatchSize,
		cfg.OutboxInterval,
		pkgevents.DefaultExchange,
		logger,
	)

	logger.Info("Starting Outbox Relay...", "broker", cfg.Broker)
	if runErr := relay.Run(ctx); runErr != nil {
		logger.Error("Outbox Relay failed", "error", runErr)
		// Run returns nil on context cancel.
		if ctx.Err() == nil {
			os.Exit(1)
		}
	}

	logger.Info("Worker stopped")
}
