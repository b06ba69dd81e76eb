package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/floroz/liveauction/internal/adapters/api"
	"github.com/floroz/liveauction/internal/adapters/database"
	"github.com/floroz/liveauction/internal/adapters/redis"
	"github.com/floroz/liveauction/internal/adapters/ws"
	"github.com/floroz/liveauction/internal/config"
	"github.com/floroz/liveauction/internal/domain/auctions"
	"github.com/floroz/liveauction/internal/rooms"
	"github.com/floroz/liveauction/pkg/auth"
	pkgdb "github.com/floroz/liveauction/pkg/database"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load environment variables (local overrides .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load(config.ComponentAPI)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// 2. Token validation (tokens are issued by the account service)
	publicKey, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		logger.Error("Unable to read JWT public key", "path", cfg.JWTPublicKeyPath, "error", err)
		os.Exit(1)
	}
	signer, err := auth.NewSignerFromPublicKey(publicKey, cfg.JWTIssuer)
	if err != nil {
		logger.Error("Invalid JWT public key", "error", err)
		os.Exit(1)
	}

	// 3. Store (Infrastructure Layer)
	txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.DBLockTimeout)
	outboxRepo := database.NewPostgresOutboxRepository(pool)
	retryPolicy := auctions.DefaultRetryPolicy
	retryPolicy.MaxRetries = uint64(cfg.StoreMaxRetries)
	store := auctions.NewRetryingStore(
		database.NewPostgresAuctionStore(pool, txManager, outboxRepo),
		retryPolicy,
		logger,
	)

	// 4. Rooms. With Redis, notifications go through pub/sub so every
	// instance's observers receive them; otherwise only this process's.
	hub := rooms.NewHub(logger)
	var broadcaster auctions.Broadcaster = rooms.NewHubBroadcaster(hub)
	var roomRelay *redis.RoomRelay
	if cfg.RedisURL != "" {
		redisOpts, parseErr := goredis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Error("Invalid REDIS_URL", "error", parseErr)
			os.Exit(1)
		}
		rdb := goredis.NewClient(redisOpts)
		defer rdb.Close()
		if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
			logger.Error("Unable to ping Redis", "error", pingErr)
			os.Exit(1)
		}
		logger.Info("Redis Connected")
		broadcaster = redis.NewRoomBroadcaster(rdb)
		roomRelay = redis.NewRoomRelay(rdb, hub, logger)
	}

	// 5. Domain Layer
	engine := auctions.NewBidEngine(store, auctions.WithMaxBidAttempts(cfg.BidMaxAttempts))
	auctionService := auctions.NewAuctionService(engine, broadcaster, logger)
	catalog := auctions.NewCatalogService(store, broadcaster, logger, time.Now)
	scanner := auctions.NewLifecycleScanner(store, auctionService, logger)

	// 6. Transports: ConnectRPC and websocket on one router
	router := mux.NewRouter()
	path, rpcHandler := api.NewAuctionServiceHTTPHandler(
		api.NewAuctionServiceHandler(auctionService, catalog, logger),
		connect.WithInterceptors(auth.NewAuthInterceptor(signer, api.PublicProcedures...)),
	)
	router.PathPrefix(path).Handler(rpcHandler)
	ws.NewHandler(hub, auctionService, signer, cfg.SubscriberBuffer, logger).RegisterRoutes(router)

	// Use h2c for HTTP/2 without TLS (common for internal services / local dev)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h2c.NewHandler(router, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting Live Auction API", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting lifecycle scanner", "interval", cfg.ScanInterval)
		return scanner.RunEvery(gctx, cfg.ScanInterval)
	})
	if roomRelay != nil {
		g.Go(func() error {
			return roomRelay.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Live Auction API stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Live Auction API stopped")
}
