package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/adapter/httpserver"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/adapter/metrics"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/adapter/postgres"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/adapter/redis"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/app"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/broadcast"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/coordination"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/config"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/logging"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/version"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func runGracefulShutdown(srv *httpserver.Server, streamer *broadcast.Streamer, coordinator *coordination.Coordinator) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Streams first so clients get a close frame before their feeds go quiet.
		streamer.Stop()
		coordinator.Stop()

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func healthChecks(pool *pgxpool.Pool, rdb *goredis.Client, coordinator *coordination.Coordinator) []httpserver.HealthCheck {
	return []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		{Name: "realtime", Check: func(context.Context) error {
			_, err := coordinator.QueueStatus()
			return err
		}},
	}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().Version)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	changeFeed := redis.NewChangeFeed(redisClient)
	notifier := redis.NewNotifier(redisClient)

	coordinator := coordination.NewCoordinator(changeFeed, clock, cfg.MaxRealtimeChannels)

	appSvc := app.NewService(
		postgres.NewSessionRepo(pool),
		postgres.NewPlayerRepo(pool),
		notifier,
		changeFeed,
		coordinator,
		clock,
		app.FetchPolicy{RetryAttempts: cfg.FetchRetryAttempts, RetryDelay: cfg.FetchRetryDelay},
	)

	streamer := broadcast.NewStreamer(clock, cfg.MaxStreamsPerUser, cfg.WebSocketIdleTimeout)

	srv := httpserver.NewServer(
		cfg,
		appSvc,
		streamer,
		notifier,
		coordinator,
		metrics.NewRegistry(),
		healthChecks(pool, redisClient, coordinator),
	)

	done := runGracefulShutdown(srv, streamer, coordinator)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
