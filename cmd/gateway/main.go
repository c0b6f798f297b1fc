package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/thinkrelay/internal/config"
	"github.com/af-corp/thinkrelay/internal/gateway"
	"github.com/af-corp/thinkrelay/internal/ledger"
	"github.com/af-corp/thinkrelay/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	logger := telemetry.NewLogger(os.Stdout, "info")
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfg := loader.Config()
	logger = telemetry.NewLogger(os.Stdout, cfg.Telemetry.LogLevel)
	slog.SetDefault(logger)

	done := make(chan struct{})
	defer close(done)
	if err := loader.Watch(done); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}
	loader.OnReload(func(next *config.Config) {
		logger.Info("configuration reloaded",
			"reasoning_url", next.Providers.Reasoning.BaseURL,
			"response_url", next.Providers.Response.BaseURL,
			"channel_capacity", next.Stream.ChannelCapacity,
		)
	})

	// Connect to PostgreSQL
	var db ledger.Execer
	if cfg.Database.Enabled {
		pool, err := newPool(context.Background(), cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(context.Background()); err != nil {
			logger.Warn("database not reachable (usage records will fail)", "error", err)
		} else {
			logger.Info("database connected")
		}
		db = pool
	}

	// Connect to Redis
	var rdb *redis.Client
	if cfg.Redis.Enabled && len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (daily spend disabled)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
			defer rdb.Close()
		}
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	handler := gateway.NewHandler(loader.Config, metrics, ledger.New(rdb, db), logger)

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(gateway.RequestID)
	r.Use(gateway.CORS(loader.Config))

	r.Post("/", handler.Chat)
	r.Get("/health", healthHandler)
	r.Get("/v1/usage", handler.Usage)
	r.Handle("/metrics", promhttp.Handler())

	addr := cfg.Server.Addr()
	// No WriteTimeout: streamed responses outlive any fixed deadline.
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}
