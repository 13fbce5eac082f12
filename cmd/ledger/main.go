package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/chronicle/internal/adapter/api"
	"github.com/V4T54L/chronicle/internal/adapter/metrics"
	"github.com/V4T54L/chronicle/internal/adapter/repository/jsonl"
	"github.com/V4T54L/chronicle/internal/adapter/repository/memory"
	"github.com/V4T54L/chronicle/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/chronicle/internal/adapter/repository/redis"
	"github.com/V4T54L/chronicle/internal/domain"
	"github.com/V4T54L/chronicle/internal/pkg/config"
	"github.com/V4T54L/chronicle/internal/pkg/logger"
	"github.com/V4T54L/chronicle/internal/usecase"

	_ "github.com/lib/pq" // Keep for postgres driver
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	m := metrics.NewLedgerMetrics()

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Shared backend connections ---
	var db *sql.DB
	if cfg.StoreBackend == "postgres" || cfg.ProjectionBackend == "postgres" {
		db, err = sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("failed to ping postgres", "error", err)
			os.Exit(1)
		}
	}

	// --- Event Store ---
	var eventStore domain.EventStore
	switch cfg.StoreBackend {
	case "memory":
		eventStore = memory.NewEventStore()
	case "jsonl":
		store, err := jsonl.NewEventStore(cfg.LedgerDir, cfg.LedgerSegmentSize, log)
		if err != nil {
			log.Error("failed to open ledger directory", "error", err, "dir", cfg.LedgerDir)
			os.Exit(1)
		}
		eventStore = store
	case "postgres":
		store := postgres.NewEventStore(db, log)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Error("failed to ensure ledger schema", "error", err)
			os.Exit(1)
		}
		eventStore = store
	default:
		log.Error("unknown store backend", "backend", cfg.StoreBackend)
		os.Exit(1)
	}
	defer eventStore.Close()

	// --- Projection Store (read side for /v1/projections) ---
	var projStore domain.ProjectionStore
	switch cfg.ProjectionBackend {
	case "memory":
		projStore = memory.NewProjectionStore()
	case "postgres":
		store := postgres.NewProjectionStore(db, log)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Error("failed to ensure projection schema", "error", err)
			os.Exit(1)
		}
		projStore = store
	case "redis":
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("could not connect to redis, projection reads will fail until it recovers", "error", err)
		}
		projStore = redisrepo.NewProjectionStore(redisClient, log)
	default:
		log.Error("unknown projection backend", "backend", cfg.ProjectionBackend)
		os.Exit(1)
	}

	// --- API Key Repository ---
	var apiKeyRepo domain.APIKeyRepository
	if cfg.StoreBackend == "postgres" {
		repo := postgres.NewAPIKeyRepository(db, log, cfg.APIKeyCacheTTL, m)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Error("failed to ensure api key schema", "error", err)
			os.Exit(1)
		}
		apiKeyRepo = repo
	} else {
		apiKeyRepo = memory.NewAPIKeyRepository(strings.Split(cfg.APIKeys, ","))
	}

	// --- Use Cases ---
	recordUseCase := usecase.NewRecordEventUseCase(eventStore, m, log)
	queryUseCase := usecase.NewQueryEventsUseCase(eventStore, projStore)

	// --- Metrics Server ---
	adminServer := &http.Server{
		Addr:    cfg.AdminServerAddr,
		Handler: api.NewMetricsRouter(),
	}

	go func() {
		log.Info("starting metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	// --- API Server ---
	router := api.NewRouter(cfg, log, apiKeyRepo, recordUseCase, queryUseCase)
	apiServer := &http.Server{
		Addr:         cfg.APIServerAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		log.Info("starting ledger api server", "addr", apiServer.Addr, "store", cfg.StoreBackend)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ledger api server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	log.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", "error", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error("ledger api server shutdown failed", "error", err)
	}

	log.Info("servers shut down gracefully")
}
