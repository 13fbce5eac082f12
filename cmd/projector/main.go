package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
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
	"github.com/V4T54L/chronicle/internal/projections"
	"github.com/V4T54L/chronicle/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting projector worker")

	m := metrics.NewLedgerMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.StoreBackend == "postgres" || cfg.ProjectionBackend == "postgres" {
		db, err = sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Error("failed to open postgres connection", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		log.Info("connected to postgres")
	}

	var eventStore domain.EventStore
	switch cfg.StoreBackend {
	case "memory":
		// A memory ledger is per-process: this worker will only observe
		// events appended through its own store instance.
		log.Warn("memory store backend selected, projector will not see events from other processes")
		eventStore = memory.NewEventStore()
	case "jsonl":
		// Segments are indexed once at open; this worker will not observe
		// events another process appends to the same directory afterwards.
		log.Warn("jsonl store backend selected, projector only sees events present at startup")
		store, err := jsonl.NewEventStore(cfg.LedgerDir, cfg.LedgerSegmentSize, log)
		if err != nil {
			log.Error("failed to open ledger directory", "error", err, "dir", cfg.LedgerDir)
			os.Exit(1)
		}
		eventStore = store
	case "postgres":
		eventStore = postgres.NewEventStore(db, log)
	default:
		log.Error("unknown store backend", "backend", cfg.StoreBackend)
		os.Exit(1)
	}
	defer eventStore.Close()

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
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		log.Info("connected to redis")
		projStore = redisrepo.NewProjectionStore(redisClient, log)
	default:
		log.Error("unknown projection backend", "backend", cfg.ProjectionBackend)
		os.Exit(1)
	}

	engine := usecase.NewRunProjectionsUseCase(eventStore, projStore, log, m, usecase.EngineConfig{
		BatchSize:    cfg.ProjectionBatchSize,
		PollInterval: cfg.ProjectionPollInterval,
	})

	for _, p := range []domain.Projection{
		projections.NewProcessRegistry(),
		projections.NewTranscript(),
		projections.NewTypeCount(),
	} {
		if err := engine.Register(p); err != nil {
			log.Error("failed to register projection", "projection", p.Name(), "error", err)
			os.Exit(1)
		}
	}

	adminServer := &http.Server{
		Addr:    cfg.AdminServerAddr,
		Handler: api.NewAdminRouter(engine, log),
	}

	go func() {
		log.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin & metrics server failed", "error", err)
		}
	}()

	log.Info("projector worker started, folding events...",
		"store", cfg.StoreBackend,
		"projection_backend", cfg.ProjectionBackend,
		"batch_size", cfg.ProjectionBatchSize,
	)

	engine.Run(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin & metrics server shutdown failed", "error", err)
	}

	log.Info("projector worker shut down gracefully")
}
