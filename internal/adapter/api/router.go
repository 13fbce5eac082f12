package api

import (
	"log/slog"
	"net/http"

	"github.com/V4T54L/chronicle/internal/adapter/api/handler"
	"github.com/V4T54L/chronicle/internal/adapter/api/middleware"
	"github.com/V4T54L/chronicle/internal/domain"
	"github.com/V4T54L/chronicle/internal/pkg/config"
	"github.com/V4T54L/chronicle/internal/usecase"
)

// NewRouter creates and configures the main HTTP router for the ledger service.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	apiKeyRepo domain.APIKeyRepository,
	recordUseCase *usecase.RecordEventUseCase,
	queryUseCase *usecase.QueryEventsUseCase,
) http.Handler {
	mux := http.NewServeMux()

	recordHandler := handler.NewRecordHandler(recordUseCase, logger, cfg.MaxEventSize)
	queryHandler := handler.NewQueryHandler(queryUseCase, logger)

	authMiddleware := middleware.Auth(apiKeyRepo, logger)
	loggingMiddleware := middleware.Logging(logger)

	// Writes require an API key; reads are open.
	mux.Handle("POST /v1/events", authMiddleware(recordHandler))

	mux.HandleFunc("GET /v1/events", queryHandler.Events)
	mux.HandleFunc("GET /v1/events/{eventID}", queryHandler.EventByID)
	mux.HandleFunc("GET /v1/processes/{processID}/events", queryHandler.ProcessEvents)
	mux.HandleFunc("GET /v1/projections/{name}", queryHandler.Views)
	mux.HandleFunc("GET /v1/projections/{name}/{partition}", queryHandler.View)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return loggingMiddleware(mux)
}
