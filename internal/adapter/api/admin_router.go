package api

import (
	"log/slog"
	"net/http"

	"github.com/V4T54L/chronicle/internal/adapter/api/handler"
	"github.com/V4T54L/chronicle/internal/usecase"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewAdminRouter creates and configures the HTTP router for projection
// engine administration. Runs on a separate listener from the public API.
func NewAdminRouter(engine *usecase.RunProjectionsUseCase, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	adminHandler := handler.NewAdminHandler(engine, logger)

	mux.HandleFunc("GET /health", adminHandler.HealthCheck)

	mux.HandleFunc("GET /admin/projections", adminHandler.Projections)
	mux.HandleFunc("POST /admin/projections/{name}/rebuild", adminHandler.Rebuild)

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// NewMetricsRouter exposes metrics and a health probe for processes that do
// not run the projection engine.
func NewMetricsRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}
