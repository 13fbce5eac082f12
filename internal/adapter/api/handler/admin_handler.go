package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/V4T54L/chronicle/internal/usecase"
)

// AdminHandler serves projection operations: status snapshots and rebuild
// requests. Mounted on the projector's admin server.
type AdminHandler struct {
	engine *usecase.RunProjectionsUseCase
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(engine *usecase.RunProjectionsUseCase, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{engine: engine, logger: logger}
}

// HealthCheck is a simple health check endpoint.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Projections lists every registered projection with its health and
// watermark.
// GET /admin/projections
func (h *AdminHandler) Projections(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.engine.Status())
}

// Rebuild discards a projection's state so it replays from the beginning.
// POST /admin/projections/{name}/rebuild
func (h *AdminHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := h.engine.Rebuild(r.Context(), name); err != nil {
		if errors.Is(err, usecase.ErrUnknownProjection) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("failed to rebuild projection", "error", err, "projection", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("projection rebuild accepted", "projection", name)
	respondWithJSON(w, http.StatusAccepted, map[string]string{"projection": name, "status": "rebuilding"})
}
