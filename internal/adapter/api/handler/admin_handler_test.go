package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/V4T54L/chronicle/internal/adapter/repository/memory"
	"github.com/V4T54L/chronicle/internal/domain"
	"github.com/V4T54L/chronicle/internal/projections"
	"github.com/V4T54L/chronicle/internal/usecase"
)

func newAdminFixture(t *testing.T) (*AdminHandler, *usecase.RunProjectionsUseCase, *memory.EventStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := memory.NewEventStore()
	states := memory.NewProjectionStore()

	engine := usecase.NewRunProjectionsUseCase(events, states, logger, nil, usecase.EngineConfig{})
	if err := engine.Register(projections.NewTypeCount()); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return NewAdminHandler(engine, logger), engine, events
}

func adminRoute(h *AdminHandler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/projections", h.Projections)
	mux.HandleFunc("POST /admin/projections/{name}/rebuild", h.Rebuild)
	return mux
}

func TestAdminHandler_Projections(t *testing.T) {
	h, engine, events := newAdminFixture(t)
	mux := adminRoute(h)

	if _, err := events.Append(context.Background(), domain.Draft{
		ProcessID: "proc-a",
		EventType: domain.EventExecutionMessage,
		Source:    domain.Source{Origin: domain.OriginAgent},
		Payload:   json.RawMessage(`{}`),
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := engine.RunOnce(context.Background(), "type_count"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/projections", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var status []usecase.ProjectionStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(status) != 1 || status[0].Name != "type_count" {
		t.Fatalf("unexpected status list: %+v", status)
	}
	if status[0].Watermark != 1 {
		t.Errorf("expected watermark 1, got %d", status[0].Watermark)
	}
}

func TestAdminHandler_Rebuild(t *testing.T) {
	h, _, _ := newAdminFixture(t)
	mux := adminRoute(h)

	req := httptest.NewRequest(http.MethodPost, "/admin/projections/type_count/rebuild", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/projections/nope/rebuild", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown projection, got %d", rr.Code)
	}
}
