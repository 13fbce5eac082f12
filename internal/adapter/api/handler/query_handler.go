package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/V4T54L/chronicle/internal/domain"
	"github.com/V4T54L/chronicle/internal/usecase"
)

// QueryHandler serves the read-only query surface: raw ledger ranges and
// materialized projection views. It accepts no writes.
type QueryHandler struct {
	useCase *usecase.QueryEventsUseCase
	logger  *slog.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(uc *usecase.QueryEventsUseCase, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{useCase: uc, logger: logger}
}

// Events handles ranged ledger reads.
// GET /v1/events?from=&to=&type=&process_id=&since=&until=&limit=
func (h *QueryHandler) Events(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, err := h.useCase.Events(r.Context(), f)
	if err != nil {
		h.logger.Error("failed to read events", "error", err)
		http.Error(w, "Internal server error", StatusForError(err))
		return
	}
	respondWithJSON(w, http.StatusOK, eventsResponse{Events: events, Count: len(events)})
}

// ProcessEvents handles per-process reads.
// GET /v1/processes/{processID}/events
func (h *QueryHandler) ProcessEvents(w http.ResponseWriter, r *http.Request) {
	processID := r.PathValue("processID")
	if processID == "" {
		http.Error(w, "processID is required", http.StatusBadRequest)
		return
	}

	f, err := filterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.ProcessID = processID

	events, err := h.useCase.Events(r.Context(), f)
	if err != nil {
		h.logger.Error("failed to read process events", "error", err, "process_id", processID)
		http.Error(w, "Internal server error", StatusForError(err))
		return
	}
	respondWithJSON(w, http.StatusOK, eventsResponse{Events: events, Count: len(events)})
}

// EventByID resolves a single envelope.
// GET /v1/events/{eventID}
func (h *QueryHandler) EventByID(w http.ResponseWriter, r *http.Request) {
	env, err := h.useCase.EventByID(r.Context(), r.PathValue("eventID"))
	if err != nil {
		http.Error(w, err.Error(), StatusForError(err))
		return
	}
	respondWithJSON(w, http.StatusOK, env)
}

// Views returns every partition of a projection with its checkpoint.
// GET /v1/projections/{name}
func (h *QueryHandler) Views(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	states, cp, err := h.useCase.Views(r.Context(), name)
	if err != nil {
		h.logger.Error("failed to load projection views", "error", err, "projection", name)
		http.Error(w, "Internal server error", StatusForError(err))
		return
	}

	out := viewsResponse{Projection: name, Watermark: cp.Watermark, ReducerVersion: cp.ReducerVersion}
	for _, st := range states {
		out.Partitions = append(out.Partitions, partitionView{Partition: st.Partition, State: json.RawMessage(st.State)})
	}
	respondWithJSON(w, http.StatusOK, out)
}

// View returns one partition's materialized state.
// GET /v1/projections/{name}/{partition}
func (h *QueryHandler) View(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	partition := r.PathValue("partition")

	st, err := h.useCase.View(r.Context(), name, partition)
	if err != nil {
		http.Error(w, err.Error(), StatusForError(err))
		return
	}
	respondWithJSON(w, http.StatusOK, partitionView{Partition: st.Partition, State: json.RawMessage(st.State)})
}

type eventsResponse struct {
	Events []domain.Envelope `json:"events"`
	Count  int               `json:"count"`
}

type viewsResponse struct {
	Projection     string          `json:"projection"`
	Watermark      uint64          `json:"watermark"`
	ReducerVersion int             `json:"reducer_version"`
	Partitions     []partitionView `json:"partitions"`
}

type partitionView struct {
	Partition string          `json:"partition"`
	State     json.RawMessage `json:"state"`
}

func filterFromQuery(r *http.Request) (domain.Filter, error) {
	var f domain.Filter
	q := r.URL.Query()

	var err error
	if f.FromSeq, err = parseUint(q.Get("from")); err != nil {
		return f, err
	}
	if f.ToSeq, err = parseUint(q.Get("to")); err != nil {
		return f, err
	}
	f.EventType = domain.EventType(q.Get("type"))
	f.ProcessID = q.Get("process_id")

	if v := q.Get("since"); v != "" {
		if f.Since, err = time.Parse(time.RFC3339, v); err != nil {
			return f, err
		}
	}
	if v := q.Get("until"); v != "" {
		if f.Until, err = time.Parse(time.RFC3339, v); err != nil {
			return f, err
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, err
		}
	}
	return f, nil
}

func parseUint(v string) (uint64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}
