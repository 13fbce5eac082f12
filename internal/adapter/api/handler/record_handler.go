package handler

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/V4T54L/chronicle/internal/domain"
	"github.com/V4T54L/chronicle/internal/usecase"
)

// RecordHandler handles HTTP requests for event ingestion.
type RecordHandler struct {
	useCase      *usecase.RecordEventUseCase
	logger       *slog.Logger
	maxEventSize int64
}

// NewRecordHandler creates a new RecordHandler.
func NewRecordHandler(uc *usecase.RecordEventUseCase, logger *slog.Logger, maxEventSize int64) *RecordHandler {
	return &RecordHandler{
		useCase:      uc,
		logger:       logger,
		maxEventSize: maxEventSize,
	}
}

// ndjsonResult is the per-line outcome of a batch ingest.
type ndjsonResult struct {
	Envelope *domain.Envelope `json:"envelope,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// ServeHTTP processes incoming append requests.
func (h *RecordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Enforce max body size
	r.Body = http.MaxBytesReader(w, r.Body, h.maxEventSize)

	switch r.Header.Get("Content-Type") {
	case "application/json":
		h.handleSingle(w, r)
	case "application/x-ndjson":
		h.handleNDJSON(w, r)
	default:
		http.Error(w, "Unsupported Content-Type", http.StatusUnsupportedMediaType)
	}
}

func (h *RecordHandler) handleSingle(w http.ResponseWriter, r *http.Request) {
	var draft domain.Draft
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&draft); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	env, err := h.useCase.Record(r.Context(), draft)
	if err != nil {
		http.Error(w, err.Error(), StatusForError(err))
		return
	}

	respondWithJSON(w, http.StatusCreated, env)
}

// handleNDJSON appends one draft per line. Lines fail independently; the
// response carries one result per input line in order.
func (h *RecordHandler) handleNDJSON(w http.ResponseWriter, r *http.Request) {
	var results []ndjsonResult
	allOK := true

	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 64*1024), int(h.maxEventSize))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var draft domain.Draft
		if err := json.Unmarshal(line, &draft); err != nil {
			h.logger.Warn("failed to unmarshal ndjson line", "error", err)
			results = append(results, ndjsonResult{Error: "malformed line: " + err.Error()})
			allOK = false
			continue
		}

		env, err := h.useCase.Record(r.Context(), draft)
		if err != nil {
			results = append(results, ndjsonResult{Error: err.Error()})
			allOK = false
			continue
		}
		results = append(results, ndjsonResult{Envelope: &env})
	}
	if err := scanner.Err(); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	status := http.StatusCreated
	if !allOK {
		status = http.StatusMultiStatus
	}
	respondWithJSON(w, status, results)
}

// StatusForError maps the ledger error taxonomy onto HTTP status codes.
func StatusForError(err error) int {
	var vErr *domain.ValidationError
	var dErr *domain.DuplicateEventError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.As(err, &dErr):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEventNotFound), errors.Is(err, domain.ErrStateNotFound):
		return http.StatusNotFound
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
