package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/V4T54L/chronicle/internal/adapter/api"
	"github.com/V4T54L/chronicle/internal/adapter/repository/memory"
	"github.com/V4T54L/chronicle/internal/domain"
	"github.com/V4T54L/chronicle/internal/pkg/config"
	"github.com/V4T54L/chronicle/internal/projections"
	"github.com/V4T54L/chronicle/internal/usecase"
)

const testAPIKey = "integration-test-key"

type ledgerStack struct {
	server *httptest.Server
	engine *usecase.RunProjectionsUseCase
	client *http.Client
}

// newLedgerStack wires the full service in-process on the memory backends:
// HTTP API, event store, projection store, and projection engine.
func newLedgerStack(t *testing.T) *ledgerStack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{MaxEventSize: 1024 * 1024}

	events := memory.NewEventStore()
	states := memory.NewProjectionStore()
	apiKeys := memory.NewAPIKeyRepository([]string{testAPIKey})

	recordUC := usecase.NewRecordEventUseCase(events, nil, logger)
	queryUC := usecase.NewQueryEventsUseCase(events, states)

	engine := usecase.NewRunProjectionsUseCase(events, states, logger, nil, usecase.EngineConfig{BatchSize: 10})
	for _, p := range []domain.Projection{
		projections.NewProcessRegistry(),
		projections.NewTranscript(),
		projections.NewTypeCount(),
	} {
		if err := engine.Register(p); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}

	server := httptest.NewServer(api.NewRouter(cfg, logger, apiKeys, recordUC, queryUC))
	t.Cleanup(server.Close)

	return &ledgerStack{server: server, engine: engine, client: server.Client()}
}

func (s *ledgerStack) post(t *testing.T, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/v1/events", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func (s *ledgerStack) get(t *testing.T, path string, out any) {
	t.Helper()
	resp, err := s.client.Get(s.server.URL + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s: expected 200, got %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

// drain runs the projection engine until every projection is caught up.
func (s *ledgerStack) drain(t *testing.T, name string) {
	t.Helper()
	for {
		n, err := s.engine.RunOnce(context.Background(), name)
		if err != nil {
			t.Fatalf("projection %s failed: %v", name, err)
		}
		if n == 0 {
			return
		}
	}
}

func eventBody(processID, parentID, eventType, content string) string {
	draft := map[string]any{
		"process_id": processID,
		"event_type": eventType,
		"source":     map[string]string{"origin": "agent", "runtime": "ag2", "agent": "planner"},
		"payload":    map[string]string{"content": content},
	}
	if parentID != "" {
		draft["parent_process_id"] = parentID
	}
	data, _ := json.Marshal(draft)
	return string(data)
}

func TestLedgerFlow(t *testing.T) {
	stack := newLedgerStack(t)

	// 1. Unauthenticated writes are rejected.
	req, _ := http.NewRequest(http.MethodPost, stack.server.URL+"/v1/events", bytes.NewBufferString(eventBody("proc-1", "", "execution.message", "hi")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := stack.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without API key, got %d", resp.StatusCode)
	}

	// 2. Record a parent workflow and a child process.
	var first domain.Envelope
	resp = stack.post(t, eventBody("proc-1", "", "system.workflow_started", ""))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&first); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	resp.Body.Close()
	if first.GlobalSeq != 1 || first.ProcessSeq != 1 {
		t.Fatalf("unexpected sequencing on first event: %+v", first)
	}

	for i := 0; i < 3; i++ {
		resp = stack.post(t, eventBody("proc-1", "", "execution.message", fmt.Sprintf("message %d", i)))
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("append %d: expected 201, got %d", i, resp.StatusCode)
		}
	}
	resp = stack.post(t, eventBody("proc-2", "proc-1", "execution.message", "child says hi"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("child append: expected 201, got %d", resp.StatusCode)
	}

	// A child of a process nobody has seen is rejected.
	resp = stack.post(t, eventBody("proc-3", "ghost", "execution.message", "orphan"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown parent, got %d", resp.StatusCode)
	}

	// 3. Read the ledger back over HTTP.
	var events struct {
		Events []domain.Envelope `json:"events"`
		Count  int               `json:"count"`
	}
	stack.get(t, "/v1/events", &events)
	if events.Count != 5 {
		t.Fatalf("expected 5 committed events, got %d", events.Count)
	}
	for i, env := range events.Events {
		if env.GlobalSeq != uint64(i+1) {
			t.Fatalf("global_seq gap at index %d: %d", i, env.GlobalSeq)
		}
	}

	stack.get(t, "/v1/processes/proc-1/events", &events)
	if events.Count != 4 {
		t.Fatalf("expected 4 events for proc-1, got %d", events.Count)
	}

	// 4. Fold the projections and query the materialized views.
	for _, name := range []string{"process_registry", "transcript", "type_count"} {
		stack.drain(t, name)
	}

	var registry struct {
		Watermark  uint64 `json:"watermark"`
		Partitions []struct {
			Partition string          `json:"partition"`
			State     json.RawMessage `json:"state"`
		} `json:"partitions"`
	}
	stack.get(t, "/v1/projections/process_registry", &registry)
	if registry.Watermark != 5 {
		t.Fatalf("expected registry watermark 5, got %d", registry.Watermark)
	}
	if len(registry.Partitions) != 1 {
		t.Fatalf("expected 1 registry partition, got %d", len(registry.Partitions))
	}

	var registryState projections.ProcessRegistryState
	if err := json.Unmarshal(registry.Partitions[0].State, &registryState); err != nil {
		t.Fatalf("failed to decode registry state: %v", err)
	}
	if len(registryState.Processes) != 2 {
		t.Fatalf("expected 2 processes in the registry, got %d", len(registryState.Processes))
	}
	if registryState.Processes["proc-2"].Parent != "proc-1" {
		t.Errorf("expected proc-2 to link to proc-1, got %q", registryState.Processes["proc-2"].Parent)
	}

	var transcript struct {
		Partition string          `json:"partition"`
		State     json.RawMessage `json:"state"`
	}
	stack.get(t, "/v1/projections/transcript/proc-1", &transcript)
	var transcriptState projections.TranscriptState
	if err := json.Unmarshal(transcript.State, &transcriptState); err != nil {
		t.Fatalf("failed to decode transcript state: %v", err)
	}
	if transcriptState.Events != 4 {
		t.Errorf("expected 4 events in proc-1 transcript, got %d", transcriptState.Events)
	}
	if len(transcriptState.Lines) != 4 {
		t.Errorf("expected 4 transcript lines, got %v", transcriptState.Lines)
	}

	// 5. Rebuild replays to the same watermark.
	if err := stack.engine.Rebuild(context.Background(), "type_count"); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	stack.drain(t, "type_count")

	var typeCounts struct {
		Watermark  uint64 `json:"watermark"`
		Partitions []struct {
			State json.RawMessage `json:"state"`
		} `json:"partitions"`
	}
	stack.get(t, "/v1/projections/type_count", &typeCounts)
	if typeCounts.Watermark != 5 {
		t.Fatalf("expected watermark 5 after rebuild, got %d", typeCounts.Watermark)
	}
	counts := map[string]uint64{}
	if err := json.Unmarshal(typeCounts.Partitions[0].State, &counts); err != nil {
		t.Fatalf("failed to decode counts: %v", err)
	}
	if counts["execution.message"] != 4 || counts["system.workflow_started"] != 1 {
		t.Errorf("unexpected counts after rebuild: %v", counts)
	}
}
