package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// CurrentSchemaVersion is the envelope shape version stamped on new events.
const CurrentSchemaVersion = 1

// EventType is a dotted "category.name" taxonomy tag. The canonical types
// below cover the known runtimes; ingest adapters may introduce new tags as
// long as they keep the dotted shape. Framework-specific details belong in
// the payload, never in the type.
type EventType string

const (
	EventExecutionMessage     EventType = "execution.message"
	EventExecutionToolCall    EventType = "execution.tool_call"
	EventExecutionToolResult  EventType = "execution.tool_result"
	EventExecutionStateChange EventType = "execution.state_change"
	EventExecutionHandoff     EventType = "execution.handoff"
	EventExecutionCompleted   EventType = "execution.completed"

	EventWorkflowStarted   EventType = "system.workflow_started"
	EventWorkflowCompleted EventType = "system.workflow_completed"
	EventTaskScheduled     EventType = "system.task_scheduled"
	EventTaskCompleted     EventType = "system.task_completed"
	EventSystemError       EventType = "system.error"

	EventUIInputReceived   EventType = "ui.input_received"
	EventUIOutputDisplayed EventType = "ui.output_displayed"

	EventIntegrationCall     EventType = "integration.call"
	EventIntegrationResponse EventType = "integration.response"
)

// Valid reports whether the type has the required "category.name" shape.
func (t EventType) Valid() bool {
	s := string(t)
	dot := strings.Index(s, ".")
	return dot > 0 && dot < len(s)-1
}

// Origin identifies where an event came from.
type Origin string

const (
	OriginAgent       Origin = "agent"
	OriginSystem      Origin = "system"
	OriginUI          Origin = "ui"
	OriginIntegration Origin = "integration"
)

// Runtime identifies the agent runtime that produced an event.
type Runtime string

const (
	RuntimeAG2       Runtime = "ag2"
	RuntimeLangGraph Runtime = "langgraph"
	RuntimeCrewAI    Runtime = "crewai"
	RuntimeCustom    Runtime = "custom"
	RuntimeNone      Runtime = "none"
)

// Source is provenance metadata. It is opaque to ordering and validation
// beyond the presence of Origin.
type Source struct {
	Origin  Origin  `json:"origin"`
	Runtime Runtime `json:"runtime,omitempty"`
	Agent   string  `json:"agent,omitempty"`
}

// Envelope is the single durable fact unit of the ledger. Once committed it
// is immutable: no update or delete operation exists anywhere in the core
// contract. ProcessSeq and GlobalSeq are store-assigned; everything else
// originates from the producer's Draft or is stamped at commit.
type Envelope struct {
	EventID         string          `json:"event_id"`
	ProcessID       string          `json:"process_id"`
	ParentProcessID string          `json:"parent_process_id,omitempty"`
	EventType       EventType       `json:"event_type"`
	OccurredAt      time.Time       `json:"occurred_at"`
	RecordedAt      time.Time       `json:"recorded_at"`
	Source          Source          `json:"source"`
	CausationID     string          `json:"causation_id,omitempty"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	SchemaVersion   int             `json:"schema_version"`
	ProcessSeq      uint64          `json:"process_seq"`
	GlobalSeq       uint64          `json:"global_seq"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
}

// Draft is a producer-constructed envelope before the store finalizes it.
// EventID is optional: replay and import paths supply their own, everything
// else gets a generated one. Sequence numbers and RecordedAt never appear on
// a draft.
type Draft struct {
	EventID         string          `json:"event_id,omitempty"`
	ProcessID       string          `json:"process_id"`
	ParentProcessID string          `json:"parent_process_id,omitempty"`
	EventType       EventType       `json:"event_type"`
	OccurredAt      time.Time       `json:"occurred_at,omitempty"`
	Source          Source          `json:"source"`
	CausationID     string          `json:"causation_id,omitempty"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	SchemaVersion   int             `json:"schema_version,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
}

// Finalize stamps the store-assigned fields onto a validated draft and
// returns the committed form. The payload is copied so a producer mutating
// its buffer cannot reach the committed record. Stores call this inside
// their sequencing critical section.
func (d Draft) Finalize(globalSeq, processSeq uint64, recordedAt time.Time) Envelope {
	env := Envelope{
		EventID:         d.EventID,
		ProcessID:       d.ProcessID,
		ParentProcessID: d.ParentProcessID,
		EventType:       d.EventType,
		OccurredAt:      d.OccurredAt,
		RecordedAt:      recordedAt,
		Source:          d.Source,
		CausationID:     d.CausationID,
		CorrelationID:   d.CorrelationID,
		Payload:         append(json.RawMessage(nil), d.Payload...),
		SchemaVersion:   d.SchemaVersion,
		ProcessSeq:      processSeq,
		GlobalSeq:       globalSeq,
		IdempotencyKey:  d.IdempotencyKey,
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = recordedAt
	}
	if env.SchemaVersion == 0 {
		env.SchemaVersion = CurrentSchemaVersion
	}
	return env
}

// SameFact reports whether a draft re-describes an already committed
// envelope. Used to tell an idempotent resubmission of the same fact apart
// from an ambiguous event_id reuse.
func (d Draft) SameFact(existing Envelope) bool {
	return existing.ProcessID == d.ProcessID &&
		existing.EventType == d.EventType &&
		existing.IdempotencyKey == d.IdempotencyKey &&
		string(existing.Payload) == string(d.Payload)
}

// Validate checks the structural requirements for an append. Causal and
// parent references are validated against committed history by the store,
// not here.
func (d Draft) Validate() error {
	if d.ProcessID == "" {
		return &ValidationError{Field: "process_id", Reason: "required"}
	}
	if d.EventType == "" {
		return &ValidationError{Field: "event_type", Reason: "required"}
	}
	if !d.EventType.Valid() {
		return &ValidationError{Field: "event_type", Reason: "must have the form category.name"}
	}
	if d.Source.Origin == "" {
		return &ValidationError{Field: "source.origin", Reason: "required"}
	}
	if len(d.Payload) == 0 {
		return &ValidationError{Field: "payload", Reason: "required"}
	}
	if !json.Valid(d.Payload) {
		return &ValidationError{Field: "payload", Reason: "must be valid JSON"}
	}
	if d.ParentProcessID != "" && d.ParentProcessID == d.ProcessID {
		return &ValidationError{Field: "parent_process_id", Reason: "must not reference the event's own process"}
	}
	return nil
}
