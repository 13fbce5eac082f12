package projections

import (
	"encoding/json"
	"fmt"

	"github.com/V4T54L/chronicle/internal/domain"
)

// TranscriptState is a readable rendering of one process's conversation,
// suitable for display or logging.
type TranscriptState struct {
	ProcessID string   `json:"process_id"`
	Lines     []string `json:"lines"`
	Events    int      `json:"events"`
}

// Transcript derives a human-readable transcript per process. Partitioned
// by process_id so each process's transcript is an independent view.
type Transcript struct {
	IncludeToolCalls bool
}

func NewTranscript() *Transcript {
	return &Transcript{IncludeToolCalls: true}
}

func (t *Transcript) Name() string { return "transcript" }

func (t *Transcript) Version() int { return 1 }

func (t *Transcript) Partition(env domain.Envelope) string { return env.ProcessID }

func (t *Transcript) InitialState() any { return &TranscriptState{} }

func (t *Transcript) DecodeState(data []byte) (any, error) {
	st := &TranscriptState{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to decode transcript state: %w", err)
	}
	return st, nil
}

func (t *Transcript) Reduce(state any, env domain.Envelope) (any, error) {
	st, ok := state.(*TranscriptState)
	if !ok {
		return nil, fmt.Errorf("unexpected state type %T", state)
	}
	st.ProcessID = env.ProcessID
	st.Events++

	if line := t.formatEvent(env); line != "" {
		st.Lines = append(st.Lines, line)
	}
	return st, nil
}

func (t *Transcript) formatEvent(env domain.Envelope) string {
	var payload map[string]any
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		// Opaque payloads that are not objects still count as events, they
		// just produce no transcript line.
		return ""
	}

	agent := env.Source.Agent
	if agent == "" {
		agent = "System"
	}
	ts := env.RecordedAt.Format("15:04:05")

	switch env.EventType {
	case domain.EventExecutionMessage:
		content, _ := payload["content"].(string)
		if content == "" {
			return ""
		}
		return fmt.Sprintf("[%s] %s: %s", ts, agent, content)

	case domain.EventExecutionToolCall:
		if !t.IncludeToolCalls {
			return ""
		}
		tool, _ := payload["tool_name"].(string)
		if tool == "" {
			tool = "unknown"
		}
		return fmt.Sprintf("[%s] %s -> [TOOL: %s] %v", ts, agent, tool, payload["arguments"])

	case domain.EventExecutionToolResult:
		if !t.IncludeToolCalls {
			return ""
		}
		tool, _ := payload["tool_name"].(string)
		if tool == "" {
			tool = "unknown"
		}
		result := fmt.Sprintf("%v", payload["result"])
		if len(result) > 200 {
			result = result[:200] + "..."
		}
		return fmt.Sprintf("[%s] [TOOL RESULT: %s] %s", ts, tool, result)

	case domain.EventExecutionHandoff:
		from, _ := payload["from_agent"].(string)
		to, _ := payload["to_agent"].(string)
		return fmt.Sprintf("[%s] [HANDOFF] %s -> %s", ts, from, to)

	case domain.EventWorkflowStarted:
		return fmt.Sprintf("[%s] [WORKFLOW STARTED]", ts)

	case domain.EventWorkflowCompleted:
		reason, _ := payload["reason"].(string)
		return fmt.Sprintf("[%s] [WORKFLOW COMPLETED] %s", ts, reason)

	case domain.EventExecutionCompleted:
		reason, _ := payload["reason"].(string)
		return fmt.Sprintf("[%s] [EXECUTION COMPLETED] %s", ts, reason)
	}

	return ""
}
