// Package projections holds the built-in reducers. Payload interpretation
// lives here and only here; the ledger core never inspects payloads.
package projections

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/V4T54L/chronicle/internal/domain"
)

// ProcessInfo is the registry's view of one process.
type ProcessInfo struct {
	Events     uint64    `json:"events"`
	Parent     string    `json:"parent,omitempty"`
	FirstSeq   uint64    `json:"first_seq"`
	LastSeq    uint64    `json:"last_seq"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// ProcessRegistryState maps every observed process to its summary.
type ProcessRegistryState struct {
	Processes map[string]*ProcessInfo `json:"processes"`
}

// ProcessRegistry tracks which processes exist, how many events each has
// committed, and their parent links.
type ProcessRegistry struct{}

func NewProcessRegistry() *ProcessRegistry { return &ProcessRegistry{} }

func (p *ProcessRegistry) Name() string { return "process_registry" }

func (p *ProcessRegistry) Version() int { return 1 }

func (p *ProcessRegistry) InitialState() any {
	return &ProcessRegistryState{Processes: make(map[string]*ProcessInfo)}
}

func (p *ProcessRegistry) DecodeState(data []byte) (any, error) {
	st := &ProcessRegistryState{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to decode process registry state: %w", err)
	}
	if st.Processes == nil {
		st.Processes = make(map[string]*ProcessInfo)
	}
	return st, nil
}

func (p *ProcessRegistry) Reduce(state any, env domain.Envelope) (any, error) {
	st, ok := state.(*ProcessRegistryState)
	if !ok {
		return nil, fmt.Errorf("unexpected state type %T", state)
	}

	info := st.Processes[env.ProcessID]
	if info == nil {
		info = &ProcessInfo{FirstSeq: env.GlobalSeq}
		st.Processes[env.ProcessID] = info
	}
	info.Events++
	info.LastSeq = env.GlobalSeq
	info.LastSeenAt = env.RecordedAt
	if env.ParentProcessID != "" {
		info.Parent = env.ParentProcessID
	}
	return st, nil
}
