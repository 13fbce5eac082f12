package projections

import (
	"encoding/json"
	"fmt"

	"github.com/V4T54L/chronicle/internal/domain"
)

// TypeCount counts committed events per event_type across the whole log.
type TypeCount struct{}

func NewTypeCount() *TypeCount { return &TypeCount{} }

func (t *TypeCount) Name() string { return "type_count" }

func (t *TypeCount) Version() int { return 1 }

func (t *TypeCount) InitialState() any { return map[string]uint64{} }

func (t *TypeCount) DecodeState(data []byte) (any, error) {
	st := map[string]uint64{}
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode type count state: %w", err)
	}
	return st, nil
}

func (t *TypeCount) Reduce(state any, env domain.Envelope) (any, error) {
	st, ok := state.(map[string]uint64)
	if !ok {
		return nil, fmt.Errorf("unexpected state type %T", state)
	}
	st[string(env.EventType)]++
	return st, nil
}
