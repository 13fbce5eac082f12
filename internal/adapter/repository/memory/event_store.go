package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/chronicle/internal/domain"
)

// EventStore is an in-memory, single-process implementation of
// domain.EventStore. One mutex is the sequencer: it serializes the
// global_seq allocation instant, which is the sole cross-cutting critical
// section the contract allows.
type EventStore struct {
	mu          sync.RWMutex
	events      []domain.Envelope
	byEventID   map[string]int
	byIdemKey   map[string]int
	processSeqs map[string]uint64
	now         func() time.Time
}

// NewEventStore creates an empty in-memory ledger.
func NewEventStore() *EventStore {
	return &EventStore{
		byEventID:   make(map[string]int),
		byIdemKey:   make(map[string]int),
		processSeqs: make(map[string]uint64),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Append implements domain.EventStore.
func (s *EventStore) Append(ctx context.Context, draft domain.Draft) (domain.Envelope, error) {
	if err := draft.Validate(); err != nil {
		return domain.Envelope{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if draft.IdempotencyKey != "" {
		if idx, ok := s.byIdemKey[draft.IdempotencyKey]; ok {
			return s.events[idx], nil
		}
	}

	if draft.EventID == "" {
		draft.EventID = uuid.NewString()
	} else if idx, ok := s.byEventID[draft.EventID]; ok {
		existing := s.events[idx]
		if draft.SameFact(existing) {
			return existing, nil
		}
		return domain.Envelope{}, &domain.DuplicateEventError{EventID: draft.EventID}
	}

	if draft.CausationID != "" {
		if _, ok := s.byEventID[draft.CausationID]; !ok {
			return domain.Envelope{}, &domain.ValidationError{
				Field:  "causation_id",
				Reason: "references an event that is not committed",
			}
		}
	}

	if draft.ParentProcessID != "" && s.processSeqs[draft.ParentProcessID] == 0 {
		return domain.Envelope{}, &domain.ValidationError{
			Field:  "parent_process_id",
			Reason: "parent process has no committed events",
		}
	}

	env := draft.Finalize(uint64(len(s.events))+1, s.processSeqs[draft.ProcessID]+1, s.now())

	s.events = append(s.events, env)
	s.byEventID[env.EventID] = len(s.events) - 1
	if env.IdempotencyKey != "" {
		s.byIdemKey[env.IdempotencyKey] = len(s.events) - 1
	}
	s.processSeqs[env.ProcessID] = env.ProcessSeq

	return env, nil
}

// Read implements domain.EventStore. The backing slice is already in
// global_seq order, so a single pass preserves the ordering contract.
func (s *EventStore) Read(ctx context.Context, f domain.Filter) ([]domain.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Envelope
	for _, env := range s.events {
		if !f.Matches(env) {
			continue
		}
		out = append(out, env)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// ByEventID implements domain.EventStore.
func (s *EventStore) ByEventID(ctx context.Context, eventID string) (domain.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byEventID[eventID]
	if !ok {
		return domain.Envelope{}, domain.ErrEventNotFound
	}
	return s.events[idx], nil
}

// Count implements domain.EventStore.
func (s *EventStore) Count(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.events)), nil
}

func (s *EventStore) Close() error { return nil }
