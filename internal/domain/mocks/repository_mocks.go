package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/V4T54L/chronicle/internal/domain"
)

// MockEventStore is a mock implementation of domain.EventStore for testing.
// Append performs naive sequencing so callers get plausible envelopes back;
// invariant behavior is covered by the real memory backend.
type MockEventStore struct {
	mu         sync.Mutex
	Appended   []domain.Envelope
	ReadResult []domain.Envelope
	ReadCalls  []domain.Filter
	AppendErr  error
	ReadErr    error
	ByIDErr    error
}

func (m *MockEventStore) Append(ctx context.Context, draft domain.Draft) (domain.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return domain.Envelope{}, m.AppendErr
	}
	seq := uint64(len(m.Appended) + 1)
	env := domain.Envelope{
		EventID:         draft.EventID,
		ProcessID:       draft.ProcessID,
		ParentProcessID: draft.ParentProcessID,
		EventType:       draft.EventType,
		OccurredAt:      draft.OccurredAt,
		RecordedAt:      time.Now().UTC(),
		Source:          draft.Source,
		CausationID:     draft.CausationID,
		CorrelationID:   draft.CorrelationID,
		Payload:         draft.Payload,
		SchemaVersion:   draft.SchemaVersion,
		ProcessSeq:      seq,
		GlobalSeq:       seq,
		IdempotencyKey:  draft.IdempotencyKey,
	}
	if env.EventID == "" {
		env.EventID = "mock-event"
	}
	if env.SchemaVersion == 0 {
		env.SchemaVersion = domain.CurrentSchemaVersion
	}
	m.Appended = append(m.Appended, env)
	return env, nil
}

func (m *MockEventStore) Read(ctx context.Context, f domain.Filter) ([]domain.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	m.ReadCalls = append(m.ReadCalls, f)
	return m.ReadResult, nil
}

func (m *MockEventStore) ByEventID(ctx context.Context, eventID string) (domain.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ByIDErr != nil {
		return domain.Envelope{}, m.ByIDErr
	}
	for _, env := range m.Appended {
		if env.EventID == eventID {
			return env, nil
		}
	}
	return domain.Envelope{}, domain.ErrEventNotFound
}

func (m *MockEventStore) Count(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.Appended)), nil
}

func (m *MockEventStore) Close() error { return nil }

// MockProjectionStore is a mock implementation of domain.ProjectionStore.
// CommitErrs is consumed one error per Commit call, which lets tests inject
// a checkpoint conflict on a specific attempt.
type MockProjectionStore struct {
	mu          sync.Mutex
	Checkpoints map[string]domain.Checkpoint
	States      map[string]map[string]domain.ProjectionState
	CommitCalls int
	CommitErrs  []error
	LoadErr     error
	ResetCalls  []string
}

func NewMockProjectionStore() *MockProjectionStore {
	return &MockProjectionStore{
		Checkpoints: make(map[string]domain.Checkpoint),
		States:      make(map[string]map[string]domain.ProjectionState),
	}
}

func (m *MockProjectionStore) LoadCheckpoint(ctx context.Context, projection string) (domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return domain.Checkpoint{}, m.LoadErr
	}
	return m.Checkpoints[projection], nil
}

func (m *MockProjectionStore) LoadState(ctx context.Context, projection, partition string) (domain.ProjectionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return domain.ProjectionState{}, m.LoadErr
	}
	st, ok := m.States[projection][partition]
	if !ok {
		return domain.ProjectionState{}, domain.ErrStateNotFound
	}
	return st, nil
}

func (m *MockProjectionStore) LoadStates(ctx context.Context, projection string) ([]domain.ProjectionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	var out []domain.ProjectionState
	for _, st := range m.States[projection] {
		out = append(out, st)
	}
	return out, nil
}

func (m *MockProjectionStore) Commit(ctx context.Context, projection string, states []domain.ProjectionState, expected, next domain.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := m.CommitCalls
	m.CommitCalls++
	if call < len(m.CommitErrs) && m.CommitErrs[call] != nil {
		return m.CommitErrs[call]
	}
	if m.Checkpoints[projection] != expected {
		return domain.ErrCheckpointConflict
	}
	if m.States[projection] == nil {
		m.States[projection] = make(map[string]domain.ProjectionState)
	}
	for _, st := range states {
		m.States[projection][st.Partition] = st
	}
	m.Checkpoints[projection] = next
	return nil
}

func (m *MockProjectionStore) Reset(ctx context.Context, projection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetCalls = append(m.ResetCalls, projection)
	delete(m.Checkpoints, projection)
	delete(m.States, projection)
	return nil
}
