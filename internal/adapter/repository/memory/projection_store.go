package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/V4T54L/chronicle/internal/domain"
)

// ProjectionStore is an in-memory implementation of domain.ProjectionStore.
type ProjectionStore struct {
	mu          sync.RWMutex
	checkpoints map[string]domain.Checkpoint
	states      map[string]map[string][]byte
}

// NewProjectionStore creates an empty in-memory projection store.
func NewProjectionStore() *ProjectionStore {
	return &ProjectionStore{
		checkpoints: make(map[string]domain.Checkpoint),
		states:      make(map[string]map[string][]byte),
	}
}

// LoadCheckpoint implements domain.ProjectionStore. An unknown projection
// has the zero checkpoint: watermark 0, reducer version 0.
func (s *ProjectionStore) LoadCheckpoint(ctx context.Context, projection string) (domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[projection], nil
}

// LoadState implements domain.ProjectionStore.
func (s *ProjectionStore) LoadState(ctx context.Context, projection, partition string) (domain.ProjectionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.states[projection][partition]
	if !ok {
		return domain.ProjectionState{}, domain.ErrStateNotFound
	}
	return domain.ProjectionState{Projection: projection, Partition: partition, State: bytes.Clone(data)}, nil
}

// LoadStates implements domain.ProjectionStore. Partitions are returned in
// key order so reads are deterministic.
func (s *ProjectionStore) LoadStates(ctx context.Context, projection string) ([]domain.ProjectionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := s.states[projection]
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]domain.ProjectionState, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.ProjectionState{Projection: projection, Partition: k, State: bytes.Clone(parts[k])})
	}
	return out, nil
}

// Commit implements domain.ProjectionStore with compare-and-set on the
// checkpoint.
func (s *ProjectionStore) Commit(ctx context.Context, projection string, states []domain.ProjectionState, expected, next domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkpoints[projection] != expected {
		return domain.ErrCheckpointConflict
	}

	if s.states[projection] == nil {
		s.states[projection] = make(map[string][]byte)
	}
	for _, st := range states {
		s.states[projection][st.Partition] = bytes.Clone(st.State)
	}
	s.checkpoints[projection] = next
	return nil
}

// Reset implements domain.ProjectionStore.
func (s *ProjectionStore) Reset(ctx context.Context, projection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, projection)
	delete(s.states, projection)
	return nil
}
