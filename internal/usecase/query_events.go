package usecase

import (
	"context"

	"github.com/V4T54L/chronicle/internal/domain"
)

// QueryEventsUseCase is the read-only access path: materialized views from
// the projection store and raw ledger ranges for operational and audit use.
// It never accepts writes; everything mutating goes through RecordEvent or
// the projection engine.
type QueryEventsUseCase struct {
	events domain.EventStore
	states domain.ProjectionStore
}

// NewQueryEventsUseCase creates a new QueryEventsUseCase.
func NewQueryEventsUseCase(events domain.EventStore, states domain.ProjectionStore) *QueryEventsUseCase {
	return &QueryEventsUseCase{events: events, states: states}
}

// Events returns committed envelopes matching the filter in global_seq
// order.
func (uc *QueryEventsUseCase) Events(ctx context.Context, f domain.Filter) ([]domain.Envelope, error) {
	return uc.events.Read(ctx, f)
}

// EventByID resolves one committed envelope.
func (uc *QueryEventsUseCase) EventByID(ctx context.Context, eventID string) (domain.Envelope, error) {
	return uc.events.ByEventID(ctx, eventID)
}

// Count returns the number of committed events.
func (uc *QueryEventsUseCase) Count(ctx context.Context) (uint64, error) {
	return uc.events.Count(ctx)
}

// View resolves one partition of a projection's materialized state.
func (uc *QueryEventsUseCase) View(ctx context.Context, projection, partition string) (domain.ProjectionState, error) {
	return uc.states.LoadState(ctx, projection, partition)
}

// Views returns every committed partition of a projection, with its
// checkpoint.
func (uc *QueryEventsUseCase) Views(ctx context.Context, projection string) ([]domain.ProjectionState, domain.Checkpoint, error) {
	cp, err := uc.states.LoadCheckpoint(ctx, projection)
	if err != nil {
		return nil, domain.Checkpoint{}, err
	}
	states, err := uc.states.LoadStates(ctx, projection)
	if err != nil {
		return nil, domain.Checkpoint{}, err
	}
	return states, cp, nil
}
