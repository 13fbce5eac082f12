package domain

import (
	"context"
	"time"
)

// Filter selects committed envelopes for a read. Zero values mean "no
// constraint". Results are always ordered by global_seq ascending; the
// timestamps are filter inputs only, never an ordering authority.
type Filter struct {
	ProcessID string
	EventType EventType

	// FromSeq/ToSeq bound global_seq as a half-open range [FromSeq, ToSeq).
	FromSeq uint64
	ToSeq   uint64

	// Since/Until bound recorded_at as a half-open window [Since, Until).
	Since time.Time
	Until time.Time

	Limit int
}

// Matches reports whether a committed envelope passes the filter. Limit is
// a read concern and is not evaluated here.
func (f Filter) Matches(env Envelope) bool {
	if f.ProcessID != "" && env.ProcessID != f.ProcessID {
		return false
	}
	if f.EventType != "" && env.EventType != f.EventType {
		return false
	}
	if f.FromSeq != 0 && env.GlobalSeq < f.FromSeq {
		return false
	}
	if f.ToSeq != 0 && env.GlobalSeq >= f.ToSeq {
		return false
	}
	if !f.Since.IsZero() && env.RecordedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !env.RecordedAt.Before(f.Until) {
		return false
	}
	return true
}

// EventStore is the append-only ledger of committed envelopes.
// This abstracts away the specific backends (in-memory, PostgreSQL,
// JSON-lines segments).
type EventStore interface {
	// Append validates a draft, assigns global_seq/process_seq, stamps
	// recorded_at, persists, and returns the committed envelope. A draft
	// whose idempotency_key matches a committed event returns that event
	// unchanged.
	Append(ctx context.Context, draft Draft) (Envelope, error)

	// Read returns committed envelopes matching the filter in global_seq
	// order.
	Read(ctx context.Context, f Filter) ([]Envelope, error)

	// ByEventID resolves a single committed envelope; ErrEventNotFound if
	// no such event was ever committed.
	ByEventID(ctx context.Context, eventID string) (Envelope, error)

	// Count returns the number of committed events, which equals the
	// highest assigned global_seq.
	Count(ctx context.Context) (uint64, error)

	Close() error
}

// APIKeyRepository validates producer API keys at the ingest boundary.
type APIKeyRepository interface {
	// IsValid checks if the provided API key is valid and active.
	// Implementations should handle caching to reduce database load.
	IsValid(ctx context.Context, key string) (bool, error)
}

// Checkpoint is a projection's committed progress through the log.
type Checkpoint struct {
	Watermark      uint64 `json:"watermark"`
	ReducerVersion int    `json:"reducer_version"`
}

// ProjectionState is one materialized view record, keyed by
// (projection, partition). Unpartitioned projections use the empty
// partition key.
type ProjectionState struct {
	Projection string `json:"projection"`
	Partition  string `json:"partition"`
	State      []byte `json:"state"`
}

// ProjectionStore holds materialized state and the checkpoint for each
// projection. Commit is the single coordination point for concurrent engine
// workers: it applies all states and the new checkpoint atomically, guarded
// by compare-and-set on the expected checkpoint.
type ProjectionStore interface {
	LoadCheckpoint(ctx context.Context, projection string) (Checkpoint, error)

	// LoadState returns one partition's state; ErrStateNotFound before the
	// first commit for that key.
	LoadState(ctx context.Context, projection, partition string) (ProjectionState, error)

	// LoadStates returns every partition state committed for a projection.
	LoadStates(ctx context.Context, projection string) ([]ProjectionState, error)

	// Commit atomically writes the given states and advances the
	// checkpoint. If the stored checkpoint no longer equals expected, no
	// write happens and ErrCheckpointConflict is returned.
	Commit(ctx context.Context, projection string, states []ProjectionState, expected, next Checkpoint) error

	// Reset discards all state and the checkpoint for a projection. The
	// next run replays from watermark 0.
	Reset(ctx context.Context, projection string) error
}
