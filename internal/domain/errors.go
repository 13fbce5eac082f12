package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for transient failure classes. Both are safe to retry;
// everything else in the taxonomy requires caller correction or operator
// attention.
var (
	// ErrSequencingConflict signals a transient race on sequence
	// allocation. The append did not happen; retry with backoff.
	ErrSequencingConflict = errors.New("sequencing conflict")

	// ErrStoreUnavailable signals a transient infrastructure fault.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrEventNotFound is returned by lookups for unknown event ids.
	ErrEventNotFound = errors.New("event not found")

	// ErrStateNotFound is returned by projection state lookups before the
	// first commit for a key.
	ErrStateNotFound = errors.New("projection state not found")

	// ErrCheckpointConflict signals a lost compare-and-set race on a
	// projection checkpoint. The engine reloads and retries.
	ErrCheckpointConflict = errors.New("projection checkpoint conflict")
)

// ValidationError rejects malformed or causally-invalid input. It is never
// retried automatically: resubmitting without correction repeats the
// failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// DuplicateEventError rejects an append whose event_id is already committed
// with different content or a different idempotency key. Ambiguous
// duplicates are never silently merged.
type DuplicateEventError struct {
	EventID string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("duplicate event id %q with conflicting content", e.EventID)
}

// ProjectionDivergenceError wraps a reducer failure during replay. Fatal to
// that projection only; resolved by fixing the reducer and rebuilding.
type ProjectionDivergenceError struct {
	Projection string
	GlobalSeq  uint64
	Err        error
}

func (e *ProjectionDivergenceError) Error() string {
	return fmt.Sprintf("projection %q diverged at global_seq %d: %v", e.Projection, e.GlobalSeq, e.Err)
}

func (e *ProjectionDivergenceError) Unwrap() error { return e.Err }

// IsRetryable reports whether an append failure is transient and safe to
// retry with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSequencingConflict) || errors.Is(err, ErrStoreUnavailable)
}
