package domain

// Projection is a pure reducer deriving a materialized view from the
// ordered event log. Pure means no I/O and no external calls: the output of
// Reduce is determined solely by (state, envelope), which is what makes
// replay from any committed watermark reproduce identical results.
type Projection interface {
	Name() string

	// Version tags the reducer logic. Materialized state built under a
	// different version is not trusted for incremental application; the
	// engine refuses to run until a rebuild.
	Version() int

	// InitialState is the fold seed for an empty partition.
	InitialState() any

	// DecodeState reconstructs a previously committed state from its JSON
	// encoding so incremental runs fold onto typed state.
	DecodeState(data []byte) (any, error)

	// Reduce folds one envelope into the state and returns the new state.
	Reduce(state any, env Envelope) (any, error)
}

// PartitionKeyer is optionally implemented by projections that shard their
// materialized state. The engine then keeps one ProjectionState per
// returned key, all advancing under the projection's single checkpoint.
type PartitionKeyer interface {
	Partition(env Envelope) string
}
