package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/V4T54L/chronicle/internal/domain"
)

// ProjectionStore implements domain.ProjectionStore on PostgreSQL. The
// compare-and-set guard is a conditional UPDATE on the checkpoint row; state
// rows and the checkpoint always move in one transaction.
type ProjectionStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewProjectionStore creates a PostgreSQL-backed projection store.
func NewProjectionStore(db *sql.DB, logger *slog.Logger) *ProjectionStore {
	return &ProjectionStore{
		db:     db,
		logger: logger.With("component", "postgres_projection_store"),
	}
}

// EnsureSchema creates the projection tables if they do not exist.
func (s *ProjectionStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projection_checkpoints (
			projection      TEXT PRIMARY KEY,
			watermark       BIGINT NOT NULL,
			reducer_version INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS projection_states (
			projection    TEXT NOT NULL,
			partition_key TEXT NOT NULL,
			state         JSONB NOT NULL,
			PRIMARY KEY (projection, partition_key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure projection schema: %w", err)
		}
	}
	return nil
}

// LoadCheckpoint implements domain.ProjectionStore.
func (s *ProjectionStore) LoadCheckpoint(ctx context.Context, projection string) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT watermark, reducer_version FROM projection_checkpoints WHERE projection = $1`,
		projection).Scan(&cp.Watermark, &cp.ReducerVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Checkpoint{}, nil
	}
	if err != nil {
		return domain.Checkpoint{}, mapError(err)
	}
	return cp, nil
}

// LoadState implements domain.ProjectionStore.
func (s *ProjectionStore) LoadState(ctx context.Context, projection, partition string) (domain.ProjectionState, error) {
	st := domain.ProjectionState{Projection: projection, Partition: partition}
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM projection_states WHERE projection = $1 AND partition_key = $2`,
		projection, partition).Scan(&st.State)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProjectionState{}, domain.ErrStateNotFound
	}
	if err != nil {
		return domain.ProjectionState{}, mapError(err)
	}
	return st, nil
}

// LoadStates implements domain.ProjectionStore.
func (s *ProjectionStore) LoadStates(ctx context.Context, projection string) ([]domain.ProjectionState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT partition_key, state FROM projection_states WHERE projection = $1 ORDER BY partition_key`,
		projection)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.ProjectionState
	for rows.Next() {
		st := domain.ProjectionState{Projection: projection}
		if err := rows.Scan(&st.Partition, &st.State); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Commit implements domain.ProjectionStore.
func (s *ProjectionStore) Commit(ctx context.Context, projection string, states []domain.ProjectionState, expected, next domain.Checkpoint) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer txn.Rollback()

	if expected == (domain.Checkpoint{}) {
		// First commit: the row may not exist yet, or may exist at the zero
		// checkpoint after a reset.
		res, err := txn.ExecContext(ctx, `
			INSERT INTO projection_checkpoints (projection, watermark, reducer_version)
			VALUES ($1, $2, $3)
			ON CONFLICT (projection) DO UPDATE SET watermark = $2, reducer_version = $3
			WHERE projection_checkpoints.watermark = 0`,
			projection, next.Watermark, next.ReducerVersion)
		if err != nil {
			return mapError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrCheckpointConflict
		}
	} else {
		res, err := txn.ExecContext(ctx, `
			UPDATE projection_checkpoints
			SET watermark = $3, reducer_version = $4
			WHERE projection = $1 AND watermark = $2 AND reducer_version = $5`,
			projection, expected.Watermark, next.Watermark, next.ReducerVersion, expected.ReducerVersion)
		if err != nil {
			return mapError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrCheckpointConflict
		}
	}

	for _, st := range states {
		_, err := txn.ExecContext(ctx, `
			INSERT INTO projection_states (projection, partition_key, state)
			VALUES ($1, $2, $3)
			ON CONFLICT (projection, partition_key) DO UPDATE SET state = EXCLUDED.state`,
			projection, st.Partition, []byte(st.State))
		if err != nil {
			return mapError(err)
		}
	}

	if err := txn.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

// Reset implements domain.ProjectionStore.
func (s *ProjectionStore) Reset(ctx context.Context, projection string) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer txn.Rollback()

	if _, err := txn.ExecContext(ctx, `DELETE FROM projection_states WHERE projection = $1`, projection); err != nil {
		return mapError(err)
	}
	if _, err := txn.ExecContext(ctx, `DELETE FROM projection_checkpoints WHERE projection = $1`, projection); err != nil {
		return mapError(err)
	}
	if err := txn.Commit(); err != nil {
		return mapError(err)
	}
	s.logger.Info("projection reset", "projection", projection)
	return nil
}
