package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/V4T54L/chronicle/internal/domain"
)

// EventStore implements domain.EventStore on PostgreSQL. Gapless sequencing
// comes from counter rows updated inside the append transaction: the
// single-row ledger_sequence update is the store-wide critical section, and
// the per-process row in process_sequence serializes appends to one
// process_id without blocking other processes. A rolled-back transaction
// rolls the counters back with it, so aborted appends never leave gaps.
type EventStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewEventStore creates a PostgreSQL-backed ledger.
func NewEventStore(db *sql.DB, logger *slog.Logger) *EventStore {
	return &EventStore{
		db:     db,
		logger: logger.With("component", "postgres_event_store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the ledger tables and indexes if they do not exist.
func (s *EventStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			global_seq       BIGINT PRIMARY KEY,
			event_id         TEXT NOT NULL UNIQUE,
			process_id       TEXT NOT NULL,
			parent_process_id TEXT,
			event_type       TEXT NOT NULL,
			occurred_at      TIMESTAMPTZ NOT NULL,
			recorded_at      TIMESTAMPTZ NOT NULL,
			source           JSONB NOT NULL,
			causation_id     TEXT,
			correlation_id   TEXT,
			payload          JSONB NOT NULL,
			schema_version   INT NOT NULL,
			process_seq      BIGINT NOT NULL,
			idempotency_key  TEXT,
			UNIQUE (process_id, process_seq)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_idempotency_key
			ON events (idempotency_key) WHERE idempotency_key IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_events_event_type ON events (event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_recorded_at ON events (recorded_at)`,
		`CREATE TABLE IF NOT EXISTS ledger_sequence (
			id       INT PRIMARY KEY CHECK (id = 1),
			next_seq BIGINT NOT NULL
		)`,
		`INSERT INTO ledger_sequence (id, next_seq) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
		`CREATE TABLE IF NOT EXISTS process_sequence (
			process_id TEXT PRIMARY KEY,
			next_seq   BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure ledger schema: %w", err)
		}
	}
	return nil
}

// Append implements domain.EventStore.
func (s *EventStore) Append(ctx context.Context, draft domain.Draft) (domain.Envelope, error) {
	if err := draft.Validate(); err != nil {
		return domain.Envelope{}, err
	}
	if draft.EventID == "" {
		draft.EventID = uuid.NewString()
	}

	env, err := s.appendTx(ctx, draft)
	if err != nil {
		return domain.Envelope{}, mapError(err)
	}
	return env, nil
}

func (s *EventStore) appendTx(ctx context.Context, draft domain.Draft) (domain.Envelope, error) {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Envelope{}, err
	}
	defer txn.Rollback() // Rollback is a no-op if Commit() is called

	if draft.IdempotencyKey != "" {
		existing, err := s.selectOne(ctx, txn, `idempotency_key = $1`, draft.IdempotencyKey)
		if err == nil {
			return existing, txn.Commit()
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Envelope{}, err
		}
	}

	existing, err := s.selectOne(ctx, txn, `event_id = $1`, draft.EventID)
	if err == nil {
		if draft.SameFact(existing) {
			return existing, txn.Commit()
		}
		return domain.Envelope{}, &domain.DuplicateEventError{EventID: draft.EventID}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Envelope{}, err
	}

	if draft.CausationID != "" {
		var exists bool
		err := txn.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM events WHERE event_id = $1)`, draft.CausationID).Scan(&exists)
		if err != nil {
			return domain.Envelope{}, err
		}
		if !exists {
			return domain.Envelope{}, &domain.ValidationError{
				Field:  "causation_id",
				Reason: "references an event that is not committed",
			}
		}
	}

	if draft.ParentProcessID != "" {
		var exists bool
		err := txn.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM events WHERE process_id = $1)`, draft.ParentProcessID).Scan(&exists)
		if err != nil {
			return domain.Envelope{}, err
		}
		if !exists {
			return domain.Envelope{}, &domain.ValidationError{
				Field:  "parent_process_id",
				Reason: "parent process has no committed events",
			}
		}
	}

	// Per-process counter first, store-wide counter second. Consistent lock
	// order across all appenders, and the store-wide row is held for the
	// shortest possible time.
	var processSeq uint64
	err = txn.QueryRowContext(ctx, `
		INSERT INTO process_sequence (process_id, next_seq) VALUES ($1, 1)
		ON CONFLICT (process_id) DO UPDATE SET next_seq = process_sequence.next_seq + 1
		RETURNING next_seq`, draft.ProcessID).Scan(&processSeq)
	if err != nil {
		return domain.Envelope{}, err
	}

	var globalSeq uint64
	err = txn.QueryRowContext(ctx,
		`UPDATE ledger_sequence SET next_seq = next_seq + 1 WHERE id = 1 RETURNING next_seq`).Scan(&globalSeq)
	if err != nil {
		return domain.Envelope{}, err
	}

	env := draft.Finalize(globalSeq, processSeq, s.now())

	source, err := json.Marshal(env.Source)
	if err != nil {
		return domain.Envelope{}, err
	}

	_, err = txn.ExecContext(ctx, `
		INSERT INTO events (
			global_seq, event_id, process_id, parent_process_id, event_type,
			occurred_at, recorded_at, source, causation_id, correlation_id,
			payload, schema_version, process_seq, idempotency_key
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		env.GlobalSeq, env.EventID, env.ProcessID, nullable(env.ParentProcessID),
		string(env.EventType), env.OccurredAt, env.RecordedAt, source,
		nullable(env.CausationID), nullable(env.CorrelationID),
		[]byte(env.Payload), env.SchemaVersion, env.ProcessSeq,
		nullable(env.IdempotencyKey))
	if err != nil {
		return domain.Envelope{}, err
	}

	if err := txn.Commit(); err != nil {
		return domain.Envelope{}, err
	}
	return env, nil
}

const selectColumns = `global_seq, event_id, process_id, parent_process_id, event_type,
	occurred_at, recorded_at, source, causation_id, correlation_id,
	payload, schema_version, process_seq, idempotency_key`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *EventStore) selectOne(ctx context.Context, txn *sql.Tx, where string, arg any) (domain.Envelope, error) {
	row := txn.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM events WHERE `+where, arg)
	return scanEnvelope(row)
}

func scanEnvelope(row rowScanner) (domain.Envelope, error) {
	var (
		env                           domain.Envelope
		parentID, causationID         sql.NullString
		correlationID, idempotencyKey sql.NullString
		source, payload               []byte
		eventType                     string
	)
	err := row.Scan(&env.GlobalSeq, &env.EventID, &env.ProcessID, &parentID,
		&eventType, &env.OccurredAt, &env.RecordedAt, &source, &causationID,
		&correlationID, &payload, &env.SchemaVersion, &env.ProcessSeq,
		&idempotencyKey)
	if err != nil {
		return domain.Envelope{}, err
	}
	if err := json.Unmarshal(source, &env.Source); err != nil {
		return domain.Envelope{}, fmt.Errorf("corrupt source column for event %s: %w", env.EventID, err)
	}
	env.EventType = domain.EventType(eventType)
	env.ParentProcessID = parentID.String
	env.CausationID = causationID.String
	env.CorrelationID = correlationID.String
	env.IdempotencyKey = idempotencyKey.String
	env.Payload = json.RawMessage(payload)
	return env, nil
}

// Read implements domain.EventStore.
func (s *EventStore) Read(ctx context.Context, f domain.Filter) ([]domain.Envelope, error) {
	query := `SELECT ` + selectColumns + ` FROM events WHERE 1=1`
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		query += fmt.Sprintf(" AND "+cond, len(args))
	}

	if f.ProcessID != "" {
		add("process_id = $%d", f.ProcessID)
	}
	if f.EventType != "" {
		add("event_type = $%d", string(f.EventType))
	}
	if f.FromSeq != 0 {
		add("global_seq >= $%d", f.FromSeq)
	}
	if f.ToSeq != 0 {
		add("global_seq < $%d", f.ToSeq)
	}
	if !f.Since.IsZero() {
		add("recorded_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("recorded_at < $%d", f.Until)
	}
	query += " ORDER BY global_seq ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

// ByEventID implements domain.EventStore.
func (s *EventStore) ByEventID(ctx context.Context, eventID string) (domain.Envelope, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM events WHERE event_id = $1`, eventID)
	env, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Envelope{}, domain.ErrEventNotFound
	}
	if err != nil {
		return domain.Envelope{}, mapError(err)
	}
	return env, nil
}

// Count implements domain.EventStore.
func (s *EventStore) Count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.db.QueryRowContext(ctx, `SELECT next_seq FROM ledger_sequence WHERE id = 1`).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func (s *EventStore) Close() error { return s.db.Close() }

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// mapError translates driver failures into the ledger taxonomy. Domain
// errors produced inside the transaction pass through untouched.
func mapError(err error) error {
	var vErr *domain.ValidationError
	var dErr *domain.DuplicateEventError
	if errors.As(err, &vErr) || errors.As(err, &dErr) || errors.Is(err, domain.ErrEventNotFound) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %v", domain.ErrSequencingConflict, err)
		case "23505": // unique_violation: a concurrent appender won the race
			return fmt.Errorf("%w: %v", domain.ErrSequencingConflict, err)
		}
		switch pqErr.Code.Class() {
		case "08", "53", "57": // connection, resources, operator intervention
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		return err
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}
