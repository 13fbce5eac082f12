package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/V4T54L/chronicle/internal/adapter/metrics"
	"github.com/V4T54L/chronicle/internal/domain"
)

const (
	defaultBatchSize    = 500
	defaultPollInterval = 1 * time.Second
)

// ErrReducerVersionMismatch is returned when a projection's committed
// checkpoint was built by a different reducer version. Incremental runs are
// refused until a rebuild replays the log under the current version.
var ErrReducerVersionMismatch = errors.New("reducer version mismatch, rebuild required")

// ErrUnknownProjection is returned for operations on an unregistered name.
var ErrUnknownProjection = errors.New("unknown projection")

// ProjectionHealth describes what a projection worker is doing.
type ProjectionHealth string

const (
	HealthRunning ProjectionHealth = "running"
	HealthIdle    ProjectionHealth = "idle"
	HealthStalled ProjectionHealth = "stalled"
	HealthFailed  ProjectionHealth = "failed"
)

// ProjectionStatus is a point-in-time snapshot of one projection's progress,
// served by the admin API.
type ProjectionStatus struct {
	Name           string           `json:"name"`
	ReducerVersion int              `json:"reducer_version"`
	Watermark      uint64           `json:"watermark"`
	Health         ProjectionHealth `json:"health"`
	LastError      string           `json:"last_error,omitempty"`
}

// EngineConfig tunes the projection engine.
type EngineConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

// RunProjectionsUseCase drives registered pure reducers over the ordered
// log. Each projection gets an independent consumer loop reading from its
// own committed watermark; a slow or failing projection never blocks the
// write path or any other projection. Commits happen only at batch
// boundaries, so a crash discards at most one uncommitted in-memory fold,
// and redoing it from the committed watermark reproduces the same result.
type RunProjectionsUseCase struct {
	events  domain.EventStore
	states  domain.ProjectionStore
	logger  *slog.Logger
	metrics *metrics.LedgerMetrics

	batchSize    int
	pollInterval time.Duration

	mu          sync.Mutex
	projections map[string]domain.Projection
	order       []string
	status      map[string]*ProjectionStatus
}

// NewRunProjectionsUseCase creates a projection engine over the given
// stores.
func NewRunProjectionsUseCase(events domain.EventStore, states domain.ProjectionStore, logger *slog.Logger, m *metrics.LedgerMetrics, cfg EngineConfig) *RunProjectionsUseCase {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &RunProjectionsUseCase{
		events:       events,
		states:       states,
		logger:       logger.With("component", "projection_engine"),
		metrics:      m,
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval,
		projections:  make(map[string]domain.Projection),
		status:       make(map[string]*ProjectionStatus),
	}
}

// Register adds a projection to the engine. Registration must happen before
// Run.
func (uc *RunProjectionsUseCase) Register(p domain.Projection) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	name := p.Name()
	if _, exists := uc.projections[name]; exists {
		return fmt.Errorf("projection %q already registered", name)
	}
	uc.projections[name] = p
	uc.order = append(uc.order, name)
	uc.status[name] = &ProjectionStatus{Name: name, ReducerVersion: p.Version(), Health: HealthIdle}
	return nil
}

// Run starts one consumer loop per registered projection and blocks until
// the context is cancelled and every loop has stopped. Cancellation is
// honored only between batches, never mid-batch.
func (uc *RunProjectionsUseCase) Run(ctx context.Context) {
	uc.mu.Lock()
	names := append([]string(nil), uc.order...)
	uc.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			uc.runLoop(ctx, name)
		}(name)
	}
	wg.Wait()
}

func (uc *RunProjectionsUseCase) runLoop(ctx context.Context, name string) {
	uc.logger.Info("projection worker started", "projection", name)

	ticker := time.NewTicker(uc.pollInterval)
	defer ticker.Stop()

	for {
		// Drain until caught up, then wait for the next tick.
		for {
			processed, err := uc.RunOnce(ctx, name)
			if err != nil || processed == 0 {
				break
			}
			if ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			uc.logger.Info("projection worker stopped", "projection", name)
			return
		case <-ticker.C:
		}
	}
}

// RunOnce reads the next contiguous batch past the committed watermark,
// folds it, and commits atomically. It returns the number of events folded
// and committed.
func (uc *RunProjectionsUseCase) RunOnce(ctx context.Context, name string) (int, error) {
	uc.mu.Lock()
	p, ok := uc.projections[name]
	uc.mu.Unlock()
	if !ok {
		return 0, ErrUnknownProjection
	}

	cp, err := uc.states.LoadCheckpoint(ctx, name)
	if err != nil {
		uc.setStatus(name, cp.Watermark, HealthStalled, err)
		return 0, err
	}

	// A checkpoint from a different reducer version means the materialized
	// state cannot be trusted for incremental application.
	if cp.Watermark > 0 && cp.ReducerVersion != p.Version() {
		uc.setStatus(name, cp.Watermark, HealthStalled, ErrReducerVersionMismatch)
		uc.logger.Warn("projection stalled on reducer version mismatch",
			"projection", name, "checkpoint_version", cp.ReducerVersion, "reducer_version", p.Version())
		return 0, ErrReducerVersionMismatch
	}

	batch, err := uc.events.Read(ctx, domain.Filter{
		FromSeq: cp.Watermark + 1,
		ToSeq:   cp.Watermark + 1 + uint64(uc.batchSize),
	})
	if err != nil {
		uc.setStatus(name, cp.Watermark, HealthStalled, err)
		return 0, err
	}
	if len(batch) == 0 {
		uc.setStatus(name, cp.Watermark, HealthIdle, nil)
		uc.countBatch(name, "empty")
		return 0, nil
	}

	touched, err := uc.fold(ctx, p, batch)
	if err != nil {
		uc.setStatus(name, cp.Watermark, HealthFailed, err)
		uc.countBatch(name, "diverged")
		uc.logger.Error("projection diverged", "projection", name, "error", err)
		return 0, err
	}

	next := domain.Checkpoint{
		Watermark:      batch[len(batch)-1].GlobalSeq,
		ReducerVersion: p.Version(),
	}
	if err := uc.states.Commit(ctx, name, touched, cp, next); err != nil {
		if errors.Is(err, domain.ErrCheckpointConflict) {
			// Another worker advanced this projection; the next run folds
			// from the fresher checkpoint.
			uc.countBatch(name, "conflict")
			return 0, err
		}
		uc.setStatus(name, cp.Watermark, HealthStalled, err)
		uc.countBatch(name, "error")
		return 0, err
	}

	uc.setStatus(name, next.Watermark, HealthRunning, nil)
	uc.countBatch(name, "committed")
	uc.observeLag(ctx, name, next.Watermark)

	uc.logger.Debug("projection batch committed",
		"projection", name, "events", len(batch), "watermark", next.Watermark)
	return len(batch), nil
}

// fold applies the reducer over the batch, partition by partition, and
// returns the encoded states touched.
func (uc *RunProjectionsUseCase) fold(ctx context.Context, p domain.Projection, batch []domain.Envelope) ([]domain.ProjectionState, error) {
	keyer, partitioned := p.(domain.PartitionKeyer)

	loaded := make(map[string]any)
	var order []string

	for _, env := range batch {
		partition := ""
		if partitioned {
			partition = keyer.Partition(env)
		}

		state, ok := loaded[partition]
		if !ok {
			var err error
			state, err = uc.loadState(ctx, p, partition)
			if err != nil {
				return nil, err
			}
			order = append(order, partition)
		}

		next, err := safeReduce(p, state, env)
		if err != nil {
			return nil, &domain.ProjectionDivergenceError{Projection: p.Name(), GlobalSeq: env.GlobalSeq, Err: err}
		}
		loaded[partition] = next
	}

	out := make([]domain.ProjectionState, 0, len(order))
	for _, partition := range order {
		data, err := json.Marshal(loaded[partition])
		if err != nil {
			return nil, &domain.ProjectionDivergenceError{Projection: p.Name(), GlobalSeq: batch[len(batch)-1].GlobalSeq, Err: err}
		}
		out = append(out, domain.ProjectionState{Projection: p.Name(), Partition: partition, State: data})
	}
	return out, nil
}

func (uc *RunProjectionsUseCase) loadState(ctx context.Context, p domain.Projection, partition string) (any, error) {
	st, err := uc.states.LoadState(ctx, p.Name(), partition)
	if errors.Is(err, domain.ErrStateNotFound) {
		return p.InitialState(), nil
	}
	if err != nil {
		return nil, err
	}
	return p.DecodeState(st.State)
}

// safeReduce shields the engine from reducer panics, converting them into
// divergence errors.
func safeReduce(p domain.Projection, state any, env domain.Envelope) (next any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reducer panic: %v", r)
		}
	}()
	return p.Reduce(state, env)
}

// Rebuild discards a projection's state and checkpoint so the next run
// replays from the beginning of the log. Replay goes through the normal
// batch loop; there is no special replay mode.
func (uc *RunProjectionsUseCase) Rebuild(ctx context.Context, name string) error {
	uc.mu.Lock()
	_, ok := uc.projections[name]
	uc.mu.Unlock()
	if !ok {
		return ErrUnknownProjection
	}

	if err := uc.states.Reset(ctx, name); err != nil {
		return err
	}
	uc.setStatus(name, 0, HealthIdle, nil)
	if uc.metrics != nil {
		uc.metrics.ProjectionRebuilds.WithLabelValues(name).Inc()
	}
	uc.logger.Info("projection rebuild requested", "projection", name)
	return nil
}

// Status returns a snapshot per registered projection, in registration
// order.
func (uc *RunProjectionsUseCase) Status() []ProjectionStatus {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	out := make([]ProjectionStatus, 0, len(uc.order))
	for _, name := range uc.order {
		out = append(out, *uc.status[name])
	}
	return out
}

func (uc *RunProjectionsUseCase) setStatus(name string, watermark uint64, health ProjectionHealth, err error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	st := uc.status[name]
	if st == nil {
		return
	}
	st.Watermark = watermark
	st.Health = health
	if err != nil {
		st.LastError = err.Error()
	} else {
		st.LastError = ""
	}
	if uc.metrics != nil {
		uc.metrics.ProjectionWatermark.WithLabelValues(name).Set(float64(watermark))
	}
}

func (uc *RunProjectionsUseCase) countBatch(name, status string) {
	if uc.metrics != nil {
		uc.metrics.ProjectionBatches.WithLabelValues(name, status).Inc()
	}
}

func (uc *RunProjectionsUseCase) observeLag(ctx context.Context, name string, watermark uint64) {
	if uc.metrics == nil {
		return
	}
	total, err := uc.events.Count(ctx)
	if err != nil {
		return
	}
	lag := float64(0)
	if total > watermark {
		lag = float64(total - watermark)
	}
	uc.metrics.ProjectionLag.WithLabelValues(name).Set(lag)
}
