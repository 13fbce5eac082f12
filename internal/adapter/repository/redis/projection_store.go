package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/chronicle/internal/domain"
)

const (
	checkpointKeyPrefix = "chronicle:checkpoint:"
	stateKeyPrefix      = "chronicle:state:"
)

// ProjectionStore implements domain.ProjectionStore on Redis. Each
// projection owns one checkpoint hash and one state hash (field per
// partition). Commits run under WATCH on the checkpoint key, so a
// concurrent commit aborts the transaction and surfaces as a checkpoint
// conflict.
type ProjectionStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewProjectionStore creates a Redis-backed projection store.
func NewProjectionStore(client *redis.Client, logger *slog.Logger) *ProjectionStore {
	return &ProjectionStore{
		client: client,
		logger: logger.With("component", "redis_projection_store"),
	}
}

func checkpointKey(projection string) string { return checkpointKeyPrefix + projection }
func stateKey(projection string) string      { return stateKeyPrefix + projection }

// LoadCheckpoint implements domain.ProjectionStore.
func (s *ProjectionStore) LoadCheckpoint(ctx context.Context, projection string) (domain.Checkpoint, error) {
	vals, err := s.client.HGetAll(ctx, checkpointKey(projection)).Result()
	if err != nil {
		return domain.Checkpoint{}, wrapErr(err)
	}
	return parseCheckpoint(vals)
}

func parseCheckpoint(vals map[string]string) (domain.Checkpoint, error) {
	if len(vals) == 0 {
		return domain.Checkpoint{}, nil
	}
	watermark, err := strconv.ParseUint(vals["watermark"], 10, 64)
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("corrupt checkpoint watermark: %w", err)
	}
	version, err := strconv.Atoi(vals["reducer_version"])
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("corrupt checkpoint reducer_version: %w", err)
	}
	return domain.Checkpoint{Watermark: watermark, ReducerVersion: version}, nil
}

// LoadState implements domain.ProjectionStore.
func (s *ProjectionStore) LoadState(ctx context.Context, projection, partition string) (domain.ProjectionState, error) {
	data, err := s.client.HGet(ctx, stateKey(projection), partition).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ProjectionState{}, domain.ErrStateNotFound
	}
	if err != nil {
		return domain.ProjectionState{}, wrapErr(err)
	}
	return domain.ProjectionState{Projection: projection, Partition: partition, State: data}, nil
}

// LoadStates implements domain.ProjectionStore.
func (s *ProjectionStore) LoadStates(ctx context.Context, projection string) ([]domain.ProjectionState, error) {
	vals, err := s.client.HGetAll(ctx, stateKey(projection)).Result()
	if err != nil {
		return nil, wrapErr(err)
	}

	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]domain.ProjectionState, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.ProjectionState{Projection: projection, Partition: k, State: []byte(vals[k])})
	}
	return out, nil
}

// Commit implements domain.ProjectionStore.
func (s *ProjectionStore) Commit(ctx context.Context, projection string, states []domain.ProjectionState, expected, next domain.Checkpoint) error {
	cpKey := checkpointKey(projection)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, cpKey).Result()
		if err != nil {
			return err
		}
		current, err := parseCheckpoint(vals)
		if err != nil {
			return err
		}
		if current != expected {
			return domain.ErrCheckpointConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, st := range states {
				pipe.HSet(ctx, stateKey(projection), st.Partition, st.State)
			}
			pipe.HSet(ctx, cpKey,
				"watermark", strconv.FormatUint(next.Watermark, 10),
				"reducer_version", strconv.Itoa(next.ReducerVersion))
			return nil
		})
		return err
	}, cpKey)

	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrCheckpointConflict
	}
	if err != nil {
		if errors.Is(err, domain.ErrCheckpointConflict) {
			return err
		}
		return wrapErr(err)
	}
	return nil
}

// Reset implements domain.ProjectionStore.
func (s *ProjectionStore) Reset(ctx context.Context, projection string) error {
	if err := s.client.Del(ctx, checkpointKey(projection), stateKey(projection)).Err(); err != nil {
		return wrapErr(err)
	}
	s.logger.Info("projection reset", "projection", projection)
	return nil
}

func wrapErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}
