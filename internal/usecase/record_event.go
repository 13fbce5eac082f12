package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/V4T54L/chronicle/internal/adapter/metrics"
	"github.com/V4T54L/chronicle/internal/domain"
)

// RecordEventUseCase is the write-only ingestion facade in front of the
// event store. It exposes exactly one operation and triggers no synchronous
// side effects: downstream consumers pull from the ledger on their own
// schedule, so nothing can slow the write path.
type RecordEventUseCase struct {
	store   domain.EventStore
	metrics *metrics.LedgerMetrics
	logger  *slog.Logger
}

// NewRecordEventUseCase creates a new RecordEventUseCase.
func NewRecordEventUseCase(store domain.EventStore, m *metrics.LedgerMetrics, logger *slog.Logger) *RecordEventUseCase {
	return &RecordEventUseCase{
		store:   store,
		metrics: m,
		logger:  logger,
	}
}

// Record validates a draft and appends it to the ledger, returning the
// committed envelope.
func (uc *RecordEventUseCase) Record(ctx context.Context, draft domain.Draft) (domain.Envelope, error) {
	start := time.Now().UTC()

	env, err := uc.store.Append(ctx, draft)
	if err != nil {
		uc.countFailure(err)
		uc.logger.Debug("append rejected", "process_id", draft.ProcessID, "event_type", draft.EventType, "error", err)
		return domain.Envelope{}, err
	}

	if uc.metrics != nil {
		// An envelope recorded before this call started is an idempotent
		// replay of an earlier commit, not a new fact.
		if env.RecordedAt.Before(start) {
			uc.metrics.AppendsTotal.WithLabelValues("idempotent_replay").Inc()
		} else {
			uc.metrics.AppendsTotal.WithLabelValues("committed").Inc()
			uc.metrics.PayloadBytesTotal.Add(float64(len(env.Payload)))
		}
	}

	uc.logger.Debug("event recorded",
		"event_id", env.EventID,
		"process_id", env.ProcessID,
		"event_type", env.EventType,
		"global_seq", env.GlobalSeq,
		"process_seq", env.ProcessSeq,
	)
	return env, nil
}

func (uc *RecordEventUseCase) countFailure(err error) {
	if uc.metrics == nil {
		return
	}
	var vErr *domain.ValidationError
	var dErr *domain.DuplicateEventError
	switch {
	case errors.As(err, &vErr):
		uc.metrics.AppendsTotal.WithLabelValues("rejected_validation").Inc()
	case errors.As(err, &dErr):
		uc.metrics.AppendsTotal.WithLabelValues("rejected_duplicate").Inc()
	case domain.IsRetryable(err):
		uc.metrics.AppendsTotal.WithLabelValues("retryable").Inc()
	default:
		uc.metrics.AppendsTotal.WithLabelValues("error").Inc()
	}
}
