package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/V4T54L/chronicle/internal/adapter/repository/memory"
	"github.com/V4T54L/chronicle/internal/domain"
	"github.com/V4T54L/chronicle/internal/domain/mocks"
)

func TestRecordEventUseCase_Record(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("successful append", func(t *testing.T) {
		mockStore := &mocks.MockEventStore{}
		uc := NewRecordEventUseCase(mockStore, nil, logger)

		env, err := uc.Record(ctx, domain.Draft{
			ProcessID: "proc-a",
			EventType: domain.EventExecutionMessage,
			Source:    domain.Source{Origin: domain.OriginAgent},
			Payload:   json.RawMessage(`{"content":"hi"}`),
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if env.GlobalSeq != 1 {
			t.Errorf("expected global_seq 1, got %d", env.GlobalSeq)
		}
		if len(mockStore.Appended) != 1 {
			t.Errorf("expected 1 appended event, got %d", len(mockStore.Appended))
		}
	})

	t.Run("store error passes through", func(t *testing.T) {
		mockStore := &mocks.MockEventStore{AppendErr: domain.ErrSequencingConflict}
		uc := NewRecordEventUseCase(mockStore, nil, logger)

		_, err := uc.Record(ctx, domain.Draft{ProcessID: "proc-a"})
		if !errors.Is(err, domain.ErrSequencingConflict) {
			t.Fatalf("expected ErrSequencingConflict, got %v", err)
		}
		if !domain.IsRetryable(err) {
			t.Error("expected a sequencing conflict to be retryable")
		}
	})

	t.Run("validation rejection against the real store", func(t *testing.T) {
		uc := NewRecordEventUseCase(memory.NewEventStore(), nil, logger)

		_, err := uc.Record(ctx, domain.Draft{
			ProcessID: "proc-a",
			EventType: "no-category",
			Source:    domain.Source{Origin: domain.OriginAgent},
			Payload:   json.RawMessage(`{}`),
		})
		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected *ValidationError, got %v", err)
		}
	})
}

func TestQueryEventsUseCase(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventStore()
	states := memory.NewProjectionStore()
	uc := NewQueryEventsUseCase(events, states)

	env, err := events.Append(ctx, domain.Draft{
		ProcessID: "proc-a",
		EventType: domain.EventExecutionMessage,
		Source:    domain.Source{Origin: domain.OriginAgent},
		Payload:   json.RawMessage(`{"content":"hi"}`),
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	t.Run("events and count", func(t *testing.T) {
		got, err := uc.Events(ctx, domain.Filter{ProcessID: "proc-a"})
		if err != nil {
			t.Fatalf("events failed: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 event, got %d", len(got))
		}
		if n, _ := uc.Count(ctx); n != 1 {
			t.Errorf("expected count 1, got %d", n)
		}
	})

	t.Run("event by id", func(t *testing.T) {
		got, err := uc.EventByID(ctx, env.EventID)
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if got.GlobalSeq != env.GlobalSeq {
			t.Errorf("unexpected envelope: %+v", got)
		}
		if _, err := uc.EventByID(ctx, "nope"); !errors.Is(err, domain.ErrEventNotFound) {
			t.Errorf("expected ErrEventNotFound, got %v", err)
		}
	})

	t.Run("views", func(t *testing.T) {
		cp := domain.Checkpoint{Watermark: 1, ReducerVersion: 1}
		if err := states.Commit(ctx, "registry", []domain.ProjectionState{
			{Projection: "registry", Partition: "", State: []byte(`{"n":1}`)},
		}, domain.Checkpoint{}, cp); err != nil {
			t.Fatalf("commit failed: %v", err)
		}

		all, gotCp, err := uc.Views(ctx, "registry")
		if err != nil {
			t.Fatalf("views failed: %v", err)
		}
		if gotCp != cp {
			t.Errorf("unexpected checkpoint: %+v", gotCp)
		}
		if len(all) != 1 || string(all[0].State) != `{"n":1}` {
			t.Errorf("unexpected states: %+v", all)
		}

		st, err := uc.View(ctx, "registry", "")
		if err != nil {
			t.Fatalf("view failed: %v", err)
		}
		if string(st.State) != `{"n":1}` {
			t.Errorf("unexpected state: %s", st.State)
		}
		if _, err := uc.View(ctx, "registry", "nope"); !errors.Is(err, domain.ErrStateNotFound) {
			t.Errorf("expected ErrStateNotFound, got %v", err)
		}
	})
}
