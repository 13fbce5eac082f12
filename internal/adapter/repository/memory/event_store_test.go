package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/V4T54L/chronicle/internal/domain"
)

func draft(processID string) domain.Draft {
	return domain.Draft{
		ProcessID: processID,
		EventType: domain.EventExecutionMessage,
		Source:    domain.Source{Origin: domain.OriginAgent},
		Payload:   json.RawMessage(`{"content":"hi"}`),
	}
}

func TestEventStore_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns gapless sequences", func(t *testing.T) {
		store := NewEventStore()

		for i := 1; i <= 3; i++ {
			env, err := store.Append(ctx, draft("proc-a"))
			if err != nil {
				t.Fatalf("append %d failed: %v", i, err)
			}
			if env.GlobalSeq != uint64(i) {
				t.Errorf("expected global_seq %d, got %d", i, env.GlobalSeq)
			}
			if env.ProcessSeq != uint64(i) {
				t.Errorf("expected process_seq %d, got %d", i, env.ProcessSeq)
			}
			if env.EventID == "" {
				t.Error("expected a generated event_id")
			}
		}

		env, err := store.Append(ctx, draft("proc-b"))
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if env.GlobalSeq != 4 {
			t.Errorf("expected global_seq 4, got %d", env.GlobalSeq)
		}
		if env.ProcessSeq != 1 {
			t.Errorf("expected process_seq to restart at 1 for a new process, got %d", env.ProcessSeq)
		}
	})

	t.Run("rejects invalid draft", func(t *testing.T) {
		store := NewEventStore()

		d := draft("proc-a")
		d.EventType = "broken"
		_, err := store.Append(ctx, d)

		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected *ValidationError, got %v", err)
		}

		if n, _ := store.Count(ctx); n != 0 {
			t.Errorf("rejected append must not consume a sequence, count=%d", n)
		}
	})

	t.Run("idempotency key replays the original commit", func(t *testing.T) {
		store := NewEventStore()

		d := draft("proc-a")
		d.IdempotencyKey = "submit-1"
		first, err := store.Append(ctx, d)
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}

		// Even a different payload replays: the key owns the fact.
		d.Payload = json.RawMessage(`{"content":"changed"}`)
		second, err := store.Append(ctx, d)
		if err != nil {
			t.Fatalf("replay failed: %v", err)
		}
		if second.EventID != first.EventID || second.GlobalSeq != first.GlobalSeq {
			t.Errorf("expected original envelope back, got seq %d vs %d", second.GlobalSeq, first.GlobalSeq)
		}
		if n, _ := store.Count(ctx); n != 1 {
			t.Errorf("replay must not append, count=%d", n)
		}
	})

	t.Run("duplicate event id with conflicting content", func(t *testing.T) {
		store := NewEventStore()

		d := draft("proc-a")
		d.EventID = "evt-1"
		if _, err := store.Append(ctx, d); err != nil {
			t.Fatalf("append failed: %v", err)
		}

		conflicting := d
		conflicting.Payload = json.RawMessage(`{"content":"other"}`)
		_, err := store.Append(ctx, conflicting)

		var dErr *domain.DuplicateEventError
		if !errors.As(err, &dErr) {
			t.Fatalf("expected *DuplicateEventError, got %v", err)
		}
		if dErr.EventID != "evt-1" {
			t.Errorf("unexpected event id in error: %q", dErr.EventID)
		}
	})

	t.Run("duplicate event id with identical content is idempotent", func(t *testing.T) {
		store := NewEventStore()

		d := draft("proc-a")
		d.EventID = "evt-1"
		first, err := store.Append(ctx, d)
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}

		second, err := store.Append(ctx, d)
		if err != nil {
			t.Fatalf("identical resubmission failed: %v", err)
		}
		if second.GlobalSeq != first.GlobalSeq {
			t.Errorf("expected original envelope back, got seq %d", second.GlobalSeq)
		}
	})

	t.Run("causation must reference committed history", func(t *testing.T) {
		store := NewEventStore()

		d := draft("proc-a")
		d.CausationID = "missing-event"
		_, err := store.Append(ctx, d)

		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected *ValidationError, got %v", err)
		}
		if vErr.Field != "causation_id" {
			t.Errorf("expected causation_id rejection, got field %q", vErr.Field)
		}

		cause, err := store.Append(ctx, draft("proc-a"))
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		d.CausationID = cause.EventID
		if _, err := store.Append(ctx, d); err != nil {
			t.Fatalf("append with committed causation failed: %v", err)
		}
	})

	t.Run("parent process must have committed events", func(t *testing.T) {
		store := NewEventStore()

		d := draft("child-proc")
		d.ParentProcessID = "parent-proc"
		_, err := store.Append(ctx, d)

		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected *ValidationError, got %v", err)
		}
		if vErr.Field != "parent_process_id" {
			t.Errorf("expected parent_process_id rejection, got field %q", vErr.Field)
		}

		if _, err := store.Append(ctx, draft("parent-proc")); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if _, err := store.Append(ctx, d); err != nil {
			t.Fatalf("append with known parent failed: %v", err)
		}
	})
}

func TestEventStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				// Half the workers share a process to contend on process_seq.
				processID := fmt.Sprintf("proc-%d", w%2)
				if _, err := store.Append(ctx, draft(processID)); err != nil {
					t.Errorf("concurrent append failed: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	events, err := store.Read(ctx, domain.Filter{})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(events) != workers*perWorker {
		t.Fatalf("expected %d events, got %d", workers*perWorker, len(events))
	}

	processSeqs := make(map[string]uint64)
	for i, env := range events {
		if env.GlobalSeq != uint64(i+1) {
			t.Fatalf("global_seq gap at index %d: got %d", i, env.GlobalSeq)
		}
		if env.ProcessSeq != processSeqs[env.ProcessID]+1 {
			t.Fatalf("process_seq gap for %s: got %d after %d", env.ProcessID, env.ProcessSeq, processSeqs[env.ProcessID])
		}
		processSeqs[env.ProcessID] = env.ProcessSeq
	}
}

func TestEventStore_Read(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()

	for i := 0; i < 5; i++ {
		if _, err := store.Append(ctx, draft("proc-a")); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	d := draft("proc-b")
	d.EventType = domain.EventWorkflowStarted
	if _, err := store.Append(ctx, d); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	t.Run("half open sequence range", func(t *testing.T) {
		events, err := store.Read(ctx, domain.Filter{FromSeq: 2, ToSeq: 5})
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("expected 3 events in [2,5), got %d", len(events))
		}
		if events[0].GlobalSeq != 2 || events[2].GlobalSeq != 4 {
			t.Errorf("unexpected range bounds: %d..%d", events[0].GlobalSeq, events[2].GlobalSeq)
		}
	})

	t.Run("filter by process and type", func(t *testing.T) {
		events, err := store.Read(ctx, domain.Filter{ProcessID: "proc-b", EventType: domain.EventWorkflowStarted})
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}
	})

	t.Run("limit", func(t *testing.T) {
		events, err := store.Read(ctx, domain.Filter{Limit: 2})
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("expected 2 events, got %d", len(events))
		}
	})
}

func TestEventStore_ByEventID(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()

	env, err := store.Append(ctx, draft("proc-a"))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	got, err := store.ByEventID(ctx, env.EventID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.GlobalSeq != env.GlobalSeq {
		t.Errorf("unexpected envelope: %+v", got)
	}

	if _, err := store.ByEventID(ctx, "nope"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound, got %v", err)
	}
}
