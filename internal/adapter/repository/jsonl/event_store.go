package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/chronicle/internal/domain"
)

const (
	segmentPrefix = "segment-"
	filePerm      = 0644
)

// EventStore is a file-backed implementation of domain.EventStore: one JSON
// line per committed envelope, written append-only to size-rotated segment
// files that are never rewritten in place. On open, every segment is
// scanned once to rebuild the in-memory index, so reads never touch disk.
type EventStore struct {
	dir            string
	maxSegmentSize int64
	logger         *slog.Logger

	mu             sync.RWMutex
	currentSegment *os.File
	currentSize    int64

	events      []domain.Envelope
	byEventID   map[string]int
	byIdemKey   map[string]int
	processSeqs map[string]uint64
	now         func() time.Time
}

// NewEventStore opens (or creates) a segment directory and rebuilds the
// index from all existing segments.
func NewEventStore(dir string, maxSegmentSize int64, logger *slog.Logger) (*EventStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory %s: %w", dir, err)
	}

	s := &EventStore{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		logger:         logger.With("component", "jsonl_event_store"),
		byEventID:      make(map[string]int),
		byIdemKey:      make(map[string]int),
		processSeqs:    make(map[string]uint64),
		now:            func() time.Time { return time.Now().UTC() },
	}

	if err := s.loadSegments(); err != nil {
		return nil, err
	}
	if err := s.openLatestSegment(); err != nil {
		return nil, err
	}

	s.logger.Info("ledger opened", "dir", dir, "events", len(s.events))
	return s, nil
}

func (s *EventStore) loadSegments() error {
	segments, err := s.sortedSegments()
	if err != nil {
		return err
	}

	for _, path := range segments {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open segment %s: %w", path, err)
		}

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			var env domain.Envelope
			if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
				file.Close()
				return fmt.Errorf("corrupt record in segment %s: %w", path, err)
			}
			if env.GlobalSeq != uint64(len(s.events))+1 {
				file.Close()
				return fmt.Errorf("segment %s: global_seq %d out of order, expected %d", path, env.GlobalSeq, len(s.events)+1)
			}
			s.index(env)
		}
		if err := scanner.Err(); err != nil {
			file.Close()
			return fmt.Errorf("error scanning segment %s: %w", path, err)
		}
		file.Close()
	}
	return nil
}

func (s *EventStore) index(env domain.Envelope) {
	s.events = append(s.events, env)
	s.byEventID[env.EventID] = len(s.events) - 1
	if env.IdempotencyKey != "" {
		s.byIdemKey[env.IdempotencyKey] = len(s.events) - 1
	}
	if env.ProcessSeq > s.processSeqs[env.ProcessID] {
		s.processSeqs[env.ProcessID] = env.ProcessSeq
	}
}

// Append implements domain.EventStore. The record is durable (written and
// fsynced) before the in-memory index advances, so a crash can lose at most
// the envelope whose append never returned.
func (s *EventStore) Append(ctx context.Context, draft domain.Draft) (domain.Envelope, error) {
	if err := draft.Validate(); err != nil {
		return domain.Envelope{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if draft.IdempotencyKey != "" {
		if idx, ok := s.byIdemKey[draft.IdempotencyKey]; ok {
			return s.events[idx], nil
		}
	}

	if draft.EventID == "" {
		draft.EventID = uuid.NewString()
	} else if idx, ok := s.byEventID[draft.EventID]; ok {
		existing := s.events[idx]
		if draft.SameFact(existing) {
			return existing, nil
		}
		return domain.Envelope{}, &domain.DuplicateEventError{EventID: draft.EventID}
	}

	if draft.CausationID != "" {
		if _, ok := s.byEventID[draft.CausationID]; !ok {
			return domain.Envelope{}, &domain.ValidationError{
				Field:  "causation_id",
				Reason: "references an event that is not committed",
			}
		}
	}

	if draft.ParentProcessID != "" && s.processSeqs[draft.ParentProcessID] == 0 {
		return domain.Envelope{}, &domain.ValidationError{
			Field:  "parent_process_id",
			Reason: "parent process has no committed events",
		}
	}

	env := draft.Finalize(uint64(len(s.events))+1, s.processSeqs[draft.ProcessID]+1, s.now())

	if err := s.persist(env); err != nil {
		return domain.Envelope{}, err
	}
	s.index(env)

	return env, nil
}

func (s *EventStore) persist(env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	data = append(data, '\n')

	if s.currentSegment == nil {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.currentSegment.Write(data)
	if err != nil {
		return fmt.Errorf("%w: failed to write segment: %v", domain.ErrStoreUnavailable, err)
	}
	if err := s.currentSegment.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync segment: %v", domain.ErrStoreUnavailable, err)
	}
	s.currentSize += int64(n)

	if s.currentSize >= s.maxSegmentSize {
		if err := s.rotate(); err != nil {
			s.logger.Error("failed to rotate segment", "error", err)
		}
	}
	return nil
}

// Read implements domain.EventStore.
func (s *EventStore) Read(ctx context.Context, f domain.Filter) ([]domain.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Envelope
	for _, env := range s.events {
		if !f.Matches(env) {
			continue
		}
		out = append(out, env)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// ByEventID implements domain.EventStore.
func (s *EventStore) ByEventID(ctx context.Context, eventID string) (domain.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byEventID[eventID]
	if !ok {
		return domain.Envelope{}, domain.ErrEventNotFound
	}
	return s.events[idx], nil
}

// Count implements domain.EventStore.
func (s *EventStore) Count(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.events)), nil
}

// Close flushes and closes the active segment.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentSegment != nil {
		err := s.currentSegment.Close()
		s.currentSegment = nil
		return err
	}
	return nil
}

func (s *EventStore) rotate() error {
	if s.currentSegment != nil {
		if err := s.currentSegment.Sync(); err != nil {
			s.logger.Error("failed to sync segment before rotating", "error", err)
		}
		if err := s.currentSegment.Close(); err != nil {
			s.logger.Error("failed to close segment before rotating", "error", err)
		}
		s.currentSegment = nil
	}

	segmentName := fmt.Sprintf("%s%020d.log", segmentPrefix, time.Now().UnixNano())
	path := filepath.Join(s.dir, segmentName)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create segment %s: %w", path, err)
	}

	s.currentSegment = f
	s.currentSize = 0
	s.logger.Info("rotated to new segment", "path", path)
	return nil
}

func (s *EventStore) openLatestSegment() error {
	segments, err := s.sortedSegments()
	if err != nil {
		return err
	}

	if len(segments) == 0 {
		return s.rotate()
	}

	latest := segments[len(segments)-1]
	stat, err := os.Stat(latest)
	if err != nil {
		return fmt.Errorf("failed to stat latest segment %s: %w", latest, err)
	}

	if stat.Size() >= s.maxSegmentSize {
		return s.rotate()
	}

	f, err := os.OpenFile(latest, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open latest segment %s: %w", latest, err)
	}

	s.currentSegment = f
	s.currentSize = stat.Size()
	return nil
}

func (s *EventStore) sortedSegments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), segmentPrefix) {
			segments = append(segments, filepath.Join(s.dir, entry.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}
