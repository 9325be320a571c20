package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"centsible/contexts/deletion-consensus/deletion-executor/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/deletion-executor/domain/errors"
	"centsible/contexts/deletion-consensus/deletion-executor/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

type dedupRecord struct {
	payloadHash string
	expiresAt   time.Time
}

// Store is the in-memory execution store used by tests and local wiring.
type Store struct {
	mu sync.RWMutex

	executions map[string]entities.Execution
	outbox     map[string]outboxRecord
	eventDedup map[string]dedupRecord
}

func NewStore() *Store {
	return &Store{
		executions: make(map[string]entities.Execution),
		outbox:     make(map[string]outboxRecord),
		eventDedup: make(map[string]dedupRecord),
	}
}

func (s *Store) SaveExecution(_ context.Context, execution entities.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	correlationID := strings.TrimSpace(execution.CorrelationID)
	existing, exists := s.executions[correlationID]
	if !exists {
		if execution.Version != 1 {
			return domainerrors.ErrVersionConflict
		}
		s.executions[correlationID] = cloneExecution(execution)
		return nil
	}
	if existing.Version != execution.Version-1 {
		return domainerrors.ErrVersionConflict
	}
	s.executions[correlationID] = cloneExecution(execution)
	return nil
}

func (s *Store) GetExecution(_ context.Context, correlationID string) (entities.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	execution, ok := s.executions[strings.TrimSpace(correlationID)]
	if !ok {
		return entities.Execution{}, domainerrors.ErrExecutionNotFound
	}
	return cloneExecution(execution), nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := s.outbox[outboxID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return domainerrors.ErrConflict
		}
		return nil
	}
	createdAt := envelope.OccurredAt()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	s.outbox[outboxID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:  outboxID,
			EventType: strings.TrimSpace(envelope.Type),
			Payload:   payload,
			CreatedAt: createdAt,
		},
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		items = append(items, row.message)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrConflict
	}
	row.published = true
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

func (s *Store) ReserveEvent(
	_ context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(eventID)
	existing, ok := s.eventDedup[key]
	if ok {
		if !existing.expiresAt.IsZero() && time.Now().UTC().After(existing.expiresAt.UTC()) {
			delete(s.eventDedup, key)
		} else {
			if existing.payloadHash != strings.TrimSpace(payloadHash) {
				return false, domainerrors.ErrConflict
			}
			return true, nil
		}
	}

	s.eventDedup[key] = dedupRecord{
		payloadHash: strings.TrimSpace(payloadHash),
		expiresAt:   expiresAt.UTC(),
	}
	return false, nil
}

func (s *Store) ReleaseEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.eventDedup, strings.TrimSpace(eventID))
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func cloneExecution(execution entities.Execution) entities.Execution {
	cloned := execution
	cloned.CompletedSteps = append([]entities.Step(nil), execution.CompletedSteps...)
	if execution.FinishedAt != nil {
		finishedAt := *execution.FinishedAt
		cloned.FinishedAt = &finishedAt
	}
	return cloned
}
