package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"centsible/contexts/deletion-consensus/vote-aggregator/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/vote-aggregator/domain/errors"
	"centsible/contexts/deletion-consensus/vote-aggregator/ports"

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

// Store is the in-memory ballot store used by tests and local wiring. It
// honors the same conditional-write contract as the postgres adapter.
type Store struct {
	mu sync.RWMutex

	ballots    map[string]entities.Ballot
	outbox     map[string]outboxRecord
	eventDedup map[string]dedupRecord
}

func NewStore(seed []entities.Ballot) *Store {
	ballots := make(map[string]entities.Ballot, len(seed))
	for _, ballot := range seed {
		ballots[ballot.CorrelationID] = cloneBallot(ballot)
	}
	return &Store{
		ballots:    ballots,
		outbox:     make(map[string]outboxRecord),
		eventDedup: make(map[string]dedupRecord),
	}
}

func (s *Store) SaveBallot(_ context.Context, ballot entities.Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	correlationID := strings.TrimSpace(ballot.CorrelationID)
	existing, exists := s.ballots[correlationID]
	if !exists {
		if ballot.Version != 1 {
			return domainerrors.ErrVersionConflict
		}
		s.ballots[correlationID] = cloneBallot(ballot)
		return nil
	}
	if existing.Version != ballot.Version-1 {
		return domainerrors.ErrVersionConflict
	}
	s.ballots[correlationID] = cloneBallot(ballot)
	return nil
}

func (s *Store) GetBallot(_ context.Context, correlationID string) (entities.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ballot, ok := s.ballots[strings.TrimSpace(correlationID)]
	if !ok {
		return entities.Ballot{}, domainerrors.ErrBallotNotFound
	}
	return cloneBallot(ballot), nil
}

func (s *Store) ListExpiredPending(_ context.Context, cutoff time.Time, limit int) ([]entities.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	var items []entities.Ballot
	for _, ballot := range s.ballots {
		if ballot.IsTerminal() || ballot.Deadline.IsZero() || !cutoff.After(ballot.Deadline) {
			continue
		}
		items = append(items, cloneBallot(ballot))
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Deadline.Before(items[j].Deadline)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
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

func cloneBallot(ballot entities.Ballot) entities.Ballot {
	cloned := ballot
	cloned.RequiredVoters = append([]string(nil), ballot.RequiredVoters...)
	cloned.ReceivedVotes = make(map[string]entities.Vote, len(ballot.ReceivedVotes))
	for participant, vote := range ballot.ReceivedVotes {
		cloned.ReceivedVotes[participant] = vote
	}
	if ballot.FinalizedAt != nil {
		finalizedAt := *ballot.FinalizedAt
		cloned.FinalizedAt = &finalizedAt
	}
	return cloned
}
