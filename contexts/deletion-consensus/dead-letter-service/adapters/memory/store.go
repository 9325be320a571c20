package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"centsible/contexts/deletion-consensus/dead-letter-service/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/dead-letter-service/domain/errors"

	"github.com/google/uuid"
)

// Store is the in-memory dead-letter store used by tests and local wiring.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entities.DeadLetterEntry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]entities.DeadLetterEntry)}
}

func (s *Store) AppendEntry(_ context.Context, entry entities.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID := strings.TrimSpace(entry.EntryID)
	if entryID == "" {
		return domainerrors.ErrInvalidEntryInput
	}
	if _, exists := s.entries[entryID]; exists {
		return nil
	}
	s.entries[entryID] = cloneEntry(entry)
	return nil
}

func (s *Store) GetEntry(_ context.Context, entryID string) (entities.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[strings.TrimSpace(entryID)]
	if !ok {
		return entities.DeadLetterEntry{}, domainerrors.ErrEntryNotFound
	}
	return cloneEntry(entry), nil
}

func (s *Store) ListEntries(_ context.Context, limit int) ([]entities.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]entities.DeadLetterEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		items = append(items, cloneEntry(entry))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].EntryID < items[j].EntryID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkReprocessed(_ context.Context, entryID string, reprocessedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[strings.TrimSpace(entryID)]
	if !ok {
		return domainerrors.ErrEntryNotFound
	}
	timestamp := reprocessedAt.UTC()
	entry.Status = entities.StatusReprocessed
	entry.ReprocessedAt = &timestamp
	s.entries[strings.TrimSpace(entryID)] = entry
	return nil
}

func (s *Store) DeleteExpired(_ context.Context, cutoff time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	deleted := 0
	for entryID, entry := range s.entries {
		if deleted >= limit {
			break
		}
		if entry.Expired(cutoff) {
			delete(s.entries, entryID)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func cloneEntry(entry entities.DeadLetterEntry) entities.DeadLetterEntry {
	cloned := entry
	cloned.OriginalEvent = append([]byte(nil), entry.OriginalEvent...)
	if entry.ReprocessedAt != nil {
		reprocessedAt := *entry.ReprocessedAt
		cloned.ReprocessedAt = &reprocessedAt
	}
	return cloned
}
