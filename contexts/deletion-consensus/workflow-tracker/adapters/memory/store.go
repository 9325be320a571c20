package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"centsible/contexts/deletion-consensus/workflow-tracker/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/workflow-tracker/domain/errors"
)

// Store is the in-memory projection store used by tests and local wiring.
type Store struct {
	mu       sync.RWMutex
	progress map[string]entities.WorkflowProgress
}

func NewStore() *Store {
	return &Store{progress: make(map[string]entities.WorkflowProgress)}
}

func (s *Store) SaveProgress(_ context.Context, progress entities.WorkflowProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	correlationID := strings.TrimSpace(progress.CorrelationID)
	existing, exists := s.progress[correlationID]
	if !exists {
		if progress.Version != 1 {
			return domainerrors.ErrVersionConflict
		}
		s.progress[correlationID] = cloneProgress(progress)
		return nil
	}
	if existing.Version != progress.Version-1 {
		return domainerrors.ErrVersionConflict
	}
	s.progress[correlationID] = cloneProgress(progress)
	return nil
}

func (s *Store) GetProgress(_ context.Context, correlationID string) (entities.WorkflowProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	progress, ok := s.progress[strings.TrimSpace(correlationID)]
	if !ok {
		return entities.WorkflowProgress{}, domainerrors.ErrWorkflowNotFound
	}
	return cloneProgress(progress), nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func cloneProgress(progress entities.WorkflowProgress) entities.WorkflowProgress {
	cloned := progress
	cloned.VotedParticipants = make(map[string]bool, len(progress.VotedParticipants))
	for participant, voted := range progress.VotedParticipants {
		cloned.VotedParticipants[participant] = voted
	}
	return cloned
}
