package memory

import (
	"context"
	"strings"
	"sync"
)

// TargetStore is an in-memory dependent store for one deletion step. Tests
// seed targets, inject failures, and assert how many destructive deletes
// actually ran.
type TargetStore struct {
	mu          sync.Mutex
	targets     map[string]bool
	deleteCount map[string]int
	failWith    error
}

func NewTargetStore(targetIDs ...string) *TargetStore {
	targets := make(map[string]bool, len(targetIDs))
	for _, targetID := range targetIDs {
		targets[strings.TrimSpace(targetID)] = true
	}
	return &TargetStore{
		targets:     targets,
		deleteCount: make(map[string]int),
	}
}

// FailWith makes the next Delete calls return err; pass nil to heal.
func (s *TargetStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *TargetStore) Exists(_ context.Context, targetID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets[strings.TrimSpace(targetID)], nil
}

func (s *TargetStore) Delete(_ context.Context, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	key := strings.TrimSpace(targetID)
	s.deleteCount[key]++
	delete(s.targets, key)
	return nil
}

// DeleteCount reports how many times Delete ran for the target.
func (s *TargetStore) DeleteCount(targetID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteCount[strings.TrimSpace(targetID)]
}
