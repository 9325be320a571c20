package entities

import (
	"encoding/json"
	"time"
)

type EntryStatus string

const (
	StatusPending     EntryStatus = "pending"
	StatusReprocessed EntryStatus = "reprocessed"
)

// DeadLetterEntry retains one exhausted event with its failure metadata.
// Entries are append-only; the only state change is an operator-triggered
// reprocess, and expiry removes entries past the retention window.
type DeadLetterEntry struct {
	EntryID       string
	Consumer      string
	OriginalEvent json.RawMessage
	FailureReason string
	AttemptCount  int
	FirstFailedAt time.Time
	Status        EntryStatus
	ReprocessedAt *time.Time
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

func (e DeadLetterEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}
