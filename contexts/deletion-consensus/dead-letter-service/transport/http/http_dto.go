package http

import (
	"encoding/json"
	"time"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DeadLetterEntryResponse exposes the triage view of one parked event. The
// original event is returned verbatim so operators can inspect the payload
// that kept failing.
type DeadLetterEntryResponse struct {
	EntryID       string          `json:"entryId"`
	Consumer      string          `json:"consumer"`
	OriginalEvent json.RawMessage `json:"originalEvent"`
	FailureReason string          `json:"failureReason"`
	AttemptCount  int             `json:"attemptCount"`
	FirstFailedAt time.Time       `json:"firstFailedAt"`
	Status        string          `json:"status"`
	ReprocessedAt *time.Time      `json:"reprocessedAt,omitempty"`
	ExpiresAt     time.Time       `json:"expiresAt"`
}

type ListDeadLettersResponse struct {
	Entries []DeadLetterEntryResponse `json:"entries"`
}

// ReprocessRequest identifies the operator requesting the replay for the
// audit trail. The body is optional.
type ReprocessRequest struct {
	RequestedBy string `json:"requestedBy"`
}
