package v1

import (
	"encoding/json"
	"time"
)

// Envelope is the canonical, versioned event envelope for the deletion
// consensus workflow. Field names are the stable wire contract shared with
// non-Go consumers and must stay backward compatible.
type Envelope struct {
	EventID       string          `json:"eventId"`
	CorrelationID string          `json:"correlationId"`
	Source        string          `json:"source"`
	Type          string          `json:"type"`
	Timestamp     int64           `json:"timestamp"` // epoch milliseconds
	Payload       json.RawMessage `json:"payload"`
}

// New builds an envelope with a marshaled payload. Timestamps are stored as
// epoch milliseconds on the wire.
func New(
	eventID string,
	correlationID string,
	source string,
	eventType string,
	occurredAt time.Time,
	payload any,
) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       eventID,
		CorrelationID: correlationID,
		Source:        source,
		Type:          eventType,
		Timestamp:     occurredAt.UTC().UnixMilli(),
		Payload:       raw,
	}, nil
}

// OccurredAt converts the wire timestamp back to a UTC time.
func (e Envelope) OccurredAt() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}
