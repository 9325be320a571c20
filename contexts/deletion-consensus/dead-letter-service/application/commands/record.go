package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	application "centsible/contexts/deletion-consensus/dead-letter-service/application"
	"centsible/contexts/deletion-consensus/dead-letter-service/domain/entities"
	"centsible/contexts/deletion-consensus/dead-letter-service/ports"
)

const defaultRetention = 14 * 24 * time.Hour

// Recorder appends exhausted events to the triage store. It satisfies the
// bus's dead-letter sink contract; a failure while recording goes to the
// fallback sink instead of being dropped.
type Recorder struct {
	Entries   ports.DeadLetterRepository
	Fallback  ports.FallbackSink
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Retention time.Duration
	Logger    *slog.Logger
}

func (r Recorder) Record(
	ctx context.Context,
	consumer string,
	event contractsv1.Envelope,
	failureReason string,
	attemptCount int,
	firstFailedAt time.Time,
) error {
	logger := application.ResolveLogger(r.Logger)
	now := r.now()

	entry, err := r.buildEntry(ctx, consumer, event, failureReason, attemptCount, firstFailedAt, now)
	if err == nil {
		err = r.Entries.AppendEntry(ctx, entry)
	}
	if err != nil {
		// The dead-letter path itself failed; absorb rather than lose the event.
		if r.Fallback != nil {
			r.Fallback.Absorb(ctx, consumer, event, failureReason, err)
		}
		logger.Error("dead letter record failed",
			"event", "dlq_record_failed",
			"module", "deletion-consensus/dead-letter-service",
			"layer", "application",
			"consumer", strings.TrimSpace(consumer),
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}

	logger.Warn("event dead lettered",
		"event", "dlq_event_recorded",
		"module", "deletion-consensus/dead-letter-service",
		"layer", "application",
		"entry_id", entry.EntryID,
		"consumer", entry.Consumer,
		"event_id", event.EventID,
		"event_type", event.Type,
		"attempt_count", attemptCount,
		"failure_reason", entry.FailureReason,
	)
	return nil
}

func (r Recorder) buildEntry(
	ctx context.Context,
	consumer string,
	event contractsv1.Envelope,
	failureReason string,
	attemptCount int,
	firstFailedAt time.Time,
	now time.Time,
) (entities.DeadLetterEntry, error) {
	original, err := json.Marshal(event)
	if err != nil {
		return entities.DeadLetterEntry{}, err
	}
	entryID, err := r.IDGen.NewID(ctx)
	if err != nil {
		return entities.DeadLetterEntry{}, err
	}
	if firstFailedAt.IsZero() {
		firstFailedAt = now
	}
	retention := r.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	return entities.DeadLetterEntry{
		EntryID:       entryID,
		Consumer:      strings.TrimSpace(consumer),
		OriginalEvent: original,
		FailureReason: strings.TrimSpace(failureReason),
		AttemptCount:  attemptCount,
		FirstFailedAt: firstFailedAt.UTC(),
		Status:        entities.StatusPending,
		ExpiresAt:     now.Add(retention),
		CreatedAt:     now,
	}, nil
}

func (r Recorder) now() time.Time {
	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}
	return now
}
