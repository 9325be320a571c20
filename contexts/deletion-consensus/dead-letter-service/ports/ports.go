package ports

import (
	"context"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	"centsible/contexts/deletion-consensus/dead-letter-service/domain/entities"
)

// DeadLetterRepository is the append-only triage store. AppendEntry with an
// existing entry ID is idempotent so a retried record cannot duplicate rows.
type DeadLetterRepository interface {
	AppendEntry(ctx context.Context, entry entities.DeadLetterEntry) error
	GetEntry(ctx context.Context, entryID string) (entities.DeadLetterEntry, error)
	ListEntries(ctx context.Context, limit int) ([]entities.DeadLetterEntry, error)
	MarkReprocessed(ctx context.Context, entryID string, reprocessedAt time.Time) error
	DeleteExpired(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// FallbackSink absorbs failures in the dead-letter path itself so an
// exhausted event is never silently lost.
type FallbackSink interface {
	Absorb(
		ctx context.Context,
		consumer string,
		event contractsv1.Envelope,
		failureReason string,
		sinkError error,
	)
}

// EventEnvelope reuses the canonical cross-runtime envelope contract.
type EventEnvelope = contractsv1.Envelope

// EventPublisher republishes entries on operator-triggered reprocessing.
type EventPublisher interface {
	Publish(ctx context.Context, event EventEnvelope) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
