package ports

import (
	"context"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	"centsible/contexts/deletion-consensus/deletion-executor/domain/entities"
)

// ExecutionRepository persists execution records with optimistic concurrency
// control. SaveExecution succeeds only when the stored version equals
// execution.Version-1 (or the record is new and Version is 1); a stale write
// returns ErrVersionConflict so the caller retries with freshly read state.
type ExecutionRepository interface {
	SaveExecution(ctx context.Context, execution entities.Execution) error
	GetExecution(ctx context.Context, correlationID string) (entities.Execution, error)
}

// TargetStore abstracts one dependent store holding data for the deletion
// target. Exists drives skip-if-absent resumption; Delete must be safe to
// call for a target the step has already removed.
type TargetStore interface {
	Exists(ctx context.Context, targetID string) (bool, error)
	Delete(ctx context.Context, targetID string) error
}

// OutboxMessage is a row ready to relay from the module outbox.
type OutboxMessage struct {
	OutboxID  string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// OutboxWriter appends execution lifecycle events inside the write path.
type OutboxWriter interface {
	AppendOutbox(ctx context.Context, event EventEnvelope) error
}

// OutboxRepository models worker-side outbox polling/acknowledgement.
type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

// EventDedupStore provides idempotent processing guarantees for consumed
// events under at-least-once delivery. A reservation only sticks when the
// handler finishes the event; ReleaseEvent frees it after a failed run so the
// redelivery is processed instead of acknowledged as a replay.
type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
	ReleaseEvent(ctx context.Context, eventID string) error
}

// EventEnvelope reuses the canonical cross-runtime envelope contract.
type EventEnvelope = contractsv1.Envelope

// EventPublisher publishes canonical envelopes to the bus.
type EventPublisher interface {
	Publish(ctx context.Context, event EventEnvelope) error
}

// EventSubscriber registers an event-type consumer callback.
type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		eventType string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
