package ports

import (
	"context"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	"centsible/contexts/deletion-consensus/vote-aggregator/domain/entities"
)

// BallotRepository persists ballots with optimistic concurrency control.
// SaveBallot succeeds only when the stored version equals ballot.Version-1
// (or the ballot is new and Version is 1); a stale write returns
// ErrVersionConflict so the caller can retry with freshly read state.
type BallotRepository interface {
	SaveBallot(ctx context.Context, ballot entities.Ballot) error
	GetBallot(ctx context.Context, correlationID string) (entities.Ballot, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]entities.Ballot, error)
}

// OutboxMessage is a row ready to relay from the module outbox.
type OutboxMessage struct {
	OutboxID  string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// OutboxWriter appends decision events inside the module's write path.
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
