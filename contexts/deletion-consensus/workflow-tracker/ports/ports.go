package ports

import (
	"context"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	"centsible/contexts/deletion-consensus/workflow-tracker/domain/entities"
)

// ProgressRepository persists the projection with optimistic concurrency
// control, the same version discipline as the other deletion-consensus
// stores. SaveProgress with a stale version returns ErrVersionConflict.
type ProgressRepository interface {
	SaveProgress(ctx context.Context, progress entities.WorkflowProgress) error
	GetProgress(ctx context.Context, correlationID string) (entities.WorkflowProgress, error)
}

// EventEnvelope reuses the canonical cross-runtime envelope contract.
type EventEnvelope = contractsv1.Envelope

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
