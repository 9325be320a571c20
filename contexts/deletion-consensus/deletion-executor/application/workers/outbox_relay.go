package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "centsible/contexts/deletion-consensus/deletion-executor/application"
	"centsible/contexts/deletion-consensus/deletion-executor/ports"
)

// OutboxRelay publishes persisted execution lifecycle events to the bus.
type OutboxRelay struct {
	Outbox    ports.OutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

// RunOnce publishes a bounded batch of pending outbox rows and marks each row
// published only after the bus publish succeeds. It stops on the first
// failure so the retry loop can reprocess remaining rows safely.
func (r OutboxRelay) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}

	pending, err := r.Outbox.ListPendingOutbox(ctx, limit)
	if err != nil {
		logger.Error("executor outbox list failed",
			"event", "executor_outbox_list_failed",
			"module", "deletion-consensus/deletion-executor",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	for _, row := range pending {
		var event ports.EventEnvelope
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			logger.Error("executor outbox decode failed",
				"event", "executor_outbox_decode_failed",
				"module", "deletion-consensus/deletion-executor",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Publisher.Publish(ctx, event); err != nil {
			logger.Error("executor outbox publish failed",
				"event", "executor_outbox_publish_failed",
				"module", "deletion-consensus/deletion-executor",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"event_id", event.EventID,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Outbox.MarkOutboxPublished(ctx, row.OutboxID, now); err != nil {
			logger.Error("executor outbox mark published failed",
				"event", "executor_outbox_mark_published_failed",
				"module", "deletion-consensus/deletion-executor",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
	}

	logger.Info("executor outbox relay cycle completed",
		"event", "executor_outbox_relay_completed",
		"module", "deletion-consensus/deletion-executor",
		"layer", "worker",
		"published_count", len(pending),
	)
	return nil
}
