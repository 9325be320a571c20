package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "centsible/contexts/deletion-consensus/vote-aggregator/application"
	"centsible/contexts/deletion-consensus/vote-aggregator/ports"
)

// OutboxRelay publishes persisted decision events to the bus.
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
		logger.Error("aggregator outbox list failed",
			"event", "aggregator_outbox_list_failed",
			"module", "deletion-consensus/vote-aggregator",
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
			logger.Error("aggregator outbox decode failed",
				"event", "aggregator_outbox_decode_failed",
				"module", "deletion-consensus/vote-aggregator",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Publisher.Publish(ctx, event); err != nil {
			logger.Error("aggregator outbox publish failed",
				"event", "aggregator_outbox_publish_failed",
				"module", "deletion-consensus/vote-aggregator",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"event_id", event.EventID,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Outbox.MarkOutboxPublished(ctx, row.OutboxID, now); err != nil {
			logger.Error("aggregator outbox mark published failed",
				"event", "aggregator_outbox_mark_published_failed",
				"module", "deletion-consensus/vote-aggregator",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
	}

	logger.Info("aggregator outbox relay cycle completed",
		"event", "aggregator_outbox_relay_completed",
		"module", "deletion-consensus/vote-aggregator",
		"layer", "worker",
		"published_count", len(pending),
	)
	return nil
}
