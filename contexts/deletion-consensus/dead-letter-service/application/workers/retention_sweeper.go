package workers

import (
	"context"
	"log/slog"
	"time"

	application "centsible/contexts/deletion-consensus/dead-letter-service/application"
	"centsible/contexts/deletion-consensus/dead-letter-service/ports"
)

// RetentionSweeper expires dead-letter entries past the retention window.
type RetentionSweeper struct {
	Entries   ports.DeadLetterRepository
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

func (j RetentionSweeper) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(j.Logger)
	limit := j.BatchSize
	if limit <= 0 {
		limit = 100
	}

	now := time.Now().UTC()
	if j.Clock != nil {
		now = j.Clock.Now().UTC()
	}
	deleted, err := j.Entries.DeleteExpired(ctx, now, limit)
	if err != nil {
		logger.Error("dead letter retention sweep failed",
			"event", "dlq_retention_sweep_failed",
			"module", "deletion-consensus/dead-letter-service",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if deleted > 0 {
		logger.Info("dead letter retention sweep completed",
			"event", "dlq_retention_sweep_completed",
			"module", "deletion-consensus/dead-letter-service",
			"layer", "worker",
			"deleted_count", deleted,
		)
	}
	return nil
}
