package workers

import (
	"context"
	"log/slog"

	application "centsible/contexts/deletion-consensus/vote-aggregator/application"
	"centsible/contexts/deletion-consensus/vote-aggregator/application/commands"
)

// TimeoutSweeper finalizes pending ballots whose deadline has passed.
type TimeoutSweeper struct {
	Ballots   commands.BallotUseCase
	BatchSize int
	Logger    *slog.Logger
}

func (j TimeoutSweeper) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(j.Logger)
	limit := j.BatchSize
	if limit <= 0 {
		limit = 100
	}

	finalized, err := j.Ballots.FinalizeExpired(ctx, limit)
	if err != nil {
		logger.Error("timeout sweep failed",
			"event", "aggregator_timeout_sweep_failed",
			"module", "deletion-consensus/vote-aggregator",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if finalized > 0 {
		logger.Info("timeout sweep completed",
			"event", "aggregator_timeout_sweep_completed",
			"module", "deletion-consensus/vote-aggregator",
			"layer", "worker",
			"finalized_count", finalized,
		)
	}
	return nil
}
