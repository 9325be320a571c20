package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"centsible/contexts/deletion-consensus/deletion-executor/ports"
)

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// releaseReservation frees a dedup reservation after a failed handler run.
// Without it the redelivery would hit the reservation and ack the event as a
// replay, losing the command the failed run never completed.
func releaseReservation(ctx context.Context, dedup ports.EventDedupStore, logger *slog.Logger, eventID string) {
	if err := dedup.ReleaseEvent(ctx, eventID); err != nil {
		logger.Error("event reservation release failed",
			"event", "executor_dedup_release_failed",
			"module", "deletion-consensus/deletion-executor",
			"layer", "worker",
			"event_id", eventID,
			"error", err.Error(),
		)
	}
}
