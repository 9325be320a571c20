package workers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	application "centsible/contexts/deletion-consensus/vote-aggregator/application"
	"centsible/contexts/deletion-consensus/vote-aggregator/application/commands"
	domainerrors "centsible/contexts/deletion-consensus/vote-aggregator/domain/errors"
	"centsible/contexts/deletion-consensus/vote-aggregator/ports"
)

const defaultCancelCG = "vote-aggregator-cancel-cg"

// CancelConsumer supersedes pending workflows on deletion.cancelled events.
type CancelConsumer struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Ballots       commands.BallotUseCase
	Clock         ports.Clock
	ConsumerGroup string
	DedupTTL      time.Duration
	Logger        *slog.Logger
}

func (c CancelConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultCancelCG
	}
	if err := c.Subscriber.Subscribe(ctx, contractsv1.TypeDeletionCancelled, group, c.handleCancelled); err != nil {
		logger.Error("cancel consumer subscribe failed",
			"event", "aggregator_cancel_consumer_subscribe_failed",
			"module", "deletion-consensus/vote-aggregator",
			"layer", "worker",
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("cancel consumer subscription active",
		"event", "aggregator_cancel_consumer_started",
		"module", "deletion-consensus/vote-aggregator",
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

func (c CancelConsumer) handleCancelled(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Payload), c.now().Add(c.dedupTTL()))
	if err != nil {
		return err
	}
	if alreadyProcessed {
		return nil
	}

	var payload contractsv1.CancelPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		logger.Error("deletion.cancelled payload decode failed",
			"event", "aggregator_cancel_decode_failed",
			"module", "deletion-consensus/vote-aggregator",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		releaseReservation(ctx, c.Dedup, logger, event.EventID)
		return domainerrors.ErrInvalidEventPayload
	}

	err = c.Ballots.Cancel(ctx, commands.CancelCommand{
		CorrelationID: event.CorrelationID,
		RequestedBy:   payload.RequestedBy,
		Reason:        payload.Reason,
	})
	if err != nil {
		// The reservation must not outlive the failed attempt: the command is
		// idempotent, and the bus retry has to reach it.
		releaseReservation(ctx, c.Dedup, logger, event.EventID)
		// A cancellation for a workflow this aggregator never opened carries
		// no information worth retrying.
		if errors.Is(err, domainerrors.ErrBallotNotFound) {
			return domainerrors.ErrBallotNotFound
		}
		return err
	}

	logger.Info("deletion.cancelled consumed",
		"event", "aggregator_cancel_consumed",
		"module", "deletion-consensus/vote-aggregator",
		"layer", "worker",
		"event_id", event.EventID,
		"correlation_id", event.CorrelationID,
	)
	return nil
}

func (c CancelConsumer) now() time.Time {
	now := time.Now().UTC()
	if c.Clock != nil {
		now = c.Clock.Now().UTC()
	}
	return now
}

func (c CancelConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}
