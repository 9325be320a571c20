package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	application "centsible/contexts/deletion-consensus/vote-aggregator/application"
	"centsible/contexts/deletion-consensus/vote-aggregator/application/commands"
	domainerrors "centsible/contexts/deletion-consensus/vote-aggregator/domain/errors"
	"centsible/contexts/deletion-consensus/vote-aggregator/ports"
)

const defaultRequestCG = "vote-aggregator-request-cg"

// RequestConsumer opens a ballot for every deletion.requested event.
type RequestConsumer struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Ballots       commands.BallotUseCase
	Clock         ports.Clock
	ConsumerGroup string
	DedupTTL      time.Duration
	Logger        *slog.Logger
}

// Start subscribes the aggregator to deletion requests with dedupe semantics.
func (c RequestConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultRequestCG
	}
	if err := c.Subscriber.Subscribe(ctx, contractsv1.TypeDeletionRequested, group, c.handleRequested); err != nil {
		logger.Error("request consumer subscribe failed",
			"event", "aggregator_request_consumer_subscribe_failed",
			"module", "deletion-consensus/vote-aggregator",
			"layer", "worker",
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("request consumer subscription active",
		"event", "aggregator_request_consumer_started",
		"module", "deletion-consensus/vote-aggregator",
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

func (c RequestConsumer) handleRequested(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Payload), c.now().Add(c.dedupTTL()))
	if err != nil {
		return err
	}
	if alreadyProcessed {
		logger.Debug("deletion.requested replay skipped",
			"event", "aggregator_requested_replayed",
			"module", "deletion-consensus/vote-aggregator",
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}

	var payload contractsv1.RequestedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		logger.Error("deletion.requested payload decode failed",
			"event", "aggregator_requested_decode_failed",
			"module", "deletion-consensus/vote-aggregator",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		releaseReservation(ctx, c.Dedup, logger, event.EventID)
		return domainerrors.ErrInvalidEventPayload
	}

	var deadline time.Time
	if payload.Deadline > 0 {
		deadline = time.UnixMilli(payload.Deadline).UTC()
	}
	if err := c.Ballots.OpenBallot(ctx, commands.OpenBallotCommand{
		CorrelationID:  event.CorrelationID,
		TargetID:       payload.TargetID,
		RequestedBy:    payload.RequestedBy,
		RequiredVoters: payload.RequiredVoters,
		Deadline:       deadline,
	}); err != nil {
		// The reservation must not outlive the failed attempt: the command is
		// idempotent, and the bus retry has to reach it.
		releaseReservation(ctx, c.Dedup, logger, event.EventID)
		return err
	}

	logger.Info("deletion.requested consumed",
		"event", "aggregator_requested_consumed",
		"module", "deletion-consensus/vote-aggregator",
		"layer", "worker",
		"event_id", event.EventID,
		"correlation_id", event.CorrelationID,
		"target_id", strings.TrimSpace(payload.TargetID),
	)
	return nil
}

func (c RequestConsumer) now() time.Time {
	now := time.Now().UTC()
	if c.Clock != nil {
		now = c.Clock.Now().UTC()
	}
	return now
}

func (c RequestConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}
