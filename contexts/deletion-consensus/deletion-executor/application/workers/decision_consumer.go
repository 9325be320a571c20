package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	application "centsible/contexts/deletion-consensus/deletion-executor/application"
	"centsible/contexts/deletion-consensus/deletion-executor/application/commands"
	domainerrors "centsible/contexts/deletion-consensus/deletion-executor/domain/errors"
	"centsible/contexts/deletion-consensus/deletion-executor/ports"
)

const defaultDecisionCG = "deletion-executor-decision-cg"

// DecisionConsumer runs the ordered deletion when a workflow is approved.
// Denied and timed-out decisions never reach this consumer; its subscription
// covers only deletion.approved.
type DecisionConsumer struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Executions    commands.ExecutionUseCase
	Clock         ports.Clock
	ConsumerGroup string
	DedupTTL      time.Duration
	Logger        *slog.Logger
}

func (c DecisionConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultDecisionCG
	}
	if err := c.Subscriber.Subscribe(ctx, contractsv1.TypeDeletionApproved, group, c.handleApproved); err != nil {
		logger.Error("decision consumer subscribe failed",
			"event", "executor_decision_consumer_subscribe_failed",
			"module", "deletion-consensus/deletion-executor",
			"layer", "worker",
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("decision consumer subscription active",
		"event", "executor_decision_consumer_started",
		"module", "deletion-consensus/deletion-executor",
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

func (c DecisionConsumer) handleApproved(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Payload), c.now().Add(c.dedupTTL()))
	if err != nil {
		return err
	}
	if alreadyProcessed {
		logger.Debug("deletion.approved replay skipped",
			"event", "executor_approved_replayed",
			"module", "deletion-consensus/deletion-executor",
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}

	var payload contractsv1.DecisionPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		logger.Error("deletion.approved payload decode failed",
			"event", "executor_approved_decode_failed",
			"module", "deletion-consensus/deletion-executor",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		releaseReservation(ctx, c.Dedup, logger, event.EventID)
		return domainerrors.ErrInvalidEventPayload
	}

	// Step failures surface as deletion.failed events, not as handler errors;
	// the bus boundary only sees infrastructure problems.
	result, err := c.Executions.ExecuteDeletion(ctx, commands.ExecuteDeletionCommand{
		CorrelationID: event.CorrelationID,
		TargetID:      payload.TargetID,
	})
	if err != nil {
		// The reservation must not outlive the failed attempt: the command is
		// idempotent, and the bus retry has to reach it.
		releaseReservation(ctx, c.Dedup, logger, event.EventID)
		return err
	}

	logger.Info("deletion.approved consumed",
		"event", "executor_approved_consumed",
		"module", "deletion-consensus/deletion-executor",
		"layer", "worker",
		"event_id", event.EventID,
		"correlation_id", event.CorrelationID,
		"target_id", strings.TrimSpace(payload.TargetID),
		"completed", result.Completed,
		"failed", result.Failed,
		"replayed", result.Replayed,
	)
	return nil
}

func (c DecisionConsumer) now() time.Time {
	now := time.Now().UTC()
	if c.Clock != nil {
		now = c.Clock.Now().UTC()
	}
	return now
}

func (c DecisionConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}
