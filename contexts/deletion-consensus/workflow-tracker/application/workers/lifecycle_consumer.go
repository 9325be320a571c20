package workers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	application "centsible/contexts/deletion-consensus/workflow-tracker/application"
	"centsible/contexts/deletion-consensus/workflow-tracker/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/workflow-tracker/domain/errors"
	"centsible/contexts/deletion-consensus/workflow-tracker/ports"
)

const defaultLifecycleCG = "workflow-tracker-lifecycle-cg"

const defaultSaveAttempts = 3

// LifecycleConsumer folds every deletion lifecycle event into the progress
// projection. The fold itself is idempotent and order-tolerant, so this
// consumer needs no event dedup store; replaying an event reproduces the same
// projection state.
type LifecycleConsumer struct {
	Subscriber    ports.EventSubscriber
	Progress      ports.ProgressRepository
	Clock         ports.Clock
	ConsumerGroup string
	SaveAttempts  int
	Logger        *slog.Logger
}

// Start subscribes the tracker to the full lifecycle event set.
func (c LifecycleConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultLifecycleCG
	}
	eventTypes := []string{
		contractsv1.TypeDeletionRequested,
		contractsv1.TypeDeletionVote,
		contractsv1.TypeDeletionCancelled,
		contractsv1.TypeDeletionApproved,
		contractsv1.TypeDeletionDenied,
		contractsv1.TypeDeletionExecuting,
		contractsv1.TypeDeletionCompleted,
		contractsv1.TypeDeletionFailed,
	}
	for _, eventType := range eventTypes {
		if err := c.Subscriber.Subscribe(ctx, eventType, group, c.handleLifecycle); err != nil {
			logger.Error("lifecycle consumer subscribe failed",
				"event", "tracker_lifecycle_subscribe_failed",
				"module", "deletion-consensus/workflow-tracker",
				"layer", "worker",
				"consumer_group", group,
				"event_type", eventType,
				"error", err.Error(),
			)
			return err
		}
	}
	logger.Info("lifecycle consumer subscriptions active",
		"event", "tracker_lifecycle_started",
		"module", "deletion-consensus/workflow-tracker",
		"layer", "worker",
		"consumer_group", group,
		"event_types", len(eventTypes),
	)
	return nil
}

func (c LifecycleConsumer) handleLifecycle(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	correlationID := strings.TrimSpace(event.CorrelationID)
	if correlationID == "" {
		return domainerrors.ErrInvalidEventPayload
	}
	occurredAt := event.OccurredAt()
	if occurredAt.IsZero() {
		occurredAt = c.now()
	}

	attempts := c.SaveAttempts
	if attempts <= 0 {
		attempts = defaultSaveAttempts
	}
	for attempt := 0; attempt < attempts; attempt++ {
		progress, err := c.Progress.GetProgress(ctx, correlationID)
		if err != nil {
			if !errors.Is(err, domainerrors.ErrWorkflowNotFound) {
				return err
			}
			progress = entities.NewWorkflowProgress(correlationID)
		}

		if err := c.fold(&progress, event, occurredAt); err != nil {
			logger.Error("lifecycle payload decode failed",
				"event", "tracker_lifecycle_decode_failed",
				"module", "deletion-consensus/workflow-tracker",
				"layer", "worker",
				"event_id", event.EventID,
				"event_type", event.Type,
				"error", err.Error(),
			)
			return domainerrors.ErrInvalidEventPayload
		}

		progress.Version++
		now := c.now()
		if progress.CreatedAt.IsZero() {
			progress.CreatedAt = now
		}
		progress.UpdatedAt = now

		if err := c.Progress.SaveProgress(ctx, progress); err != nil {
			if errors.Is(err, domainerrors.ErrVersionConflict) {
				continue
			}
			return err
		}

		logger.Debug("lifecycle event folded",
			"event", "tracker_lifecycle_folded",
			"module", "deletion-consensus/workflow-tracker",
			"layer", "worker",
			"event_id", event.EventID,
			"event_type", event.Type,
			"correlation_id", correlationID,
			"phase", string(progress.Phase),
			"progress_percent", progress.ProgressPercent,
		)
		return nil
	}
	return domainerrors.ErrVersionConflict
}

func (c LifecycleConsumer) fold(progress *entities.WorkflowProgress, event ports.EventEnvelope, at time.Time) error {
	switch event.Type {
	case contractsv1.TypeDeletionRequested:
		var payload contractsv1.RequestedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		progress.ApplyRequested(payload.TargetID, len(payload.RequiredVoters), at)
	case contractsv1.TypeDeletionVote:
		var payload contractsv1.VotePayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		progress.ApplyVote(payload.ParticipantID, at)
	case contractsv1.TypeDeletionCancelled:
		progress.ApplyCancelled(at)
	case contractsv1.TypeDeletionApproved, contractsv1.TypeDeletionDenied:
		var payload contractsv1.DecisionPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		outcome := strings.TrimSpace(payload.Outcome)
		if outcome == "" && event.Type == contractsv1.TypeDeletionApproved {
			outcome = contractsv1.OutcomeApproved
		}
		progress.ApplyDecision(outcome, at)
	case contractsv1.TypeDeletionExecuting:
		progress.ApplyExecuting(at)
	case contractsv1.TypeDeletionCompleted:
		progress.ApplyCompleted(at)
	case contractsv1.TypeDeletionFailed:
		var payload contractsv1.ExecutionPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		progress.ApplyFailed(payload.FailedStep, at)
	}
	return nil
}

func (c LifecycleConsumer) now() time.Time {
	now := time.Now().UTC()
	if c.Clock != nil {
		now = c.Clock.Now().UTC()
	}
	return now
}
