package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	contractsv1 "centsible/contracts/gen/events/v1"
	application "centsible/contexts/deletion-consensus/deletion-executor/application"
	"centsible/contexts/deletion-consensus/deletion-executor/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/deletion-executor/domain/errors"
	"centsible/contexts/deletion-consensus/deletion-executor/ports"
)

const sourceService = "deletion-executor"

// ExecuteDeletionCommand runs the ordered deletion for one approved workflow.
type ExecuteDeletionCommand struct {
	CorrelationID string
	TargetID      string
}

// ExecuteDeletionResult reports how the invocation ended. Replayed means the
// workflow was already completed and nothing ran.
type ExecuteDeletionResult struct {
	Execution entities.Execution
	Completed bool
	Failed    bool
	Replayed  bool
}

// ExecutionUseCase orchestrates the ordered deletion steps. A step failure
// never rolls back earlier steps; the record keeps the completed set so a
// later re-invocation resumes from the first outstanding step. Steps check
// target existence first, so re-running an already-performed deletion is a
// skip, not a second destructive write.
type ExecutionUseCase struct {
	Executions   ports.ExecutionRepository
	Stores       map[entities.Step]ports.TargetStore
	Outbox       ports.OutboxWriter
	Clock        ports.Clock
	IDGen        ports.IDGenerator
	SaveAttempts int
	Logger       *slog.Logger
}

func (uc ExecutionUseCase) ExecuteDeletion(ctx context.Context, cmd ExecuteDeletionCommand) (ExecuteDeletionResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	correlationID := strings.TrimSpace(cmd.CorrelationID)
	targetID := strings.TrimSpace(cmd.TargetID)
	if correlationID == "" || targetID == "" {
		return ExecuteDeletionResult{}, domainerrors.ErrInvalidExecutionInput
	}

	execution, fresh, err := uc.loadOrStart(ctx, correlationID, targetID)
	if err != nil {
		return ExecuteDeletionResult{}, err
	}
	if execution.IsTerminal() {
		logger.Info("execution replay acknowledged",
			"event", "executor_replay_acknowledged",
			"module", "deletion-consensus/deletion-executor",
			"layer", "application",
			"correlation_id", correlationID,
		)
		return ExecuteDeletionResult{Execution: execution, Replayed: true}, nil
	}
	if fresh {
		if err := uc.appendLifecycleEvent(ctx, execution, contractsv1.TypeDeletionExecuting, ""); err != nil {
			return ExecuteDeletionResult{}, err
		}
	}

	for _, step := range entities.OrderedSteps() {
		if execution.HasCompleted(step) {
			continue
		}
		if err := uc.runStep(ctx, step, targetID); err != nil {
			execution.Status = entities.StatusFailed
			execution.FailedStep = step
			execution.FailureReason = err.Error()
			saved, saveErr := uc.save(ctx, execution)
			if saveErr != nil {
				return ExecuteDeletionResult{}, saveErr
			}
			execution = saved
			if err := uc.appendLifecycleEvent(ctx, execution, contractsv1.TypeDeletionFailed, execution.FailureReason); err != nil {
				return ExecuteDeletionResult{}, err
			}
			logger.Error("deletion step failed",
				"event", "executor_step_failed",
				"module", "deletion-consensus/deletion-executor",
				"layer", "application",
				"correlation_id", correlationID,
				"target_id", targetID,
				"step", string(step),
				"completed_steps", len(execution.CompletedSteps),
				"error", err.Error(),
			)
			return ExecuteDeletionResult{Execution: execution, Failed: true}, nil
		}

		execution.MarkCompleted(step)
		execution.Status = entities.StatusRunning
		execution.FailedStep = ""
		execution.FailureReason = ""
		saved, err := uc.save(ctx, execution)
		if err != nil {
			return ExecuteDeletionResult{}, err
		}
		execution = saved
		logger.Info("deletion step completed",
			"event", "executor_step_completed",
			"module", "deletion-consensus/deletion-executor",
			"layer", "application",
			"correlation_id", correlationID,
			"target_id", targetID,
			"step", string(step),
		)
	}

	now := uc.now()
	execution.Status = entities.StatusCompleted
	execution.FinishedAt = &now
	saved, err := uc.save(ctx, execution)
	if err != nil {
		return ExecuteDeletionResult{}, err
	}
	execution = saved
	if err := uc.appendLifecycleEvent(ctx, execution, contractsv1.TypeDeletionCompleted, ""); err != nil {
		return ExecuteDeletionResult{}, err
	}
	logger.Info("deletion execution completed",
		"event", "executor_execution_completed",
		"module", "deletion-consensus/deletion-executor",
		"layer", "application",
		"correlation_id", correlationID,
		"target_id", targetID,
	)
	return ExecuteDeletionResult{Execution: execution, Completed: true}, nil
}

// loadOrStart fetches the execution record, creating it when this is the first
// invocation for the workflow. A create race resolves by re-reading; only one
// writer observes fresh=true, so the executing event is appended once.
func (uc ExecutionUseCase) loadOrStart(
	ctx context.Context,
	correlationID string,
	targetID string,
) (entities.Execution, bool, error) {
	execution, err := uc.Executions.GetExecution(ctx, correlationID)
	if err == nil {
		return execution, false, nil
	}
	if !errors.Is(err, domainerrors.ErrExecutionNotFound) {
		return entities.Execution{}, false, err
	}

	now := uc.now()
	execution = entities.Execution{
		CorrelationID: correlationID,
		TargetID:      targetID,
		Status:        entities.StatusRunning,
		Version:       1,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	if err := uc.Executions.SaveExecution(ctx, execution); err != nil {
		if errors.Is(err, domainerrors.ErrVersionConflict) {
			existing, readErr := uc.Executions.GetExecution(ctx, correlationID)
			if readErr != nil {
				return entities.Execution{}, false, readErr
			}
			return existing, false, nil
		}
		return entities.Execution{}, false, err
	}
	return execution, true, nil
}

// runStep deletes the target from one dependent store. Absence means a prior
// invocation already finished this step, so it counts as done.
func (uc ExecutionUseCase) runStep(ctx context.Context, step entities.Step, targetID string) error {
	store, ok := uc.Stores[step]
	if !ok {
		return domainerrors.ErrInvalidExecutionInput
	}
	exists, err := store.Exists(ctx, targetID)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return store.Delete(ctx, targetID)
}

func (uc ExecutionUseCase) save(ctx context.Context, execution entities.Execution) (entities.Execution, error) {
	for attempt := 0; attempt < uc.resolveSaveAttempts(); attempt++ {
		candidate := execution
		candidate.Version = execution.Version + 1
		candidate.UpdatedAt = uc.now()
		err := uc.Executions.SaveExecution(ctx, candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, domainerrors.ErrVersionConflict) {
			return entities.Execution{}, err
		}
		// Another invocation moved the record; merge by re-reading and
		// re-applying our completed set on top.
		current, readErr := uc.Executions.GetExecution(ctx, execution.CorrelationID)
		if readErr != nil {
			return entities.Execution{}, readErr
		}
		for _, step := range execution.CompletedSteps {
			current.MarkCompleted(step)
		}
		current.Status = execution.Status
		current.FailedStep = execution.FailedStep
		current.FailureReason = execution.FailureReason
		current.FinishedAt = execution.FinishedAt
		execution = current
	}
	return entities.Execution{}, domainerrors.ErrVersionConflict
}

func (uc ExecutionUseCase) appendLifecycleEvent(
	ctx context.Context,
	execution entities.Execution,
	eventType string,
	reason string,
) error {
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	payload := contractsv1.ExecutionPayload{
		TargetID:        execution.TargetID,
		CompletedSteps:  stepNames(execution.CompletedSteps),
		IncompleteSteps: stepNames(execution.IncompleteSteps()),
		FailedStep:      string(execution.FailedStep),
		Reason:          reason,
	}
	envelope, err := contractsv1.New(eventID, execution.CorrelationID, sourceService, eventType, uc.now(), payload)
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}

func stepNames(steps []entities.Step) []string {
	if len(steps) == 0 {
		return nil
	}
	names := make([]string, 0, len(steps))
	for _, step := range steps {
		names = append(names, string(step))
	}
	return names
}

func (uc ExecutionUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

func (uc ExecutionUseCase) resolveSaveAttempts() int {
	if uc.SaveAttempts <= 0 {
		return 3
	}
	return uc.SaveAttempts
}
