package entities

import "time"

// Step identifies one deletion phase. Steps run in dependency order so a
// partial failure never leaves dangling references to already-deleted data.
type Step string

const (
	StepCategoryAssignments Step = "category_assignments"
	StepTransactions        Step = "transactions"
	StepFileMetadata        Step = "file_metadata"
	StepBlobStorage         Step = "blob_storage"
)

// OrderedSteps returns the canonical execution order.
func OrderedSteps() []Step {
	return []Step{
		StepCategoryAssignments,
		StepTransactions,
		StepFileMetadata,
		StepBlobStorage,
	}
}

type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// Execution is the executor's durable per-workflow record. CompletedSteps
// accumulates across re-invocations so a failed run can resume from where it
// stopped instead of repeating destructive work.
type Execution struct {
	CorrelationID  string
	TargetID       string
	CompletedSteps []Step
	Status         ExecutionStatus
	FailedStep     Step
	FailureReason  string
	Version        int
	StartedAt      time.Time
	FinishedAt     *time.Time
	UpdatedAt      time.Time
}

func (e Execution) IsTerminal() bool {
	return e.Status == StatusCompleted
}

func (e Execution) HasCompleted(step Step) bool {
	for _, done := range e.CompletedSteps {
		if done == step {
			return true
		}
	}
	return false
}

// MarkCompleted records a finished step exactly once.
func (e *Execution) MarkCompleted(step Step) {
	if e.HasCompleted(step) {
		return
	}
	e.CompletedSteps = append(e.CompletedSteps, step)
}

// IncompleteSteps lists the ordered steps still outstanding.
func (e Execution) IncompleteSteps() []Step {
	var remaining []Step
	for _, step := range OrderedSteps() {
		if !e.HasCompleted(step) {
			remaining = append(remaining, step)
		}
	}
	return remaining
}
