package httpadapter

import (
	"context"
	"log/slog"

	"centsible/contexts/deletion-consensus/workflow-tracker/application/queries"
	"centsible/contexts/deletion-consensus/workflow-tracker/domain/entities"
	httptransport "centsible/contexts/deletion-consensus/workflow-tracker/transport/http"
)

type Handler struct {
	Progress queries.ProgressUseCase
	Logger   *slog.Logger
}

// GetProgressHandler serves GET /workflows/{correlation_id}. The response
// exposes the failed phase for support triage, never internal retry counts.
func (h Handler) GetProgressHandler(ctx context.Context, correlationID string) (httptransport.WorkflowProgressResponse, error) {
	progress, err := h.Progress.GetProgress(ctx, correlationID)
	if err != nil {
		return httptransport.WorkflowProgressResponse{}, err
	}
	return httptransport.WorkflowProgressResponse{
		CorrelationID:   progress.CorrelationID,
		Status:          progressStatus(progress),
		ProgressPercent: progress.ProgressPercent,
		CurrentPhase:    string(progress.Phase),
		Cancellable:     progress.Cancellable,
		FailedStep:      progress.FailedStep,
	}, nil
}

func progressStatus(progress entities.WorkflowProgress) string {
	switch {
	case progress.Phase == entities.PhaseCompleted:
		return "completed"
	case progress.Phase == entities.PhaseFailed && progress.Outcome != "":
		return progress.Outcome
	case progress.Phase == entities.PhaseFailed:
		return "failed"
	default:
		return "in_progress"
	}
}
