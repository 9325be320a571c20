package queries

import (
	"context"
	"strings"

	"centsible/contexts/deletion-consensus/workflow-tracker/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/workflow-tracker/domain/errors"
	"centsible/contexts/deletion-consensus/workflow-tracker/ports"
)

// ProgressUseCase serves the polling API. Reads have no side effects.
type ProgressUseCase struct {
	Progress ports.ProgressRepository
}

func (uc ProgressUseCase) GetProgress(ctx context.Context, correlationID string) (entities.WorkflowProgress, error) {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return entities.WorkflowProgress{}, domainerrors.ErrWorkflowNotFound
	}
	return uc.Progress.GetProgress(ctx, correlationID)
}
