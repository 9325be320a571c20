package queries

import (
	"context"

	"centsible/contexts/deletion-consensus/dead-letter-service/domain/entities"
	"centsible/contexts/deletion-consensus/dead-letter-service/ports"
)

// TriageUseCase serves operator reads over the dead-letter store.
type TriageUseCase struct {
	Entries ports.DeadLetterRepository
}

func (uc TriageUseCase) ListEntries(ctx context.Context, limit int) ([]entities.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return uc.Entries.ListEntries(ctx, limit)
}

func (uc TriageUseCase) GetEntry(ctx context.Context, entryID string) (entities.DeadLetterEntry, error) {
	return uc.Entries.GetEntry(ctx, entryID)
}
