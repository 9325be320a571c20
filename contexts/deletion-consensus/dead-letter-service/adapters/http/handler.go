package httpadapter

import (
	"context"
	"log/slog"

	"centsible/contexts/deletion-consensus/dead-letter-service/application/commands"
	"centsible/contexts/deletion-consensus/dead-letter-service/application/queries"
	"centsible/contexts/deletion-consensus/dead-letter-service/domain/entities"
	httptransport "centsible/contexts/deletion-consensus/dead-letter-service/transport/http"
)

type Handler struct {
	Triage    queries.TriageUseCase
	Reprocess commands.ReprocessUseCase
	Logger    *slog.Logger
}

// ListEntriesHandler serves GET /ops/dead-letters.
func (h Handler) ListEntriesHandler(ctx context.Context, limit int) (httptransport.ListDeadLettersResponse, error) {
	entries, err := h.Triage.ListEntries(ctx, limit)
	if err != nil {
		return httptransport.ListDeadLettersResponse{}, err
	}
	items := make([]httptransport.DeadLetterEntryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, toEntryResponse(entry))
	}
	return httptransport.ListDeadLettersResponse{Entries: items}, nil
}

// ReprocessHandler serves POST /ops/dead-letters/{entry_id}/reprocess.
func (h Handler) ReprocessHandler(
	ctx context.Context,
	entryID string,
	req httptransport.ReprocessRequest,
) (httptransport.DeadLetterEntryResponse, error) {
	entry, err := h.Reprocess.Reprocess(ctx, commands.ReprocessCommand{
		EntryID:     entryID,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		return httptransport.DeadLetterEntryResponse{}, err
	}
	return toEntryResponse(entry), nil
}

func toEntryResponse(entry entities.DeadLetterEntry) httptransport.DeadLetterEntryResponse {
	return httptransport.DeadLetterEntryResponse{
		EntryID:       entry.EntryID,
		Consumer:      entry.Consumer,
		OriginalEvent: entry.OriginalEvent,
		FailureReason: entry.FailureReason,
		AttemptCount:  entry.AttemptCount,
		FirstFailedAt: entry.FirstFailedAt,
		Status:        string(entry.Status),
		ReprocessedAt: entry.ReprocessedAt,
		ExpiresAt:     entry.ExpiresAt,
	}
}
