package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	application "centsible/contexts/deletion-consensus/dead-letter-service/application"
	"centsible/contexts/deletion-consensus/dead-letter-service/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/dead-letter-service/domain/errors"
	"centsible/contexts/deletion-consensus/dead-letter-service/ports"
)

// ReprocessCommand republishes one dead-lettered event. Replay never happens
// automatically; this command is the explicit, audited operator action.
type ReprocessCommand struct {
	EntryID     string
	RequestedBy string
}

type ReprocessUseCase struct {
	Entries   ports.DeadLetterRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	Logger    *slog.Logger
}

func (uc ReprocessUseCase) Reprocess(ctx context.Context, cmd ReprocessCommand) (entities.DeadLetterEntry, error) {
	logger := application.ResolveLogger(uc.Logger)
	entryID := strings.TrimSpace(cmd.EntryID)
	if entryID == "" {
		return entities.DeadLetterEntry{}, domainerrors.ErrInvalidEntryInput
	}

	entry, err := uc.Entries.GetEntry(ctx, entryID)
	if err != nil {
		return entities.DeadLetterEntry{}, err
	}
	if entry.Status == entities.StatusReprocessed {
		return entities.DeadLetterEntry{}, domainerrors.ErrAlreadyReprocessed
	}

	var event ports.EventEnvelope
	if err := json.Unmarshal(entry.OriginalEvent, &event); err != nil {
		return entities.DeadLetterEntry{}, err
	}
	if err := uc.Publisher.Publish(ctx, event); err != nil {
		return entities.DeadLetterEntry{}, err
	}

	now := uc.now()
	if err := uc.Entries.MarkReprocessed(ctx, entryID, now); err != nil {
		return entities.DeadLetterEntry{}, err
	}
	entry.Status = entities.StatusReprocessed
	entry.ReprocessedAt = &now

	logger.Info("dead letter reprocessed",
		"event", "dlq_entry_reprocessed",
		"module", "deletion-consensus/dead-letter-service",
		"layer", "application",
		"entry_id", entryID,
		"event_id", event.EventID,
		"event_type", event.Type,
		"requested_by", strings.TrimSpace(cmd.RequestedBy),
	)
	return entry, nil
}

func (uc ReprocessUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}
