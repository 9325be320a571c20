package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"centsible/contexts/deletion-consensus/dead-letter-service/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/dead-letter-service/domain/errors"
	"centsible/contexts/deletion-consensus/dead-letter-service/ports"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) AppendEntry(ctx context.Context, entry entities.DeadLetterEntry) error {
	row := entryModelFromEntity(entry)
	if row.EntryID == "" {
		return domainerrors.ErrInvalidEntryInput
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("dlq_repo_append_failed", create.Error, "entry_id", row.EntryID)
	}
	return nil
}

func (r *Repository) GetEntry(ctx context.Context, entryID string) (entities.DeadLetterEntry, error) {
	var row entryModel
	err := r.db.WithContext(ctx).
		Where("entry_id = ?", strings.TrimSpace(entryID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.DeadLetterEntry{}, domainerrors.ErrEntryNotFound
		}
		return entities.DeadLetterEntry{}, r.logError("dlq_repo_get_failed", err,
			"entry_id", strings.TrimSpace(entryID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListEntries(ctx context.Context, limit int) ([]entities.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []entryModel
	if err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("dlq_repo_list_failed", err, "limit", limit)
	}
	items := make([]entities.DeadLetterEntry, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) MarkReprocessed(ctx context.Context, entryID string, reprocessedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&entryModel{}).
		Where("entry_id = ?", strings.TrimSpace(entryID)).
		Updates(map[string]any{
			"status":         string(entities.StatusReprocessed),
			"reprocessed_at": reprocessedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("dlq_repo_mark_reprocessed_failed", result.Error,
			"entry_id", strings.TrimSpace(entryID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrEntryNotFound
	}
	return nil
}

func (r *Repository) DeleteExpired(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	// Postgres DELETE has no LIMIT; bound the batch through a subquery.
	result := r.db.WithContext(ctx).Exec(
		`DELETE FROM dead_letter_entries
		 WHERE entry_id IN (
		   SELECT entry_id FROM dead_letter_entries
		   WHERE expires_at < ?
		   ORDER BY expires_at ASC
		   LIMIT ?
		 )`,
		cutoff.UTC(), limit,
	)
	if result.Error != nil {
		return 0, r.logError("dlq_repo_delete_expired_failed", result.Error, "limit", limit)
	}
	return int(result.RowsAffected), nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "deletion-consensus/dead-letter-service",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("dead letter repository operation failed", fields...)
	return err
}

type entryModel struct {
	EntryID       string     `gorm:"column:entry_id;primaryKey"`
	Consumer      string     `gorm:"column:consumer"`
	OriginalEvent []byte     `gorm:"column:original_event"`
	FailureReason string     `gorm:"column:failure_reason"`
	AttemptCount  int        `gorm:"column:attempt_count"`
	FirstFailedAt time.Time  `gorm:"column:first_failed_at"`
	Status        string     `gorm:"column:status"`
	ReprocessedAt *time.Time `gorm:"column:reprocessed_at"`
	ExpiresAt     time.Time  `gorm:"column:expires_at"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
}

func (entryModel) TableName() string {
	return "dead_letter_entries"
}

func entryModelFromEntity(entry entities.DeadLetterEntry) entryModel {
	row := entryModel{
		EntryID:       strings.TrimSpace(entry.EntryID),
		Consumer:      strings.TrimSpace(entry.Consumer),
		OriginalEvent: append([]byte(nil), entry.OriginalEvent...),
		FailureReason: strings.TrimSpace(entry.FailureReason),
		AttemptCount:  entry.AttemptCount,
		FirstFailedAt: entry.FirstFailedAt.UTC(),
		Status:        string(entry.Status),
		ReprocessedAt: normalizeOptionalTime(entry.ReprocessedAt),
		ExpiresAt:     entry.ExpiresAt.UTC(),
		CreatedAt:     entry.CreatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row
}

func (m entryModel) toEntity() entities.DeadLetterEntry {
	return entities.DeadLetterEntry{
		EntryID:       m.EntryID,
		Consumer:      m.Consumer,
		OriginalEvent: append([]byte(nil), m.OriginalEvent...),
		FailureReason: m.FailureReason,
		AttemptCount:  m.AttemptCount,
		FirstFailedAt: m.FirstFailedAt.UTC(),
		Status:        entities.EntryStatus(m.Status),
		ReprocessedAt: normalizeOptionalTime(m.ReprocessedAt),
		ExpiresAt:     m.ExpiresAt.UTC(),
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}

var _ ports.DeadLetterRepository = (*Repository)(nil)
