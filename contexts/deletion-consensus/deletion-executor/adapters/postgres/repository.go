package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"centsible/contexts/deletion-consensus/deletion-executor/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/deletion-executor/domain/errors"
	"centsible/contexts/deletion-consensus/deletion-executor/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
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

// SaveExecution performs a conditional write keyed on the stored version, the
// same discipline as the aggregator's ballot store.
func (r *Repository) SaveExecution(ctx context.Context, execution entities.Execution) error {
	row, err := executionModelFromEntity(execution)
	if err != nil {
		return r.logError("executor_repo_save_marshal_failed", err,
			"correlation_id", strings.TrimSpace(execution.CorrelationID),
		)
	}

	if execution.Version == 1 {
		create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "correlation_id"}},
			DoNothing: true,
		}).Create(&row)
		if create.Error != nil {
			if isUniqueViolation(create.Error) {
				return domainerrors.ErrVersionConflict
			}
			return r.logError("executor_repo_save_insert_failed", create.Error,
				"correlation_id", row.CorrelationID,
			)
		}
		if create.RowsAffected == 0 {
			return domainerrors.ErrVersionConflict
		}
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&executionModel{}).
		Where("correlation_id = ?", row.CorrelationID).
		Where("version = ?", execution.Version-1).
		Updates(map[string]any{
			"target_id":       row.TargetID,
			"completed_steps": row.CompletedSteps,
			"status":          row.Status,
			"failed_step":     row.FailedStep,
			"failure_reason":  row.FailureReason,
			"finished_at":     row.FinishedAt,
			"version":         row.Version,
			"updated_at":      row.UpdatedAt,
		})
	if result.Error != nil {
		return r.logError("executor_repo_save_update_failed", result.Error,
			"correlation_id", row.CorrelationID,
			"version", execution.Version,
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrVersionConflict
	}
	return nil
}

func (r *Repository) GetExecution(ctx context.Context, correlationID string) (entities.Execution, error) {
	var row executionModel
	err := r.db.WithContext(ctx).
		Where("correlation_id = ?", strings.TrimSpace(correlationID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Execution{}, domainerrors.ErrExecutionNotFound
		}
		return entities.Execution{}, r.logError("executor_repo_get_failed", err,
			"correlation_id", strings.TrimSpace(correlationID),
		)
	}
	return row.toEntity()
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("executor_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.Type),
		)
	}
	row := outboxModel{
		OutboxID:  strings.TrimSpace(envelope.EventID),
		EventType: strings.TrimSpace(envelope.Type),
		Payload:   payload,
		Status:    outboxStatusPending,
		CreatedAt: envelope.OccurredAt().UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("executor_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("executor_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("executor_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:  row.OutboxID,
			EventType: row.EventType,
			Payload:   append([]byte(nil), row.Payload...),
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("executor_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	row := eventDedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
		ProcessedAt: time.Now().UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("executor_repo_reserve_event_failed", create.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if create.RowsAffected > 0 {
		return false, nil
	}

	var existing eventDedupModel
	if err := r.db.WithContext(ctx).
		Select("payload_hash").
		Where("event_id = ?", row.EventID).
		First(&existing).Error; err != nil {
		return false, r.logError("executor_repo_reserve_event_load_existing_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if existing.PayloadHash != row.PayloadHash {
		return false, domainerrors.ErrConflict
	}
	return true, nil
}

func (r *Repository) ReleaseEvent(ctx context.Context, eventID string) error {
	result := r.db.WithContext(ctx).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Delete(&eventDedupModel{})
	if result.Error != nil {
		return r.logError("executor_repo_release_event_failed", result.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "deletion-consensus/deletion-executor",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("executor repository operation failed", fields...)
	return err
}

type executionModel struct {
	CorrelationID  string     `gorm:"column:correlation_id;primaryKey"`
	TargetID       string     `gorm:"column:target_id"`
	CompletedSteps []byte     `gorm:"column:completed_steps"`
	Status         string     `gorm:"column:status"`
	FailedStep     string     `gorm:"column:failed_step"`
	FailureReason  string     `gorm:"column:failure_reason"`
	Version        int        `gorm:"column:version"`
	StartedAt      time.Time  `gorm:"column:started_at"`
	FinishedAt     *time.Time `gorm:"column:finished_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (executionModel) TableName() string {
	return "deletion_executions"
}

func executionModelFromEntity(execution entities.Execution) (executionModel, error) {
	completedSteps, err := json.Marshal(execution.CompletedSteps)
	if err != nil {
		return executionModel{}, err
	}
	row := executionModel{
		CorrelationID:  strings.TrimSpace(execution.CorrelationID),
		TargetID:       strings.TrimSpace(execution.TargetID),
		CompletedSteps: completedSteps,
		Status:         string(execution.Status),
		FailedStep:     string(execution.FailedStep),
		FailureReason:  strings.TrimSpace(execution.FailureReason),
		Version:        execution.Version,
		StartedAt:      execution.StartedAt.UTC(),
		FinishedAt:     normalizeOptionalTime(execution.FinishedAt),
		UpdatedAt:      execution.UpdatedAt.UTC(),
	}
	if row.StartedAt.IsZero() {
		row.StartedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.StartedAt
	}
	return row, nil
}

func (m executionModel) toEntity() (entities.Execution, error) {
	var completedSteps []entities.Step
	if len(m.CompletedSteps) > 0 {
		if err := json.Unmarshal(m.CompletedSteps, &completedSteps); err != nil {
			return entities.Execution{}, err
		}
	}
	return entities.Execution{
		CorrelationID:  m.CorrelationID,
		TargetID:       m.TargetID,
		CompletedSteps: completedSteps,
		Status:         entities.ExecutionStatus(m.Status),
		FailedStep:     entities.Step(m.FailedStep),
		FailureReason:  m.FailureReason,
		Version:        m.Version,
		StartedAt:      m.StartedAt.UTC(),
		FinishedAt:     normalizeOptionalTime(m.FinishedAt),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}, nil
}

type outboxModel struct {
	OutboxID    string     `gorm:"column:outbox_id;primaryKey"`
	EventType   string     `gorm:"column:event_type"`
	Payload     []byte     `gorm:"column:payload"`
	Status      string     `gorm:"column:status"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	PublishedAt *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "executor_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "executor_event_dedup"
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.ExecutionRepository = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)
