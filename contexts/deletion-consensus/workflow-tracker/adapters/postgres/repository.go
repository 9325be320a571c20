package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"centsible/contexts/deletion-consensus/workflow-tracker/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/workflow-tracker/domain/errors"
	"centsible/contexts/deletion-consensus/workflow-tracker/ports"

	"github.com/jackc/pgx/v5/pgconn"
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

// SaveProgress performs the module's standard conditional write keyed on the
// stored version.
func (r *Repository) SaveProgress(ctx context.Context, progress entities.WorkflowProgress) error {
	row, err := progressModelFromEntity(progress)
	if err != nil {
		return r.logError("tracker_repo_save_marshal_failed", err,
			"correlation_id", strings.TrimSpace(progress.CorrelationID),
		)
	}

	if progress.Version == 1 {
		create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "correlation_id"}},
			DoNothing: true,
		}).Create(&row)
		if create.Error != nil {
			if isUniqueViolation(create.Error) {
				return domainerrors.ErrVersionConflict
			}
			return r.logError("tracker_repo_save_insert_failed", create.Error,
				"correlation_id", row.CorrelationID,
			)
		}
		if create.RowsAffected == 0 {
			return domainerrors.ErrVersionConflict
		}
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&progressModel{}).
		Where("correlation_id = ?", row.CorrelationID).
		Where("version = ?", progress.Version-1).
		Updates(map[string]any{
			"target_id":          row.TargetID,
			"phase":              row.Phase,
			"outcome":            row.Outcome,
			"failed_step":        row.FailedStep,
			"required_voters":    row.RequiredVoters,
			"voted_participants": row.VotedParticipants,
			"cancellable":        row.Cancellable,
			"progress_percent":   row.ProgressPercent,
			"last_event_at":      row.LastEventAt,
			"version":            row.Version,
			"updated_at":         row.UpdatedAt,
		})
	if result.Error != nil {
		return r.logError("tracker_repo_save_update_failed", result.Error,
			"correlation_id", row.CorrelationID,
			"version", progress.Version,
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrVersionConflict
	}
	return nil
}

func (r *Repository) GetProgress(ctx context.Context, correlationID string) (entities.WorkflowProgress, error) {
	var row progressModel
	err := r.db.WithContext(ctx).
		Where("correlation_id = ?", strings.TrimSpace(correlationID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.WorkflowProgress{}, domainerrors.ErrWorkflowNotFound
		}
		return entities.WorkflowProgress{}, r.logError("tracker_repo_get_failed", err,
			"correlation_id", strings.TrimSpace(correlationID),
		)
	}
	return row.toEntity()
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "deletion-consensus/workflow-tracker",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("tracker repository operation failed", fields...)
	return err
}

type progressModel struct {
	CorrelationID     string    `gorm:"column:correlation_id;primaryKey"`
	TargetID          string    `gorm:"column:target_id"`
	Phase             string    `gorm:"column:phase"`
	Outcome           string    `gorm:"column:outcome"`
	FailedStep        string    `gorm:"column:failed_step"`
	RequiredVoters    int       `gorm:"column:required_voters"`
	VotedParticipants []byte    `gorm:"column:voted_participants"`
	Cancellable       bool      `gorm:"column:cancellable"`
	ProgressPercent   int       `gorm:"column:progress_percent"`
	LastEventAt       time.Time `gorm:"column:last_event_at"`
	Version           int       `gorm:"column:version"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (progressModel) TableName() string {
	return "workflow_progress"
}

func progressModelFromEntity(progress entities.WorkflowProgress) (progressModel, error) {
	votedParticipants, err := json.Marshal(progress.VotedParticipants)
	if err != nil {
		return progressModel{}, err
	}
	row := progressModel{
		CorrelationID:     strings.TrimSpace(progress.CorrelationID),
		TargetID:          strings.TrimSpace(progress.TargetID),
		Phase:             string(progress.Phase),
		Outcome:           strings.TrimSpace(progress.Outcome),
		FailedStep:        strings.TrimSpace(progress.FailedStep),
		RequiredVoters:    progress.RequiredVoters,
		VotedParticipants: votedParticipants,
		Cancellable:       progress.Cancellable,
		ProgressPercent:   progress.ProgressPercent,
		LastEventAt:       progress.LastEventAt.UTC(),
		Version:           progress.Version,
		CreatedAt:         progress.CreatedAt.UTC(),
		UpdatedAt:         progress.UpdatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row, nil
}

func (m progressModel) toEntity() (entities.WorkflowProgress, error) {
	votedParticipants := make(map[string]bool)
	if len(m.VotedParticipants) > 0 {
		if err := json.Unmarshal(m.VotedParticipants, &votedParticipants); err != nil {
			return entities.WorkflowProgress{}, err
		}
	}
	return entities.WorkflowProgress{
		CorrelationID:     m.CorrelationID,
		TargetID:          m.TargetID,
		Phase:             entities.Phase(m.Phase),
		Outcome:           m.Outcome,
		FailedStep:        m.FailedStep,
		RequiredVoters:    m.RequiredVoters,
		VotedParticipants: votedParticipants,
		Cancellable:       m.Cancellable,
		ProgressPercent:   m.ProgressPercent,
		LastEventAt:       m.LastEventAt.UTC(),
		Version:           m.Version,
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
	}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.ProgressRepository = (*Repository)(nil)
