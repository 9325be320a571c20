package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"centsible/contexts/deletion-consensus/vote-aggregator/domain/entities"
	domainerrors "centsible/contexts/deletion-consensus/vote-aggregator/domain/errors"
	"centsible/contexts/deletion-consensus/vote-aggregator/ports"

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

// SaveBallot performs a conditional write. A new ballot inserts only at
// version 1; an existing ballot updates only when the stored version equals
// ballot.Version-1. Lost races surface as ErrVersionConflict.
func (r *Repository) SaveBallot(ctx context.Context, ballot entities.Ballot) error {
	row, err := ballotModelFromEntity(ballot)
	if err != nil {
		return r.logError("aggregator_repo_save_ballot_marshal_failed", err,
			"correlation_id", strings.TrimSpace(ballot.CorrelationID),
		)
	}

	if ballot.Version == 1 {
		create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "correlation_id"}},
			DoNothing: true,
		}).Create(&row)
		if create.Error != nil {
			if isUniqueViolation(create.Error) {
				return domainerrors.ErrVersionConflict
			}
			return r.logError("aggregator_repo_save_ballot_insert_failed", create.Error,
				"correlation_id", row.CorrelationID,
			)
		}
		if create.RowsAffected == 0 {
			return domainerrors.ErrVersionConflict
		}
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&ballotModel{}).
		Where("correlation_id = ?", row.CorrelationID).
		Where("version = ?", ballot.Version-1).
		Updates(map[string]any{
			"target_id":         row.TargetID,
			"requested_by":      row.RequestedBy,
			"required_voters":   row.RequiredVoters,
			"received_votes":    row.ReceivedVotes,
			"deadline":          row.Deadline,
			"outcome":           row.Outcome,
			"outcome_reason":    row.OutcomeReason,
			"decision_event_id": row.DecisionEventID,
			"finalized_at":      row.FinalizedAt,
			"version":           row.Version,
			"updated_at":        row.UpdatedAt,
		})
	if result.Error != nil {
		return r.logError("aggregator_repo_save_ballot_update_failed", result.Error,
			"correlation_id", row.CorrelationID,
			"version", ballot.Version,
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrVersionConflict
	}
	return nil
}

func (r *Repository) GetBallot(ctx context.Context, correlationID string) (entities.Ballot, error) {
	var row ballotModel
	err := r.db.WithContext(ctx).
		Where("correlation_id = ?", strings.TrimSpace(correlationID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Ballot{}, domainerrors.ErrBallotNotFound
		}
		return entities.Ballot{}, r.logError("aggregator_repo_get_ballot_failed", err,
			"correlation_id", strings.TrimSpace(correlationID),
		)
	}
	return row.toEntity()
}

func (r *Repository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]entities.Ballot, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []ballotModel
	if err := r.db.WithContext(ctx).
		Where("outcome = ?", string(entities.OutcomePending)).
		Where("deadline < ?", cutoff.UTC()).
		Order("deadline ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("aggregator_repo_list_expired_pending_failed", err, "limit", limit)
	}
	items := make([]entities.Ballot, 0, len(rows))
	for _, row := range rows {
		ballot, err := row.toEntity()
		if err != nil {
			return nil, r.logError("aggregator_repo_list_expired_decode_failed", err,
				"correlation_id", row.CorrelationID,
			)
		}
		items = append(items, ballot)
	}
	return items, nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("aggregator_repo_append_outbox_marshal_failed", err,
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
		return r.logError("aggregator_repo_append_outbox_insert_failed", create.Error,
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
		return r.logError("aggregator_repo_append_outbox_load_existing_failed", err,
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
		return nil, r.logError("aggregator_repo_list_pending_outbox_failed", err, "limit", limit)
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
		return r.logError("aggregator_repo_mark_outbox_published_failed", result.Error,
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
		return false, r.logError("aggregator_repo_reserve_event_failed", create.Error,
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
		return false, r.logError("aggregator_repo_reserve_event_load_existing_failed", err,
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
		return r.logError("aggregator_repo_release_event_failed", result.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "deletion-consensus/vote-aggregator",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("aggregator repository operation failed", fields...)
	return err
}

type ballotModel struct {
	CorrelationID   string     `gorm:"column:correlation_id;primaryKey"`
	TargetID        string     `gorm:"column:target_id"`
	RequestedBy     string     `gorm:"column:requested_by"`
	RequiredVoters  []byte     `gorm:"column:required_voters"`
	ReceivedVotes   []byte     `gorm:"column:received_votes"`
	Deadline        time.Time  `gorm:"column:deadline"`
	Outcome         string     `gorm:"column:outcome"`
	OutcomeReason   string     `gorm:"column:outcome_reason"`
	DecisionEventID string     `gorm:"column:decision_event_id"`
	FinalizedAt     *time.Time `gorm:"column:finalized_at"`
	Version         int        `gorm:"column:version"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

func (ballotModel) TableName() string {
	return "deletion_ballots"
}

func ballotModelFromEntity(ballot entities.Ballot) (ballotModel, error) {
	requiredVoters, err := json.Marshal(ballot.RequiredVoters)
	if err != nil {
		return ballotModel{}, err
	}
	receivedVotes, err := json.Marshal(ballot.ReceivedVotes)
	if err != nil {
		return ballotModel{}, err
	}
	row := ballotModel{
		CorrelationID:   strings.TrimSpace(ballot.CorrelationID),
		TargetID:        strings.TrimSpace(ballot.TargetID),
		RequestedBy:     strings.TrimSpace(ballot.RequestedBy),
		RequiredVoters:  requiredVoters,
		ReceivedVotes:   receivedVotes,
		Deadline:        ballot.Deadline.UTC(),
		Outcome:         string(ballot.Outcome),
		OutcomeReason:   strings.TrimSpace(ballot.OutcomeReason),
		DecisionEventID: strings.TrimSpace(ballot.DecisionEventID),
		FinalizedAt:     normalizeOptionalTime(ballot.FinalizedAt),
		Version:         ballot.Version,
		CreatedAt:       ballot.CreatedAt.UTC(),
		UpdatedAt:       ballot.UpdatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row, nil
}

func (m ballotModel) toEntity() (entities.Ballot, error) {
	var requiredVoters []string
	if len(m.RequiredVoters) > 0 {
		if err := json.Unmarshal(m.RequiredVoters, &requiredVoters); err != nil {
			return entities.Ballot{}, err
		}
	}
	receivedVotes := make(map[string]entities.Vote)
	if len(m.ReceivedVotes) > 0 {
		if err := json.Unmarshal(m.ReceivedVotes, &receivedVotes); err != nil {
			return entities.Ballot{}, err
		}
	}
	return entities.Ballot{
		CorrelationID:   m.CorrelationID,
		TargetID:        m.TargetID,
		RequestedBy:     m.RequestedBy,
		RequiredVoters:  requiredVoters,
		ReceivedVotes:   receivedVotes,
		Deadline:        m.Deadline.UTC(),
		Outcome:         entities.BallotOutcome(m.Outcome),
		OutcomeReason:   m.OutcomeReason,
		DecisionEventID: m.DecisionEventID,
		FinalizedAt:     normalizeOptionalTime(m.FinalizedAt),
		Version:         m.Version,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
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
	return "aggregator_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "aggregator_event_dedup"
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

var _ ports.BallotRepository = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)
