package postgresadapter

import (
	"context"
	"log/slog"
	"strings"

	"centsible/contexts/deletion-consensus/deletion-executor/ports"

	"gorm.io/gorm"
)

// TableTargetStore deletes rows referencing the target from one relational
// table. Exists checks row presence so a resumed execution skips steps a
// prior invocation already finished.
type TableTargetStore struct {
	db     *gorm.DB
	table  string
	column string
	logger *slog.Logger
}

func NewTableTargetStore(db *gorm.DB, table string, column string, logger *slog.Logger) *TableTargetStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TableTargetStore{
		db:     db,
		table:  strings.TrimSpace(table),
		column: strings.TrimSpace(column),
		logger: logger,
	}
}

func (s *TableTargetStore) Exists(ctx context.Context, targetID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Table(s.table).
		Where(s.column+" = ?", strings.TrimSpace(targetID)).
		Count(&count).
		Error
	if err != nil {
		return false, s.logError("executor_target_exists_failed", err, targetID)
	}
	return count > 0, nil
}

func (s *TableTargetStore) Delete(ctx context.Context, targetID string) error {
	err := s.db.WithContext(ctx).
		Table(s.table).
		Where(s.column+" = ?", strings.TrimSpace(targetID)).
		Delete(nil).
		Error
	if err != nil {
		return s.logError("executor_target_delete_failed", err, targetID)
	}
	return nil
}

func (s *TableTargetStore) logError(event string, err error, targetID string) error {
	s.logger.Error("executor target store operation failed",
		"event", event,
		"module", "deletion-consensus/deletion-executor",
		"layer", "adapter",
		"table", s.table,
		"target_id", strings.TrimSpace(targetID),
		"error", err.Error(),
	)
	return err
}

var _ ports.TargetStore = (*TableTargetStore)(nil)
