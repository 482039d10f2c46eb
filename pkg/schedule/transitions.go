package schedule

import (
	"context"
	"fmt"
	"time"
)

// TransitionLog provides append-only operations for state transition records.
// Records are normally written inside ScheduleStore transactions so they
// commit atomically with the state change they describe; the log is the read
// side plus the retention hook.
type TransitionLog struct {
	store *ScheduleStore
}

// NewTransitionLog creates a new TransitionLog over the same database as the
// schedule store.
func NewTransitionLog(store *ScheduleStore) *TransitionLog {
	return &TransitionLog{store: store}
}

// AutoMigrate creates or updates the state_transition_records table.
func (l *TransitionLog) AutoMigrate() error {
	return l.store.db.AutoMigrate(&StateTransitionRecord{})
}

// Append creates a new immutable transition record outside any state-change
// transaction. Used for standalone events such as rejected transition
// attempts.
func (l *TransitionLog) Append(ctx context.Context, rec *StateTransitionRecord) error {
	if err := l.store.db.WithContext(ctx).Create(rec).Error; err != nil {
		return l.store.wrapErr("append transition record", err)
	}
	return nil
}

// ListByEntity returns paginated transition records for one entity, ordered
// by created_at DESC (newest first). pageToken is an RFC3339 timestamp;
// records with created_at < pageToken are returned.
func (l *TransitionLog) ListByEntity(ctx context.Context, entityType, entityID string, pageSize int, pageToken string) ([]StateTransitionRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	db := l.store.db.WithContext(ctx)

	var totalSize int64
	err := db.Model(&StateTransitionRecord{}).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Count(&totalSize).Error
	if err != nil {
		return nil, "", 0, l.store.wrapErr("count transition records", err)
	}

	query := db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at DESC, id DESC").
		Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, &ValidationError{Field: "pageToken", Message: "invalid page token"}
		}
		query = query.Where("created_at < ?", t)
	}

	var records []StateTransitionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, l.store.wrapErr("list transition records", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// ListAll returns paginated transition records across all entities, ordered
// by created_at DESC. Optionally filters by entity type.
func (l *TransitionLog) ListAll(ctx context.Context, pageSize int, pageToken string, filterEntityType string) ([]StateTransitionRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	db := l.store.db.WithContext(ctx)

	baseQuery := db.Model(&StateTransitionRecord{})
	if filterEntityType != "" {
		baseQuery = baseQuery.Where("entity_type = ?", filterEntityType)
	}

	var totalSize int64
	if err := baseQuery.Count(&totalSize).Error; err != nil {
		return nil, "", 0, l.store.wrapErr("count transition records", err)
	}

	query := db.Order("created_at DESC, id DESC").Limit(pageSize + 1)
	if filterEntityType != "" {
		query = query.Where("entity_type = ?", filterEntityType)
	}
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, &ValidationError{Field: "pageToken", Message: "invalid page token"}
		}
		query = query.Where("created_at < ?", t)
	}

	var records []StateTransitionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, l.store.wrapErr("list transition records", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// DeleteOlderThan deletes transition records created before the given cutoff.
// Returns the number of deleted records. Retention is an operator decision;
// nothing in the engine calls this on its own.
func (l *TransitionLog) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := l.store.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&StateTransitionRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old transition records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
