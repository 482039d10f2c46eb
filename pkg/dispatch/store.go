package dispatch

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/steiner385/MachShop-sub017/pkg/schedule"
)

// RecordStore provides database operations for dispatch records.
type RecordStore struct {
	db *gorm.DB
}

// NewRecordStore creates a new RecordStore.
func NewRecordStore(db *gorm.DB) *RecordStore {
	return &RecordStore{db: db}
}

// AutoMigrate creates or updates the dispatch_records table.
func (s *RecordStore) AutoMigrate() error {
	return s.db.AutoMigrate(&DispatchRecord{})
}

// GetByEntry returns the dispatch record for an entry, or nil if the entry
// has never been dispatched.
func (s *RecordStore) GetByEntry(ctx context.Context, entryID string) (*DispatchRecord, error) {
	var rec DispatchRecord
	err := s.db.WithContext(ctx).First(&rec, "entry_id = ?", entryID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, schedule.WrapTimeout(schedule.TimeoutPersistence, "get dispatch record", err)
	}
	return &rec, nil
}

// Create inserts a dispatch record for an entry. When a concurrent dispatch
// already claimed the entry, the existing record is returned with created
// false; the caller's work order lost the race and should be treated as a
// duplicate. Safe for concurrent use.
func (s *RecordStore) Create(ctx context.Context, rec *DispatchRecord) (*DispatchRecord, bool, error) {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		// Unique index collision: another dispatch won between our
		// precondition check and this insert. Surface the winner.
		var existing DispatchRecord
		lookupErr := s.db.WithContext(ctx).First(&existing, "entry_id = ?", rec.EntryID).Error
		if lookupErr == nil {
			return &existing, false, nil
		}
		return nil, false, schedule.WrapTimeout(schedule.TimeoutPersistence, "create dispatch record",
			fmt.Errorf("create dispatch record: %w", err))
	}
	return rec, true, nil
}

// ListBySchedule returns a schedule's dispatch records, oldest first.
func (s *RecordStore) ListBySchedule(ctx context.Context, scheduleID string) ([]DispatchRecord, error) {
	var records []DispatchRecord
	err := s.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID).
		Order("created_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, schedule.WrapTimeout(schedule.TimeoutPersistence, "list dispatch records", err)
	}
	return records, nil
}
