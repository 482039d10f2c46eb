package dispatch

import "time"

// DispatchRecord marks one successfully dispatched entry. The unique index
// on EntryID is the idempotency guarantee: an entry dispatches at most once
// no matter how many callers race, and the record survives any later entry
// state changes.
type DispatchRecord struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	EntryID     string    `gorm:"column:entry_id;uniqueIndex:idx_dispatch_entry;not null"`
	ScheduleID  string    `gorm:"column:schedule_id;index;not null"`
	WorkOrderID string    `gorm:"column:work_order_id;not null"`
	ActorID     string    `gorm:"column:actor_id;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (DispatchRecord) TableName() string { return "dispatch_records" }
