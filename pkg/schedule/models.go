package schedule

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONStringSlice is a custom GORM type for []string stored as JSON.
type JSONStringSlice []string

// Scan implements the sql.Scanner interface for JSONStringSlice.
func (s *JSONStringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONStringSlice: %T", value)
	}
	return json.Unmarshal(bytes, s)
}

// Value implements the driver.Valuer interface for JSONStringSlice.
func (s JSONStringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// JSONAny is a custom GORM type for map[string]any stored as JSON.
type JSONAny map[string]any

// Scan implements the sql.Scanner interface for JSONAny.
func (m *JSONAny) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONAny: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface for JSONAny.
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ProductionSchedule is the GORM model for a production schedule.
// Version increases monotonically on every saved mutation and is the
// optimistic-concurrency token for the whole schedule aggregate.
type ProductionSchedule struct {
	ID           string        `gorm:"primaryKey;column:id;type:varchar(36)"`
	SiteID       string        `gorm:"column:site_id;index:idx_sched_site_state,priority:1;not null"`
	HorizonStart time.Time     `gorm:"column:horizon_start;not null"`
	HorizonEnd   time.Time     `gorm:"column:horizon_end;not null"`
	State        ScheduleState `gorm:"column:state;index:idx_sched_site_state,priority:2;index:idx_sched_state;not null;default:FORECAST"`
	Version      int64         `gorm:"column:version;not null;default:1"`
	CreatedAt    time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time     `gorm:"column:updated_at;autoUpdateTime"`

	Entries []ScheduleEntry `gorm:"foreignKey:ScheduleID;references:ID"`
}

// TableName returns the GORM table name.
func (ProductionSchedule) TableName() string { return "production_schedules" }

// IsTerminal returns true if the schedule is in a terminal state.
func (s *ProductionSchedule) IsTerminal() bool {
	switch s.State {
	case ScheduleStateClosed, ScheduleStateCancelled:
		return true
	}
	return false
}

// AcceptsDispatch returns true if entries of this schedule may be dispatched.
func (s *ProductionSchedule) AcceptsDispatch() bool {
	switch s.State {
	case ScheduleStateReleased, ScheduleStateDispatched, ScheduleStateRunning:
		return true
	}
	return false
}

// ScheduleEntry is the GORM model for one planned operation on a schedule.
// SequencePosition is owned by the sequencer; State is owned by the lifecycle
// manager and the dispatcher.
type ScheduleEntry struct {
	ID               string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	ScheduleID       string     `gorm:"column:schedule_id;index:idx_entry_sched_state,priority:1;not null"`
	OperationRef     string     `gorm:"column:operation_ref;not null"`
	PartRef          string     `gorm:"column:part_ref;not null"`
	Quantity         float64    `gorm:"column:quantity;not null"`
	Priority         int        `gorm:"column:priority;default:0"`
	DueDate          time.Time  `gorm:"column:due_date;not null"`
	SequencePosition int        `gorm:"column:sequence_position;default:0"`
	State            EntryState `gorm:"column:state;index:idx_entry_sched_state,priority:2;index:idx_entry_state;not null;default:PLANNED"`
	ResourceID       string     `gorm:"column:resource_id;index"`
	RequiredHours    float64    `gorm:"column:required_hours"`
	MaterialID       string     `gorm:"column:material_id;index"`
	MaterialQuantity float64    `gorm:"column:material_quantity"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (ScheduleEntry) TableName() string { return "schedule_entries" }

// IsTerminal returns true if the entry is in a terminal state.
func (e *ScheduleEntry) IsTerminal() bool {
	switch e.State {
	case EntryStateCompleted, EntryStateCancelled:
		return true
	}
	return false
}

// IsPending returns true if the entry still participates in sequencing.
// DISPATCHED and later entries keep their positions as fixed anchors.
func (e *ScheduleEntry) IsPending() bool {
	switch e.State {
	case EntryStatePlanned, EntryStateReady:
		return true
	}
	return false
}

// ConstraintRecord stores one evaluated constraint for an entry. Records are
// created or refreshed by feasibility runs, keyed by (entry, type, target),
// and are never deleted: clearing or overriding marks them resolved instead.
type ConstraintRecord struct {
	ID                string         `gorm:"primaryKey;column:id;type:varchar(36)"`
	ScheduleID        string         `gorm:"column:schedule_id;index:idx_constraint_sched_resolved,priority:1;not null"`
	EntryID           string         `gorm:"column:entry_id;uniqueIndex:idx_constraint_entry_target,priority:1;not null"`
	Type              ConstraintType `gorm:"column:type;uniqueIndex:idx_constraint_entry_target,priority:2;not null"`
	TargetID          string         `gorm:"column:target_id;uniqueIndex:idx_constraint_entry_target,priority:3;not null"`
	RequiredQuantity  float64        `gorm:"column:required_quantity"`
	AvailableQuantity float64        `gorm:"column:available_quantity"`
	WindowStart       time.Time      `gorm:"column:window_start"`
	WindowEnd         time.Time      `gorm:"column:window_end"`
	Severity          Severity       `gorm:"column:severity;not null"`
	Message           string         `gorm:"column:message"`
	Resolved          bool           `gorm:"column:resolved;index:idx_constraint_sched_resolved,priority:2;default:false"`
	Overridden        bool           `gorm:"column:overridden;default:false"`
	ResolvedBy        string         `gorm:"column:resolved_by"`
	ResolutionReason  string         `gorm:"column:resolution_reason"`
	CreatedAt         time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (ConstraintRecord) TableName() string { return "constraint_records" }

// Key identifies the logical constraint this record tracks across refreshes.
func (c *ConstraintRecord) Key() string {
	return c.EntryID + "|" + string(c.Type) + "|" + c.TargetID
}

// StateTransitionRecord is an immutable audit log entry written atomically
// with every accepted state change. ActorID is always a resolved canonical
// id, never a display name.
type StateTransitionRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement;column:id"`
	EntityType string    `gorm:"column:entity_type;index:idx_transition_entity,priority:1;not null"`
	EntityID   string    `gorm:"column:entity_id;index:idx_transition_entity,priority:2;not null"`
	OldState   string    `gorm:"column:old_state"`
	NewState   string    `gorm:"column:new_state;not null"`
	ActorID    string    `gorm:"column:actor_id;index;not null"`
	Reason     string    `gorm:"column:reason"`
	Detail     JSONAny   `gorm:"column:detail;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at;index:idx_transition_entity,priority:3;index:idx_transition_time;autoCreateTime"`
}

// TableName returns the GORM table name.
func (StateTransitionRecord) TableName() string { return "state_transition_records" }
