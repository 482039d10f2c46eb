package schedule

// ScheduleState represents the lifecycle state of a production schedule.
type ScheduleState string

const (
	ScheduleStateForecast   ScheduleState = "FORECAST"
	ScheduleStateReleased   ScheduleState = "RELEASED"
	ScheduleStateDispatched ScheduleState = "DISPATCHED"
	ScheduleStateRunning    ScheduleState = "RUNNING"
	ScheduleStateCompleted  ScheduleState = "COMPLETED"
	ScheduleStateClosed     ScheduleState = "CLOSED"
	ScheduleStateCancelled  ScheduleState = "CANCELLED"
)

// EntryState represents the lifecycle state of a schedule entry.
type EntryState string

const (
	EntryStatePlanned    EntryState = "PLANNED"
	EntryStateReady      EntryState = "READY"
	EntryStateDispatched EntryState = "DISPATCHED"
	EntryStateInProgress EntryState = "IN_PROGRESS"
	EntryStateCompleted  EntryState = "COMPLETED"
	EntryStateCancelled  EntryState = "CANCELLED"
)

// ConstraintType classifies what a constraint record checks.
type ConstraintType string

const (
	ConstraintCapacity ConstraintType = "CAPACITY"
	ConstraintMaterial ConstraintType = "MATERIAL"
)

// Severity classifies how hard a constraint violation blocks execution.
// CRITICAL violations gate release and dispatch; WARNING violations do not.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Strategy selects a sequencing algorithm.
type Strategy string

const (
	// StrategyPriority orders by priority descending, then due date ascending.
	StrategyPriority Strategy = "priority"
	// StrategyEDD orders by due date ascending, then priority descending.
	StrategyEDD Strategy = "edd"
)

// ParseStrategy validates a strategy selector string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyPriority, StrategyEDD:
		return Strategy(s), nil
	}
	return "", &ValidationError{Field: "strategy", Message: "unknown sequencing strategy " + s + " (supported: priority, edd)"}
}

// Entity types recorded in state transition records.
const (
	EntityTypeSchedule   = "schedule"
	EntityTypeEntry      = "entry"
	EntityTypeConstraint = "constraint"
)

// Constraint audit states recorded when a constraint record changes resolution.
const (
	ConstraintStateOpen       = "OPEN"
	ConstraintStateResolved   = "RESOLVED"
	ConstraintStateOverridden = "OVERRIDDEN"
)

// ReadinessState is the outcome of a readiness computation.
type ReadinessState string

const (
	ReadinessReady   ReadinessState = "READY"
	ReadinessBlocked ReadinessState = "BLOCKED"
)

// Readiness is the result of ComputeReadiness for a single entry.
// Reasons is empty when State is READY.
type Readiness struct {
	State   ReadinessState `json:"state"`
	Reasons []string       `json:"reasons,omitempty"`
}

// ScheduleView is the API-facing representation of a production schedule.
type ScheduleView struct {
	ID           string      `json:"id"`
	SiteID       string      `json:"siteId"`
	HorizonStart string      `json:"horizonStart"` // RFC3339
	HorizonEnd   string      `json:"horizonEnd"`   // RFC3339
	State        string      `json:"state"`
	Version      int64       `json:"version"`
	CreatedAt    string      `json:"createdAt,omitempty"`
	UpdatedAt    string      `json:"updatedAt,omitempty"`
	Entries      []EntryView `json:"entries,omitempty"`
}

// EntryView is the API-facing representation of a schedule entry.
type EntryView struct {
	ID               string  `json:"id"`
	ScheduleID       string  `json:"scheduleId"`
	OperationRef     string  `json:"operationRef"`
	PartRef          string  `json:"partRef"`
	Quantity         float64 `json:"quantity"`
	Priority         int     `json:"priority"`
	DueDate          string  `json:"dueDate"` // RFC3339
	SequencePosition int     `json:"sequencePosition"`
	State            string  `json:"state"`
	ResourceID       string  `json:"resourceId,omitempty"`
	RequiredHours    float64 `json:"requiredHours,omitempty"`
	MaterialID       string  `json:"materialId,omitempty"`
	MaterialQuantity float64 `json:"materialQuantity,omitempty"`
	CreatedAt        string  `json:"createdAt,omitempty"`
}

// ConstraintView is the API-facing representation of a constraint record.
type ConstraintView struct {
	ID               string  `json:"id"`
	ScheduleID       string  `json:"scheduleId"`
	EntryID          string  `json:"entryId"`
	Type             string  `json:"type"`
	TargetID         string  `json:"targetId"`
	RequiredQuantity float64 `json:"requiredQuantity"`
	AvailableQuantity float64 `json:"availableQuantity"`
	Severity         string  `json:"severity"`
	Message          string  `json:"message,omitempty"`
	Resolved         bool    `json:"resolved"`
	Overridden       bool    `json:"overridden,omitempty"`
	ResolvedBy       string  `json:"resolvedBy,omitempty"`
	ResolutionReason string  `json:"resolutionReason,omitempty"`
	CreatedAt        string  `json:"createdAt,omitempty"`
}

// TransitionEvent is the API-facing representation of a state transition record.
type TransitionEvent struct {
	ID         uint           `json:"id"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	OldState   string         `json:"oldState,omitempty"`
	NewState   string         `json:"newState"`
	ActorID    string         `json:"actorId"`
	Reason     string         `json:"reason,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  string         `json:"createdAt"` // RFC3339Nano
}

// TransitionEventList is a paginated list of transition events.
type TransitionEventList struct {
	Events        []TransitionEvent `json:"events"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
	TotalSize     int               `json:"totalSize"`
}

// ScheduleList is a paginated list of schedules.
type ScheduleList struct {
	Schedules     []ScheduleView `json:"schedules"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
	TotalSize     int            `json:"totalSize"`
}
