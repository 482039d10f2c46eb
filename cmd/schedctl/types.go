package main

// View types mirror the server's JSON responses. The CLI is self-contained
// and does not import from the server packages.

type scheduleView struct {
	ID           string      `json:"id"`
	SiteID       string      `json:"siteId"`
	HorizonStart string      `json:"horizonStart"`
	HorizonEnd   string      `json:"horizonEnd"`
	State        string      `json:"state"`
	Version      int64       `json:"version"`
	CreatedAt    string      `json:"createdAt,omitempty"`
	Entries      []entryView `json:"entries,omitempty"`
}

type scheduleList struct {
	Schedules     []scheduleView `json:"schedules"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
	TotalSize     int            `json:"totalSize"`
}

type entryView struct {
	ID               string  `json:"id"`
	ScheduleID       string  `json:"scheduleId"`
	OperationRef     string  `json:"operationRef"`
	PartRef          string  `json:"partRef"`
	Quantity         float64 `json:"quantity"`
	Priority         int     `json:"priority"`
	DueDate          string  `json:"dueDate"`
	SequencePosition int     `json:"sequencePosition"`
	State            string  `json:"state"`
	ResourceID       string  `json:"resourceId,omitempty"`
	RequiredHours    float64 `json:"requiredHours,omitempty"`
	MaterialID       string  `json:"materialId,omitempty"`
	MaterialQuantity float64 `json:"materialQuantity,omitempty"`
}

type entryList struct {
	Entries []entryView `json:"entries"`
}

type readinessView struct {
	State   string   `json:"state"`
	Reasons []string `json:"reasons,omitempty"`
}

type constraintView struct {
	ID                string  `json:"id"`
	ScheduleID        string  `json:"scheduleId"`
	EntryID           string  `json:"entryId"`
	Type              string  `json:"type"`
	TargetID          string  `json:"targetId"`
	RequiredQuantity  float64 `json:"requiredQuantity"`
	AvailableQuantity float64 `json:"availableQuantity"`
	Severity          string  `json:"severity"`
	Message           string  `json:"message,omitempty"`
	Resolved          bool    `json:"resolved"`
	Overridden        bool    `json:"overridden,omitempty"`
	ResolvedBy        string  `json:"resolvedBy,omitempty"`
}

type constraintList struct {
	Constraints []constraintView `json:"constraints"`
}

type violationView struct {
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	TargetID  string  `json:"targetId"`
	Message   string  `json:"message"`
	Required  float64 `json:"required"`
	Available float64 `json:"available"`
}

type feasibilityReport struct {
	ScheduleID        string                     `json:"scheduleId"`
	Feasible          bool                       `json:"feasible"`
	ViolationsByEntry map[string][]violationView `json:"violationsByEntry"`
}

type dispatchView struct {
	EntryID      string `json:"entryId"`
	ScheduleID   string `json:"scheduleId"`
	WorkOrderID  string `json:"workOrderId"`
	ActorID      string `json:"actorId"`
	DispatchedAt string `json:"dispatchedAt"`
}

type dispatchList struct {
	Dispatches []dispatchView `json:"dispatches"`
}

type outcomeView struct {
	EntryID     string `json:"entryId"`
	WorkOrderID string `json:"workOrderId,omitempty"`
	Status      string `json:"status"`
	ErrorCode   string `json:"errorCode,omitempty"`
	Error       string `json:"error,omitempty"`
}

type dispatchBatchView struct {
	ScheduleID string        `json:"scheduleId"`
	Dispatched int           `json:"dispatched"`
	Failed     int           `json:"failed"`
	Outcomes   []outcomeView `json:"outcomes"`
}

type transitionEvent struct {
	ID         uint           `json:"id"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	OldState   string         `json:"oldState,omitempty"`
	NewState   string         `json:"newState"`
	ActorID    string         `json:"actorId"`
	Reason     string         `json:"reason,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  string         `json:"createdAt"`
}

type transitionEventList struct {
	Events        []transitionEvent `json:"events"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
	TotalSize     int               `json:"totalSize"`
}
