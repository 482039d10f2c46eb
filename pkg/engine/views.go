package engine

import (
	"sort"
	"time"

	"github.com/steiner385/MachShop-sub017/pkg/dispatch"
	"github.com/steiner385/MachShop-sub017/pkg/schedule"
)

// Dispatch outcome statuses reported in a batch result.
const (
	DispatchStatusDispatched = "DISPATCHED"
	DispatchStatusFailed     = "FAILED"
)

// DispatchView is the API-facing representation of a dispatch record.
type DispatchView struct {
	EntryID      string `json:"entryId"`
	ScheduleID   string `json:"scheduleId"`
	WorkOrderID  string `json:"workOrderId"`
	ActorID      string `json:"actorId"`
	DispatchedAt string `json:"dispatchedAt"` // RFC3339Nano
}

// OutcomeView is the per-entry result inside a dispatch batch response.
type OutcomeView struct {
	EntryID     string `json:"entryId"`
	WorkOrderID string `json:"workOrderId,omitempty"`
	Status      string `json:"status"`
	ErrorCode   string `json:"errorCode,omitempty"`
	Error       string `json:"error,omitempty"`
}

// DispatchBatchView summarizes one DispatchAll run.
type DispatchBatchView struct {
	ScheduleID string        `json:"scheduleId"`
	Dispatched int           `json:"dispatched"`
	Failed     int           `json:"failed"`
	Outcomes   []OutcomeView `json:"outcomes"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func scheduleView(s *schedule.ProductionSchedule, includeEntries bool) *schedule.ScheduleView {
	view := &schedule.ScheduleView{
		ID:           s.ID,
		SiteID:       s.SiteID,
		HorizonStart: formatTime(s.HorizonStart),
		HorizonEnd:   formatTime(s.HorizonEnd),
		State:        string(s.State),
		Version:      s.Version,
		CreatedAt:    formatTimestamp(s.CreatedAt),
		UpdatedAt:    formatTimestamp(s.UpdatedAt),
	}
	if !includeEntries {
		return view
	}
	// The loaded order can be stale after an in-memory resequence, so sort
	// for display: active entries by position, terminal ones last.
	entries := make([]schedule.ScheduleEntry, len(s.Entries))
	copy(entries, s.Entries)
	sort.SliceStable(entries, func(i, j int) bool {
		ti, tj := entries[i].IsTerminal(), entries[j].IsTerminal()
		if ti != tj {
			return !ti
		}
		if entries[i].SequencePosition != entries[j].SequencePosition {
			return entries[i].SequencePosition < entries[j].SequencePosition
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	view.Entries = make([]schedule.EntryView, 0, len(entries))
	for i := range entries {
		view.Entries = append(view.Entries, *entryView(&entries[i]))
	}
	return view
}

func entryView(e *schedule.ScheduleEntry) *schedule.EntryView {
	return &schedule.EntryView{
		ID:               e.ID,
		ScheduleID:       e.ScheduleID,
		OperationRef:     e.OperationRef,
		PartRef:          e.PartRef,
		Quantity:         e.Quantity,
		Priority:         e.Priority,
		DueDate:          formatTime(e.DueDate),
		SequencePosition: e.SequencePosition,
		State:            string(e.State),
		ResourceID:       e.ResourceID,
		RequiredHours:    e.RequiredHours,
		MaterialID:       e.MaterialID,
		MaterialQuantity: e.MaterialQuantity,
		CreatedAt:        formatTimestamp(e.CreatedAt),
	}
}

func constraintView(c *schedule.ConstraintRecord) *schedule.ConstraintView {
	return &schedule.ConstraintView{
		ID:                c.ID,
		ScheduleID:        c.ScheduleID,
		EntryID:           c.EntryID,
		Type:              string(c.Type),
		TargetID:          c.TargetID,
		RequiredQuantity:  c.RequiredQuantity,
		AvailableQuantity: c.AvailableQuantity,
		Severity:          string(c.Severity),
		Message:           c.Message,
		Resolved:          c.Resolved,
		Overridden:        c.Overridden,
		ResolvedBy:        c.ResolvedBy,
		ResolutionReason:  c.ResolutionReason,
		CreatedAt:         formatTimestamp(c.CreatedAt),
	}
}

func constraintViews(records []schedule.ConstraintRecord) []schedule.ConstraintView {
	views := make([]schedule.ConstraintView, 0, len(records))
	for i := range records {
		views = append(views, *constraintView(&records[i]))
	}
	return views
}

func transitionEvent(rec *schedule.StateTransitionRecord) schedule.TransitionEvent {
	return schedule.TransitionEvent{
		ID:         rec.ID,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		OldState:   rec.OldState,
		NewState:   rec.NewState,
		ActorID:    rec.ActorID,
		Reason:     rec.Reason,
		Detail:     rec.Detail,
		CreatedAt:  formatTimestamp(rec.CreatedAt),
	}
}

func transitionEventList(records []schedule.StateTransitionRecord, nextPageToken string, totalSize int) *schedule.TransitionEventList {
	list := &schedule.TransitionEventList{
		Events:        make([]schedule.TransitionEvent, 0, len(records)),
		NextPageToken: nextPageToken,
		TotalSize:     totalSize,
	}
	for i := range records {
		list.Events = append(list.Events, transitionEvent(&records[i]))
	}
	return list
}

func dispatchView(rec *dispatch.DispatchRecord) *DispatchView {
	return &DispatchView{
		EntryID:      rec.EntryID,
		ScheduleID:   rec.ScheduleID,
		WorkOrderID:  rec.WorkOrderID,
		ActorID:      rec.ActorID,
		DispatchedAt: formatTimestamp(rec.CreatedAt),
	}
}
