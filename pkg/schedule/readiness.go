package schedule

import "fmt"

// ComputeReadiness is the single gate deciding whether an entry may move to
// READY or be dispatched. It is a pure function over the entry, its
// schedule's state, and the entry's unresolved constraint records; every
// blocking condition is reported, not just the first.
func ComputeReadiness(entry *ScheduleEntry, scheduleState ScheduleState, unresolved []ConstraintRecord) Readiness {
	var reasons []string

	if !entry.IsPending() {
		reasons = append(reasons, fmt.Sprintf("entry is %s, only PLANNED or READY entries can proceed", entry.State))
	}
	if entry.Quantity <= 0 {
		reasons = append(reasons, "planned quantity must be positive")
	}
	if entry.DueDate.IsZero() {
		reasons = append(reasons, "entry has no due date")
	}

	switch scheduleState {
	case ScheduleStateReleased, ScheduleStateDispatched, ScheduleStateRunning:
	default:
		reasons = append(reasons, fmt.Sprintf("schedule is %s, not released for execution", scheduleState))
	}

	for _, c := range unresolved {
		if c.Severity == SeverityCritical && !c.Resolved {
			reasons = append(reasons, fmt.Sprintf("unresolved CRITICAL %s constraint on %s", c.Type, c.TargetID))
		}
	}

	if len(reasons) > 0 {
		return Readiness{State: ReadinessBlocked, Reasons: reasons}
	}
	return Readiness{State: ReadinessReady}
}
