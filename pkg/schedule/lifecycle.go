package schedule

import "fmt"

// ScheduleTransitionRule defines an allowed schedule state transition.
// SystemOnly transitions are performed by internal flows (the dispatcher's
// first successful dispatch) and are rejected when requested by a client.
type ScheduleTransitionRule struct {
	From       ScheduleState
	To         ScheduleState
	SystemOnly bool
}

// ScheduleTransitions defines the allowed schedule state transitions.
// The forward path is FORECAST -> RELEASED -> DISPATCHED -> RUNNING ->
// COMPLETED -> CLOSED; CANCELLED is reachable from every non-terminal state.
var ScheduleTransitions = []ScheduleTransitionRule{
	{From: ScheduleStateForecast, To: ScheduleStateReleased},
	{From: ScheduleStateReleased, To: ScheduleStateDispatched, SystemOnly: true},
	{From: ScheduleStateDispatched, To: ScheduleStateRunning},
	{From: ScheduleStateRunning, To: ScheduleStateCompleted},
	{From: ScheduleStateCompleted, To: ScheduleStateClosed},
	{From: ScheduleStateForecast, To: ScheduleStateCancelled},
	{From: ScheduleStateReleased, To: ScheduleStateCancelled},
	{From: ScheduleStateDispatched, To: ScheduleStateCancelled},
	{From: ScheduleStateRunning, To: ScheduleStateCancelled},
}

// scheduleTerminalStates have no outgoing transitions and get a distinct
// error code so callers can tell "finished" apart from "wrong order".
var scheduleTerminalStates = map[ScheduleState]bool{
	ScheduleStateClosed:    true,
	ScheduleStateCancelled: true,
}

// ScheduleMachine validates schedule state transitions.
type ScheduleMachine struct {
	transitions []ScheduleTransitionRule
}

// NewScheduleMachine creates a machine with the default rules.
func NewScheduleMachine() *ScheduleMachine {
	return &ScheduleMachine{transitions: ScheduleTransitions}
}

// Rule returns the transition rule for from->to, if one exists.
func (m *ScheduleMachine) Rule(from, to ScheduleState) (ScheduleTransitionRule, bool) {
	for _, t := range m.transitions {
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return ScheduleTransitionRule{}, false
}

// ValidateTransition checks if a transition from->to is present in the graph.
// Returns nil if allowed, a TransitionError with a machine-readable code if
// not. The schedule state is unchanged on rejection.
func (m *ScheduleMachine) ValidateTransition(from, to ScheduleState) error {
	if scheduleTerminalStates[from] {
		return &TransitionError{
			Code:       CodeTransitionDenied,
			EntityType: EntityTypeSchedule,
			From:       string(from),
			To:         string(to),
			Message:    fmt.Sprintf("schedule is %s, no further transitions are allowed", from),
		}
	}
	if _, ok := m.Rule(from, to); ok {
		return nil
	}
	return &TransitionError{
		Code:       CodeTransitionInvalid,
		EntityType: EntityTypeSchedule,
		From:       string(from),
		To:         string(to),
		Message:    fmt.Sprintf("no schedule transition defined from %s to %s", from, to),
	}
}

// AllowedTransitions returns all valid target states from the given state.
func (m *ScheduleMachine) AllowedTransitions(from ScheduleState) []ScheduleState {
	var allowed []ScheduleState
	for _, t := range m.transitions {
		if t.From == from {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}

// EntryTransitionRule defines an allowed entry state transition.
type EntryTransitionRule struct {
	From       EntryState
	To         EntryState
	SystemOnly bool
}

// EntryTransitions defines the allowed entry state transitions.
// The forward path is PLANNED -> READY -> DISPATCHED -> IN_PROGRESS ->
// COMPLETED; CANCELLED is reachable from PLANNED, READY, and DISPATCHED.
// READY -> DISPATCHED belongs to the dispatcher: it is recorded together
// with the dispatch record, so a client may never request it directly.
var EntryTransitions = []EntryTransitionRule{
	{From: EntryStatePlanned, To: EntryStateReady},
	{From: EntryStateReady, To: EntryStateDispatched, SystemOnly: true},
	{From: EntryStateDispatched, To: EntryStateInProgress},
	{From: EntryStateInProgress, To: EntryStateCompleted},
	{From: EntryStatePlanned, To: EntryStateCancelled},
	{From: EntryStateReady, To: EntryStateCancelled},
	{From: EntryStateDispatched, To: EntryStateCancelled},
}

var entryTerminalStates = map[EntryState]bool{
	EntryStateCompleted: true,
	EntryStateCancelled: true,
}

// EntryMachine validates entry state transitions.
type EntryMachine struct {
	transitions []EntryTransitionRule
}

// NewEntryMachine creates a machine with the default rules.
func NewEntryMachine() *EntryMachine {
	return &EntryMachine{transitions: EntryTransitions}
}

// Rule returns the transition rule for from->to, if one exists.
func (m *EntryMachine) Rule(from, to EntryState) (EntryTransitionRule, bool) {
	for _, t := range m.transitions {
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return EntryTransitionRule{}, false
}

// ValidateTransition checks if a transition from->to is present in the graph.
// Returns nil if allowed, a TransitionError with a machine-readable code if
// not. The entry state is unchanged on rejection.
func (m *EntryMachine) ValidateTransition(from, to EntryState) error {
	if entryTerminalStates[from] {
		return &TransitionError{
			Code:       CodeTransitionDenied,
			EntityType: EntityTypeEntry,
			From:       string(from),
			To:         string(to),
			Message:    fmt.Sprintf("entry is %s, no further transitions are allowed", from),
		}
	}
	if _, ok := m.Rule(from, to); ok {
		return nil
	}
	return &TransitionError{
		Code:       CodeTransitionInvalid,
		EntityType: EntityTypeEntry,
		From:       string(from),
		To:         string(to),
		Message:    fmt.Sprintf("no entry transition defined from %s to %s", from, to),
	}
}

// AllowedTransitions returns all valid target states from the given state.
func (m *EntryMachine) AllowedTransitions(from EntryState) []EntryState {
	var allowed []EntryState
	for _, t := range m.transitions {
		if t.From == from {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}
