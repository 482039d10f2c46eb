package schedule

import "testing"

func TestScheduleMachine_ValidateTransition(t *testing.T) {
	m := NewScheduleMachine()

	tests := []struct {
		name    string
		from    ScheduleState
		to      ScheduleState
		wantErr bool
		errCode string
	}{
		// Forward path
		{"forecast to released", ScheduleStateForecast, ScheduleStateReleased, false, ""},
		{"released to dispatched", ScheduleStateReleased, ScheduleStateDispatched, false, ""},
		{"dispatched to running", ScheduleStateDispatched, ScheduleStateRunning, false, ""},
		{"running to completed", ScheduleStateRunning, ScheduleStateCompleted, false, ""},
		{"completed to closed", ScheduleStateCompleted, ScheduleStateClosed, false, ""},

		// Cancellation
		{"forecast to cancelled", ScheduleStateForecast, ScheduleStateCancelled, false, ""},
		{"released to cancelled", ScheduleStateReleased, ScheduleStateCancelled, false, ""},
		{"dispatched to cancelled", ScheduleStateDispatched, ScheduleStateCancelled, false, ""},
		{"running to cancelled", ScheduleStateRunning, ScheduleStateCancelled, false, ""},

		// No skipping, no going back
		{"forecast to dispatched invalid", ScheduleStateForecast, ScheduleStateDispatched, true, CodeTransitionInvalid},
		{"forecast to running invalid", ScheduleStateForecast, ScheduleStateRunning, true, CodeTransitionInvalid},
		{"released to running invalid", ScheduleStateReleased, ScheduleStateRunning, true, CodeTransitionInvalid},
		{"released to forecast invalid", ScheduleStateReleased, ScheduleStateForecast, true, CodeTransitionInvalid},
		{"running to released invalid", ScheduleStateRunning, ScheduleStateReleased, true, CodeTransitionInvalid},
		{"completed to cancelled invalid", ScheduleStateCompleted, ScheduleStateCancelled, true, CodeTransitionInvalid},
		{"same state invalid", ScheduleStateReleased, ScheduleStateReleased, true, CodeTransitionInvalid},

		// Terminal states are final
		{"closed to running denied", ScheduleStateClosed, ScheduleStateRunning, true, CodeTransitionDenied},
		{"closed to cancelled denied", ScheduleStateClosed, ScheduleStateCancelled, true, CodeTransitionDenied},
		{"cancelled to forecast denied", ScheduleStateCancelled, ScheduleStateForecast, true, CodeTransitionDenied},
		{"cancelled to released denied", ScheduleStateCancelled, ScheduleStateReleased, true, CodeTransitionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%s, %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if tt.wantErr {
				te, ok := err.(*TransitionError)
				if !ok {
					t.Fatalf("expected TransitionError, got %T", err)
				}
				if te.Code != tt.errCode {
					t.Errorf("expected code %s, got %s", tt.errCode, te.Code)
				}
				if te.EntityType != EntityTypeSchedule {
					t.Errorf("expected entity type %s, got %s", EntityTypeSchedule, te.EntityType)
				}
			}
		})
	}
}

func TestScheduleMachine_SystemOnly(t *testing.T) {
	m := NewScheduleMachine()

	rule, ok := m.Rule(ScheduleStateReleased, ScheduleStateDispatched)
	if !ok {
		t.Fatal("expected a rule for RELEASED -> DISPATCHED")
	}
	if !rule.SystemOnly {
		t.Error("RELEASED -> DISPATCHED must be system-only")
	}

	rule, ok = m.Rule(ScheduleStateForecast, ScheduleStateReleased)
	if !ok {
		t.Fatal("expected a rule for FORECAST -> RELEASED")
	}
	if rule.SystemOnly {
		t.Error("FORECAST -> RELEASED must not be system-only")
	}
}

func TestScheduleMachine_AllowedTransitions(t *testing.T) {
	m := NewScheduleMachine()

	tests := []struct {
		name     string
		from     ScheduleState
		expected int
	}{
		{"forecast has 2", ScheduleStateForecast, 2},     // released or cancelled
		{"released has 2", ScheduleStateReleased, 2},     // dispatched or cancelled
		{"dispatched has 2", ScheduleStateDispatched, 2}, // running or cancelled
		{"running has 2", ScheduleStateRunning, 2},       // completed or cancelled
		{"completed has 1", ScheduleStateCompleted, 1},   // closed only
		{"closed has 0", ScheduleStateClosed, 0},
		{"cancelled has 0", ScheduleStateCancelled, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.AllowedTransitions(tt.from)
			if len(got) != tt.expected {
				t.Errorf("AllowedTransitions(%s) = %d states, want %d (got: %v)", tt.from, len(got), tt.expected, got)
			}
		})
	}
}

func TestEntryMachine_ValidateTransition(t *testing.T) {
	m := NewEntryMachine()

	tests := []struct {
		name    string
		from    EntryState
		to      EntryState
		wantErr bool
		errCode string
	}{
		// Forward path
		{"planned to ready", EntryStatePlanned, EntryStateReady, false, ""},
		{"ready to dispatched", EntryStateReady, EntryStateDispatched, false, ""},
		{"dispatched to in_progress", EntryStateDispatched, EntryStateInProgress, false, ""},
		{"in_progress to completed", EntryStateInProgress, EntryStateCompleted, false, ""},

		// Cancellation stops at dispatch boundary
		{"planned to cancelled", EntryStatePlanned, EntryStateCancelled, false, ""},
		{"ready to cancelled", EntryStateReady, EntryStateCancelled, false, ""},
		{"dispatched to cancelled", EntryStateDispatched, EntryStateCancelled, false, ""},
		{"in_progress to cancelled invalid", EntryStateInProgress, EntryStateCancelled, true, CodeTransitionInvalid},

		// No skipping, no going back
		{"planned to dispatched invalid", EntryStatePlanned, EntryStateDispatched, true, CodeTransitionInvalid},
		{"planned to completed invalid", EntryStatePlanned, EntryStateCompleted, true, CodeTransitionInvalid},
		{"ready to in_progress invalid", EntryStateReady, EntryStateInProgress, true, CodeTransitionInvalid},
		{"ready to planned invalid", EntryStateReady, EntryStatePlanned, true, CodeTransitionInvalid},
		{"dispatched to ready invalid", EntryStateDispatched, EntryStateReady, true, CodeTransitionInvalid},

		// Terminal states are final
		{"completed to in_progress denied", EntryStateCompleted, EntryStateInProgress, true, CodeTransitionDenied},
		{"cancelled to planned denied", EntryStateCancelled, EntryStatePlanned, true, CodeTransitionDenied},
		{"cancelled to ready denied", EntryStateCancelled, EntryStateReady, true, CodeTransitionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%s, %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if tt.wantErr {
				te, ok := err.(*TransitionError)
				if !ok {
					t.Fatalf("expected TransitionError, got %T", err)
				}
				if te.Code != tt.errCode {
					t.Errorf("expected code %s, got %s", tt.errCode, te.Code)
				}
			}
		})
	}
}

func TestEntryMachine_SystemOnly(t *testing.T) {
	m := NewEntryMachine()

	rule, ok := m.Rule(EntryStateReady, EntryStateDispatched)
	if !ok {
		t.Fatal("expected a rule for READY -> DISPATCHED")
	}
	if !rule.SystemOnly {
		t.Error("READY -> DISPATCHED must be system-only")
	}
}

func TestTransitionError_Error(t *testing.T) {
	err := &TransitionError{
		Code:       CodeTransitionInvalid,
		EntityType: EntityTypeSchedule,
		From:       string(ScheduleStateForecast),
		To:         string(ScheduleStateRunning),
		Message:    "no schedule transition defined from FORECAST to RUNNING",
	}
	want := "no schedule transition defined from FORECAST to RUNNING"
	if got := err.Error(); got != want {
		t.Errorf("TransitionError.Error() = %q, want %q", got, want)
	}
}
