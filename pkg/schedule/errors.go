package schedule

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a schedule, entry, or constraint does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input. Nothing is persisted when a
// validation error is returned.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ConflictError reports an optimistic-concurrency version mismatch on a
// schedule save. The caller must reload and retry; the engine never retries
// internally.
type ConflictError struct {
	ScheduleID      string `json:"scheduleId"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("schedule %s version %d is stale, reload and retry", e.ScheduleID, e.ExpectedVersion)
}

// Transition error codes.
const (
	// CodeTransitionInvalid marks a transition not present in the graph.
	CodeTransitionInvalid = "TRANSITION_INVALID"
	// CodeTransitionDenied marks a transition out of a terminal state.
	CodeTransitionDenied = "TRANSITION_DENIED"
	// CodeTransitionReserved marks a transition only internal flows may perform.
	CodeTransitionReserved = "TRANSITION_RESERVED"
	// CodeTransitionBlocked marks a graph-legal transition whose guard failed.
	CodeTransitionBlocked = "TRANSITION_BLOCKED"
)

// TransitionError is a structured error for rejected state transitions.
// The entity state is unchanged when a TransitionError is returned.
type TransitionError struct {
	Code       string `json:"code"`
	EntityType string `json:"entityType"`
	From       string `json:"from"`
	To         string `json:"to"`
	Message    string `json:"message"`
}

func (e *TransitionError) Error() string {
	return e.Message
}

// Timeout kinds distinguish which collaborator exceeded its deadline.
type TimeoutKind string

const (
	TimeoutPersistence  TimeoutKind = "persistence"
	TimeoutCollaborator TimeoutKind = "collaborator"
)

// TimeoutError reports a repository or external-collaborator call that
// exceeded its deadline. The failed operation leaves no partial state.
type TimeoutError struct {
	Kind TimeoutKind `json:"kind"`
	Op   string      `json:"op"`
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout during %s", e.Kind, e.Op)
}

// IsNotFound returns true if err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation returns true if err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict returns true if err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// AsTransition returns the TransitionError wrapped in err, or nil.
func AsTransition(err error) *TransitionError {
	var te *TransitionError
	if errors.As(err, &te) {
		return te
	}
	return nil
}

// IsTimeout returns true if err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// WrapTimeout maps context deadline expiry to a TimeoutError of the given
// kind and wraps any other error with the operation name.
func WrapTimeout(kind TimeoutKind, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Kind: kind, Op: op}
	}
	return fmt.Errorf("%s: %w", op, err)
}
