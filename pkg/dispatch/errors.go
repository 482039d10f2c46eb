package dispatch

import (
	"errors"
	"fmt"

	"github.com/steiner385/MachShop-sub017/pkg/feasibility"
)

// Dispatch failure codes.
const (
	// CodeWorkOrderFailed means the execution system rejected or failed the
	// work order creation. The entry stays READY and may be retried.
	CodeWorkOrderFailed = "DISPATCH_WORK_ORDER_FAILED"
	// CodeConstraintViolated means an unresolved CRITICAL constraint blocked
	// the dispatch at the final re-check.
	CodeConstraintViolated = "DISPATCH_CONSTRAINT_VIOLATED"
)

// DispatchError describes why one entry failed to dispatch.
type DispatchError struct {
	Code       string
	EntryID    string
	Message    string
	Violations []feasibility.Violation
	Err        error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: entry %s: %s: %v", e.Code, e.EntryID, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: entry %s: %s", e.Code, e.EntryID, e.Message)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// AsDispatch returns the DispatchError in err's chain, or nil.
func AsDispatch(err error) *DispatchError {
	var de *DispatchError
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// IsWorkOrderFailed reports whether err is a work order creation failure.
func IsWorkOrderFailed(err error) bool {
	de := AsDispatch(err)
	return de != nil && de.Code == CodeWorkOrderFailed
}

// IsConstraintViolated reports whether err is a constraint block at dispatch.
func IsConstraintViolated(err error) bool {
	de := AsDispatch(err)
	return de != nil && de.Code == CodeConstraintViolated
}
