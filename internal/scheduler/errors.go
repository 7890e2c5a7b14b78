package scheduler

import (
	"fmt"

	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// SchedulingError is the user-visible, recoverable error for a
// state-chaining mismatch discovered while persisting locks. Invalid target
// states reach callers as planner.SchedulingError and unreachable routes as
// a wrapped registry.ErrUnreachableState, both passed through unchanged.
type SchedulingError struct {
	Msg string
}

func (e *SchedulingError) Error() string { return e.Msg }

func stateChainMismatch(item types.ObjectRef, got, want string) error {
	return &SchedulingError{Msg: fmt.Sprintf("state chaining mismatch on %s/%d: new write begins at %q, latest write ends at %q", item.ContentType, item.ID, got, want)}
}
