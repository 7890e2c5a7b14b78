package planner

import (
	"fmt"

	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// SchedulingError reports a user-facing planning failure: a requested state
// that is not in the object's state set. An unreachable state is reported
// by the route oracle as a wrapped registry.ErrUnreachableState instead.
type SchedulingError struct {
	Msg string
}

func (e *SchedulingError) Error() string { return e.Msg }

// DependencyContractViolation is a programmer error, not a user-facing
// one: a reverse dependent named an object whose acceptable states exclude
// the transition's new state but declared no FixState, which the registry
// must never do (spec.md §4.4 step 3: "reverse deps require fix_state").
type DependencyContractViolation struct {
	Dependent, Object types.ObjectRef
}

func (e *DependencyContractViolation) Error() string {
	return fmt.Sprintf("dependency contract violation: reverse dependent %v on %v has no fix_state", e.Dependent, e.Object)
}
