// ============================================================================
// Object Class Registry
// ============================================================================
//
// Package: internal/registry
// Purpose: Stand-in for the external "model registry" + "dependency
// oracle" + "route oracle" collaborators spec.md §1 treats as given.
//
// Per the redesign notes (spec.md §9): dynamic dispatch on
// get_job_class(from,to) becomes a static registry mapping
// (object_class, from_state, to_state) -> job_class populated at startup,
// and downcasting of stateful objects becomes an explicit discriminator
// field (ObjectRef.ContentType) plus this registry. internal/lustre
// provides a concrete implementation; production deployments would swap in
// one backed by the real ORM/REST layer without touching the planner or
// scheduler, since both only depend on this interface.
// ============================================================================

package registry

import (
	"fmt"

	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// ErrUnreachableState is returned by Route when no registered hop sequence
// connects from to to for the given object's class.
var ErrUnreachableState = fmt.Errorf("unreachable state")

// ErrInvalidState is returned when a requested state is not a member of the
// object class's finite state set.
var ErrInvalidState = fmt.Errorf("state not valid for object class")

// ErrUnknownObject is returned when an ObjectRef does not resolve to a
// registered instance.
var ErrUnknownObject = fmt.Errorf("object not found")

// JobClass describes one atomic job class: how to explain it to a human,
// and any extra locks it declares beyond the default read/write locks the
// scheduler derives automatically (spec.md §4.5 step 3.b, create_locks()).
type JobClass struct {
	Name                string
	Description         func(args map[string]any) string
	ConfirmationPrompt  func(args map[string]any) string
	CreateLocks         func(job types.Job) []types.StateLock
}

// Registry resolves everything the planner and scheduler need to know
// about an object's class: its finite state set, the canonical route
// between two states, the job class for one hop, the dependency
// predicates attached to a job or to (object, state), and the set of
// objects that may hold reverse dependencies on it.
type Registry interface {
	// States returns the finite state set for a content type.
	States(contentType string) ([]string, error)

	// Adjacent returns the states reachable from state in a single
	// registered hop, for use by internal/routeoracle's graph search.
	Adjacent(contentType, state string) ([]string, error)

	// CurrentState returns the object's committed state.
	CurrentState(obj types.ObjectRef) (string, error)

	// Route returns the ordered list of adjacent states connecting from to
	// to, inclusive of both endpoints. When from == to it is the
	// one-element list [from].
	Route(obj types.ObjectRef, from, to string) ([]string, error)

	// JobClassForHop resolves the atomic job class that performs one
	// registered (from,to) hop for obj's content type. last indicates
	// whether this hop is the terminal hop of a multi-hop route, which
	// some job classes use to decide whether to run extra finalization
	// steps (mirroring get_job_class(from,to,last) in spec.md §3).
	JobClassForHop(obj types.ObjectRef, from, to string, last bool) (JobClass, error)

	// DependsForState returns the DependAll that must hold for obj to sit
	// in state, independent of any specific job.
	DependsForState(obj types.ObjectRef, state string) (types.DependAll, error)

	// DependsForJob returns the DependAll a job-class instance requires,
	// given its already-resolved arguments.
	DependsForJob(job types.Job) (types.DependAll, error)

	// DependentObjects returns objects that may hold a reverse dependency
	// on obj (get_dependent_objects in spec.md §3).
	DependentObjects(obj types.ObjectRef) ([]types.ObjectRef, error)
}
