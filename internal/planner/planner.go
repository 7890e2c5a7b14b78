// ============================================================================
// Transition Planner (C4)
// ============================================================================
//
// Package: internal/planner
// Purpose: compute the full set of Transitions (and their ordering edges)
// required to drive one object to a requested state, expanding both the
// route between states and every dependency that route touches — job-level
// DependOn clauses, state-static dependencies of the destination state, and
// reverse dependents that would be broken by the move. Spec.md §4.4 fully
// specifies the algorithm; this file is the direct Go transcription of it.
//
// Nothing here talks to a store: Plan is a pure function of the registry,
// route oracle, dependency cache and lock cache snapshots it's given, which
// is what makes get_transition_consequences (spec.md §4.6) — "run the
// planner without consulting pending writes... without persisting" — just
// a call to Plan with an empty lock cache rather than a separate code path.
// ============================================================================

package planner

import (
	"github.com/whamcloud/lustre-scheduler/internal/depcache"
	"github.com/whamcloud/lustre-scheduler/internal/lockcache"
	"github.com/whamcloud/lustre-scheduler/internal/registry"
	"github.com/whamcloud/lustre-scheduler/internal/routeoracle"
	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// Planner computes Plan results. It holds no mutable state of its own;
// every field is itself a collaborator shared with the rest of the
// scheduler.
type Planner struct {
	reg   registry.Registry
	route *routeoracle.Oracle
	deps  *depcache.Cache
}

// New builds a Planner over the given registry, route oracle and
// dependency cache.
func New(reg registry.Registry, route *routeoracle.Oracle, deps *depcache.Cache) *Planner {
	return &Planner{reg: reg, route: route, deps: deps}
}

// Result is the output of one Plan call.
type Result struct {
	Deps  []types.Transition
	Edges []types.Edge

	// AttachedJob is set when no new transitions were needed because a
	// pending write lock already drives the object to newState; the
	// caller (internal/scheduler) attaches this existing job to the
	// command instead of creating new work.
	AttachedJob *types.JobID
}

// Plan computes the transitions required to drive obj to newState, per
// spec.md §4.4. locks may be nil, in which case pending writes are
// ignored and expected state always falls back to the object's committed
// state — this is exactly the distinction get_transition_consequences
// needs (spec.md §4.6: "runs the planner without consulting pending
// writes").
func (pl *Planner) Plan(obj types.ObjectRef, newState string, locks *lockcache.Cache) (*Result, error) {
	states, err := pl.reg.States(obj.ContentType)
	if err != nil {
		return nil, err
	}
	validTarget := false
	for _, s := range states {
		if s == newState {
			validTarget = true
			break
		}
	}
	if !validTarget {
		return nil, &SchedulingError{Msg: "state " + newState + " invalid for " + obj.ContentType}
	}

	c := &planCall{pl: pl, locks: locks, depsSet: map[types.Transition]bool{}, collected: map[types.Transition]bool{}, cache: map[requestKey]cachedRoute{}}

	expected, attachedJob, err := c.currentExpectedState(obj)
	if err != nil {
		return nil, err
	}
	if expected == newState {
		return &Result{AttachedJob: attachedJob}, nil
	}

	if _, _, err := c.emitTransitionDeps(obj, newState, map[types.ObjectRef]string{}); err != nil {
		return nil, err
	}

	return &Result{Deps: linearize(c.deps, c.edges), Edges: c.edges}, nil
}

// requestKey memoizes emitTransitionDeps calls by (object, target state):
// once a path through the plan has already driven object toward newState,
// later requests for the same pair reuse that work rather than re-routing
// and re-colliding with the same dependency edges (spec.md §4.4 step 2.1,
// "if this transition is already in deps, return it").
type requestKey struct {
	obj      types.ObjectRef
	newState string
}

type cachedRoute struct {
	last    types.Transition
	emitted bool
}

// planCall holds the working state of a single Plan invocation: the
// accumulated dependency set and ordering edges, and memoization tables
// scoped to this call only (two concurrent Plan calls never share state —
// the scheduler's process-wide serializing mutex guarantees that anyway).
type planCall struct {
	pl    *Planner
	locks *lockcache.Cache

	deps      []types.Transition
	depsSet   map[types.Transition]bool
	edges     []types.Edge
	collected map[types.Transition]bool
	cache     map[requestKey]cachedRoute
}

// currentExpectedState resolves an object's expected state with no path
// hypothesis in effect: the end-state of its latest pending write lock, if
// any, else its committed state. Also returns the job holding that write
// lock, if any, for the early-exit "attach existing job" case.
func (c *planCall) currentExpectedState(obj types.ObjectRef) (string, *types.JobID, error) {
	if c.locks != nil {
		if lock, ok := c.locks.LatestWrite(obj, 0); ok && lock.EndState != nil {
			job := lock.JobID
			return *lock.EndState, &job, nil
		}
	}
	s, err := c.pl.reg.CurrentState(obj)
	return s, nil, err
}

// expectedState resolves an object's expected state while a transition
// stack (path) is in effect: the path's hypothesis takes precedence over
// the pending-write/committed-state fallback (spec.md §4.4 step 3: "mid-
// transition expected state, consulting the transition stack first,
// falling back to expected_states").
func (c *planCall) expectedState(obj types.ObjectRef, path map[types.ObjectRef]string) (string, error) {
	if s, ok := path[obj]; ok {
		return s, nil
	}
	s, _, err := c.currentExpectedState(obj)
	return s, err
}

func copyPath(path map[types.ObjectRef]string) map[types.ObjectRef]string {
	out := make(map[types.ObjectRef]string, len(path)+1)
	for k, v := range path {
		out[k] = v
	}
	return out
}

// emitTransitionDeps expands the route from obj's current expected state
// to newState, adding one Transition per hop to c.deps (chained in
// execution order) and recursing into collectDependencies for each hop.
// Returns the last (terminal) hop transition and whether any work was
// actually emitted (false for a no-op request where obj is already
// expected to be in newState along this path).
func (c *planCall) emitTransitionDeps(obj types.ObjectRef, newState string, path map[types.ObjectRef]string) (types.Transition, bool, error) {
	key := requestKey{obj: obj, newState: newState}
	if cached, ok := c.cache[key]; ok {
		return cached.last, cached.emitted, nil
	}

	from, err := c.expectedState(obj, path)
	if err != nil {
		return types.Transition{}, false, err
	}
	if from == newState {
		c.cache[key] = cachedRoute{emitted: false}
		return types.Transition{}, false, nil
	}

	childPath := copyPath(path)
	childPath[obj] = newState

	route, err := c.pl.route.Route(obj, from, newState)
	if err != nil {
		return types.Transition{}, false, err
	}

	var last types.Transition
	var prev types.Transition
	havePrev := false
	for i := 0; i < len(route)-1; i++ {
		t := types.Transition{Object: obj, OldState: route[i], NewState: route[i+1]}
		isLastHop := i == len(route)-2

		if !c.depsSet[t] {
			c.deps = append(c.deps, t)
			c.depsSet[t] = true
			if havePrev {
				// t depends on prev: prev must be scheduled first.
				c.edges = append(c.edges, types.Edge{From: t, To: prev})
			}
			if err := c.collectDependencies(t, childPath, isLastHop); err != nil {
				return types.Transition{}, false, err
			}
		}
		prev, havePrev = t, true
		last = t
	}

	c.cache[key] = cachedRoute{last: last, emitted: true}
	return last, true, nil
}

// collectDependencies implements spec.md §4.4 step 3 for one hop
// transition t: job-level DependOn clauses, state-static dependencies of
// t's destination state, and reverse dependents broken by the move.
func (c *planCall) collectDependencies(t types.Transition, path map[types.ObjectRef]string, lastHop bool) error {
	if c.collected[t] {
		return nil
	}
	c.collected[t] = true

	jobClass, err := c.pl.reg.JobClassForHop(t.Object, t.OldState, t.NewState, lastHop)
	if err != nil {
		return err
	}
	job := types.Job{
		Class:           jobClass.Name,
		Object:          &t.Object,
		StateTransition: &types.StateTransition{Class: jobClass.Name, FromStates: []string{t.OldState}, ToState: t.NewState},
		Args:            t.ToJobArgs(),
	}

	jobDeps, err := c.pl.deps.ForJob(job)
	if err != nil {
		return err
	}
	if err := c.driveUnsatisfied(t, jobDeps, path); err != nil {
		return err
	}

	stateDeps, err := c.pl.deps.ForState(t.Object, t.NewState)
	if err != nil {
		return err
	}
	filtered := types.DependAll{}
	for _, d := range stateDeps.Clauses {
		if _, onPath := path[d.Object]; onPath {
			continue
		}
		filtered.Clauses = append(filtered.Clauses, d)
	}
	if err := c.driveUnsatisfied(t, filtered, path); err != nil {
		return err
	}

	return c.driveReverseDependents(t, path)
}

// driveUnsatisfied recurses into every clause of deps not already
// satisfied by its object's expected state, wiring an edge from t to the
// last emitted transition of each.
func (c *planCall) driveUnsatisfied(t types.Transition, deps types.DependAll, path map[types.ObjectRef]string) error {
	for _, d := range deps.Clauses {
		old, err := c.expectedState(d.Object, path)
		if err != nil {
			return err
		}
		if d.Satisfied(old) {
			continue
		}
		last, emitted, err := c.emitTransitionDeps(d.Object, d.PreferredState, path)
		if err != nil {
			return err
		}
		if emitted {
			c.edges = append(c.edges, types.Edge{From: t, To: last})
		}
	}
	return nil
}

// driveReverseDependents finds objects that depend on t.Object and would
// be broken by driving it to t.NewState, and drives each to its declared
// fix_state.
func (c *planCall) driveReverseDependents(t types.Transition, path map[types.ObjectRef]string) error {
	dependents, err := c.pl.reg.DependentObjects(t.Object)
	if err != nil {
		return err
	}
	for _, dep := range dependents {
		if _, onPath := path[dep]; onPath {
			continue
		}
		ds, err := c.expectedState(dep, path)
		if err != nil {
			return err
		}
		depDeps, err := c.pl.deps.ForState(dep, ds)
		if err != nil {
			return err
		}
		for _, clause := range depDeps.Clauses {
			if clause.Object != t.Object || clause.Satisfied(t.NewState) {
				continue
			}
			if clause.FixState == nil {
				return &DependencyContractViolation{Dependent: dep, Object: t.Object}
			}
			target := clause.FixState.Resolve(t.NewState)
			last, emitted, err := c.emitTransitionDeps(dep, target, path)
			if err != nil {
				return err
			}
			if emitted {
				c.edges = append(c.edges, types.Edge{From: t, To: last})
			}
		}
	}
	return nil
}
