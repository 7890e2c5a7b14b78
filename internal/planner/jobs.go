package planner

import (
	"github.com/whamcloud/lustre-scheduler/internal/lockcache"
	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// PlanPrerequisites expands the job-level DependOn clauses of every job in
// jobs, sharing a single accumulation (deps/edges/memoization) across all
// of them, and returns one linearized result.
//
// This realizes command_run_jobs's "still consults the dependency cache
// and may insert prerequisite state transitions" (spec.md §4.6), and
// resolves the open question of mid-iteration ordering (spec.md §9) by
// fully expanding every descriptor's dependencies before running a single
// linearization pass, rather than linearizing after each one — so two
// descriptors sharing a prerequisite (e.g. two jobs both requiring the
// same host to be lnet_up) only drive that prerequisite once.
func (pl *Planner) PlanPrerequisites(jobs []types.Job, locks *lockcache.Cache) (*Result, error) {
	c := &planCall{pl: pl, locks: locks, depsSet: map[types.Transition]bool{}, collected: map[types.Transition]bool{}, cache: map[requestKey]cachedRoute{}}

	for _, job := range jobs {
		jobDeps, err := pl.deps.ForJob(job)
		if err != nil {
			return nil, err
		}
		for _, d := range jobDeps.Clauses {
			old, err := c.expectedState(d.Object, nil)
			if err != nil {
				return nil, err
			}
			if d.Satisfied(old) {
				continue
			}
			if _, _, err := c.emitTransitionDeps(d.Object, d.PreferredState, map[types.ObjectRef]string{}); err != nil {
				return nil, err
			}
		}
	}

	return &Result{Deps: linearize(c.deps, c.edges), Edges: c.edges}, nil
}
