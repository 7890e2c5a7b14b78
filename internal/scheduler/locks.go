// ============================================================================
// Lock construction
// ============================================================================
//
// Package: internal/scheduler
// Purpose: spec.md §4.5 step 3's "for each planned job, build its locks":
// a read lock per object the job's own dependency clauses name, a read lock
// per object named by the state-change job's old- and new-state dependency
// clauses, the job's own write lock against the object it transitions (for
// state-change jobs), and any extra locks the job class declares via
// create_locks.
// ============================================================================

package scheduler

import (
	"github.com/whamcloud/lustre-scheduler/internal/depcache"
	"github.com/whamcloud/lustre-scheduler/internal/registry"
	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// buildLocks computes every lock job should hold, given its already-resolved
// dependency clauses and job class.
func buildLocks(jobID types.JobID, job types.Job, t *types.Transition, class registry.JobClass, deps *depcache.Cache) ([]types.StateLock, error) {
	var locks []types.StateLock
	seen := map[types.ObjectRef]bool{}

	addRead := func(obj types.ObjectRef) {
		if seen[obj] {
			return
		}
		seen[obj] = true
		locks = append(locks, types.StateLock{JobID: jobID, LockedItem: obj, Write: false})
	}

	jobDeps, err := deps.ForJob(job)
	if err != nil {
		return nil, err
	}
	for _, d := range jobDeps.Clauses {
		addRead(d.Object)
	}

	if t != nil {
		oldDeps, err := deps.ForState(t.Object, t.OldState)
		if err != nil {
			return nil, err
		}
		newDeps, err := deps.ForState(t.Object, t.NewState)
		if err != nil {
			return nil, err
		}
		for _, d := range oldDeps.Clauses {
			addRead(d.Object)
		}
		for _, d := range newDeps.Clauses {
			addRead(d.Object)
		}

		begin, end := t.OldState, t.NewState
		locks = append(locks, types.StateLock{
			JobID:      jobID,
			LockedItem: t.Object,
			Write:      true,
			BeginState: &begin,
			EndState:   &end,
		})
	}

	if class.CreateLocks != nil {
		locks = append(locks, class.CreateLocks(job)...)
	}

	return locks, nil
}
