// ============================================================================
// Wait-for derivation
// ============================================================================
//
// Package: internal/scheduler
// Purpose: spec.md §4.5.1's rule for turning a job's newly-registered locks
// into its wait_for list: a write lock waits for the prior write on the same
// item (asserting the chain's begin_state matches that write's end_state)
// plus every read lock that landed after it; a read lock waits only for the
// prior write.
// ============================================================================

package scheduler

import (
	"sort"

	"github.com/whamcloud/lustre-scheduler/internal/lockcache"
	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// computeWaitFor derives the deduplicated wait_for set for a job from all of
// the locks it just acquired. cache must already contain those locks (Add
// is called before this, matching the order set_state registers them in).
func computeWaitFor(jobID types.JobID, locks []types.StateLock, cache *lockcache.Cache) ([]types.JobID, error) {
	seen := map[types.JobID]bool{}
	var out []types.JobID
	add := func(id types.JobID) {
		if id == jobID || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	for _, lock := range locks {
		prevWrite, hasPrevWrite := cache.LatestWrite(lock.LockedItem, jobID)

		if lock.Write {
			if hasPrevWrite {
				if prevWrite.EndState != nil && lock.BeginState != nil && *prevWrite.EndState != *lock.BeginState {
					return nil, stateChainMismatch(lock.LockedItem, *lock.BeginState, *prevWrite.EndState)
				}
				add(prevWrite.JobID)
			}
			barrier := types.JobID(0)
			if hasPrevWrite {
				barrier = prevWrite.JobID
			}
			for _, r := range cache.ReadLocksAfter(lock.LockedItem, barrier, jobID) {
				add(r.JobID)
			}
		} else if hasPrevWrite {
			add(prevWrite.JobID)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
