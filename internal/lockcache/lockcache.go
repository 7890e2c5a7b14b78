// ============================================================================
// Lock Cache (C3)
// ============================================================================
//
// Package: internal/lockcache
// Purpose: in-memory authoritative index of all read/write StateLocks held
// by pending or running jobs, per spec.md §4.3. The planner consults it
// while expanding a route (to know an object's "expected state" given
// pending writes); set_state registers new locks into it as it persists
// jobs; wait-for derivation queries it to find conflicting predecessors.
//
// Replaces the source's module-level singleton (spec.md §9 redesign note:
// "Global Lock Cache becomes process-wide state owned by the scheduler with
// explicit init/teardown and a single mutex; no ambient access from other
// subsystems") with an explicit *Cache value the scheduler owns and passes
// down, matching internal/jobmanager's JobManager shape: one struct, one
// sync.RWMutex, no package-level state.
// ============================================================================

package lockcache

import (
	"sort"
	"sync"

	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// Cache is the in-memory lock index. Zero value is not usable; use New.
type Cache struct {
	mu sync.RWMutex

	// byJob indexes all locks held by a given job, in Add order.
	byJob map[types.JobID][]types.StateLock

	// byItem indexes all locks (read and write) against a locked item, in
	// Add order, which — because job ids are assigned in monotonically
	// increasing insertion order by the store — also sorts them by job id.
	byItem map[types.ObjectRef][]types.StateLock
}

// New builds an empty Cache.
func New() *Cache {
	return &Cache{
		byJob:  make(map[types.JobID][]types.StateLock),
		byItem: make(map[types.ObjectRef][]types.StateLock),
	}
}

// Add registers lock against its job and locked item. O(1) amortized.
func (c *Cache) Add(lock types.StateLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byJob[lock.JobID] = append(c.byJob[lock.JobID], lock)
	c.byItem[lock.LockedItem] = append(c.byItem[lock.LockedItem], lock)
}

// ByJob returns all locks held by job, in the order they were added.
func (c *Cache) ByJob(job types.JobID) []types.StateLock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.StateLock(nil), c.byJob[job]...)
}

// LatestWrite returns the highest-job-id write lock on item, excluding
// notJob. ok is false if no such lock exists.
func (c *Cache) LatestWrite(item types.ObjectRef, notJob types.JobID) (lock types.StateLock, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, l := range c.byItem[item] {
		if !l.Write || l.JobID == notJob {
			continue
		}
		if !ok || l.JobID > lock.JobID {
			lock, ok = l, true
		}
	}
	return lock, ok
}

// ReadLocksAfter returns all read locks on item held by jobs with id > after,
// excluding notJob, ordered by job id.
func (c *Cache) ReadLocksAfter(item types.ObjectRef, after, notJob types.JobID) []types.StateLock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []types.StateLock
	for _, l := range c.byItem[item] {
		if l.Write || l.JobID == notJob || l.JobID <= after {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// ByItem returns every lock (read and write) held against item, ordered by
// job id. Used by get_locks (spec.md §6) to answer {read:[job_id],
// write:[job_id]} queries.
func (c *Cache) ByItem(item types.ObjectRef) []types.StateLock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := append([]types.StateLock(nil), c.byItem[item]...)
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// WriteByLockedItem returns, for every locked item with at least one write
// lock, the latest (highest job id) write lock on it. Used by the planner
// to seed expected_states from pending writes (spec §4.4 step 1).
func (c *Cache) WriteByLockedItem() map[types.ObjectRef]types.StateLock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[types.ObjectRef]types.StateLock)
	for item, locks := range c.byItem {
		var latest types.StateLock
		found := false
		for _, l := range locks {
			if !l.Write {
				continue
			}
			if !found || l.JobID > latest.JobID {
				latest, found = l, true
			}
		}
		if found {
			out[item] = latest
		}
	}
	return out
}

// Remove evicts all locks held by job. Called by the runner (external)
// when the job completes; spec.md §6 assigns this responsibility outside
// the scheduler itself. Nothing in internal/scheduler or internal/store
// calls it: store.UpdateJobState records a completion in the store only.
func (c *Cache) Remove(job types.JobID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	locks := c.byJob[job]
	delete(c.byJob, job)
	for _, l := range locks {
		items := c.byItem[l.LockedItem]
		filtered := items[:0]
		for _, existing := range items {
			if existing.JobID != job {
				filtered = append(filtered, existing)
			}
		}
		if len(filtered) == 0 {
			delete(c.byItem, l.LockedItem)
		} else {
			c.byItem[l.LockedItem] = filtered
		}
	}
}

// Seed rebuilds the cache from the locks_json of every non-complete job,
// for restart recovery (spec.md §6 "Restart recovery"). jobs need not be
// in any particular order; Add's per-item ordering is restored correctly
// because locks carry their own JobID and LatestWrite/ReadLocksAfter
// compare by JobID rather than by insertion position once more than one
// job is present — but to keep insertion order consistent with a fresh
// run, callers should pass jobs sorted by id.
func (c *Cache) Seed(jobs []*types.Job) {
	for _, j := range jobs {
		for _, l := range j.LocksJSON {
			c.Add(l)
		}
	}
}
