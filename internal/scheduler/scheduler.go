// ============================================================================
// Scheduler (C5 + C6)
// ============================================================================
//
// Package: internal/scheduler
// Purpose: the Modification Operation and Command API spec.md §4.5/§4.6
// describe, wired over internal/planner, internal/lockcache and
// internal/store. This is the one place that actually persists jobs: the
// planner only computes what's needed, the store only knows how to make
// writes durable, and the scheduler is what runs one planning pass and one
// store.Tx under the process-wide serializing mutex spec.md §5 requires.
//
// Shaped after internal/controller/controller.go's role of owning a single
// mutex-guarded sequencing point over the job manager: `Scheduler.mu` is
// that point, held for the full extent of SetState/RunJobs — from the
// Plan/PlanPrerequisites call through the end of WithTx. store.Store.mu
// alone is not enough: it's only acquired inside WithTx, so two concurrent
// callers could otherwise both plan against the same stale s.locks view
// before either persists, both concluding "create a new job" instead of
// the second attaching to the first's pending write.
// ============================================================================

package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/whamcloud/lustre-scheduler/internal/depcache"
	"github.com/whamcloud/lustre-scheduler/internal/lockcache"
	"github.com/whamcloud/lustre-scheduler/internal/planner"
	"github.com/whamcloud/lustre-scheduler/internal/registry"
	"github.com/whamcloud/lustre-scheduler/internal/routeoracle"
	"github.com/whamcloud/lustre-scheduler/internal/store"
	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// Metrics is the narrow surface the scheduler reports to; internal/metrics
// implements it. Kept as an interface here so this package never imports
// the Prometheus client directly.
type Metrics interface {
	ObservePlanDuration(d time.Duration)
	ObserveJobsPlanned(n int)
}

type noopMetrics struct{}

func (noopMetrics) ObservePlanDuration(time.Duration) {}
func (noopMetrics) ObserveJobsPlanned(int)            {}

// Scheduler owns the process-wide planning/persistence pipeline. Construct
// with New; zero value is not usable.
type Scheduler struct {
	mu sync.Mutex

	store *store.Store
	reg   registry.Registry
	deps  *depcache.Cache
	route *routeoracle.Oracle
	pl    *planner.Planner
	locks *lockcache.Cache

	metrics Metrics
	log     *slog.Logger
}

// New builds a Scheduler. locks should already be seeded (store.Open's
// second return value, fed through lockcache.Cache.Seed) before the first
// call, per spec.md §6's restart-recovery contract.
func New(st *store.Store, reg registry.Registry, locks *lockcache.Cache, metrics Metrics, log *slog.Logger) *Scheduler {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}
	deps := depcache.New(reg)
	route := routeoracle.New(reg)
	return &Scheduler{
		store:   st,
		reg:     reg,
		deps:    deps,
		route:   route,
		pl:      planner.New(reg, route, deps),
		locks:   locks,
		metrics: metrics,
		log:     log,
	}
}

// JobDescriptor is one entry of command_run_jobs's job_descriptors
// (spec.md §4.6): the class of a non-state-change job plus its arguments.
type JobDescriptor struct {
	Class string
	Args  map[string]any
}

// JobInfo describes an instantiable or planned job for the RPC surface
// (available_jobs, get_transition_consequences): class name, human
// description, confirmation prompt, and the stateful object it concerns.
type JobInfo struct {
	Class              string
	Description        string
	ConfirmationPrompt string
	Object             types.ObjectRef
	Args               map[string]any
}

// SetState implements set_state/command_set_state (spec.md §4.5/§4.6): plan
// the route from obj's expected state to newState, persist every resulting
// transition as a job, and return the command id grouping them.
func (s *Scheduler) SetState(obj types.ObjectRef, newState, message string) (types.CommandID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result, err := s.pl.Plan(obj, newState, s.locks)
	if err != nil {
		return 0, err
	}

	var cmdID types.CommandID
	err = s.store.WithTx(func(tx *store.Tx) error {
		cmdID = tx.NextCommandID()

		var jobIDs []types.JobID
		if result.AttachedJob != nil {
			jobIDs = []types.JobID{*result.AttachedJob}
		} else if len(result.Deps) > 0 {
			ids, err := s.persistTransitions(tx, result.Deps, cmdID)
			if err != nil {
				return err
			}
			jobIDs = ids
		}

		tx.PutCommand(&types.Command{ID: cmdID, Message: message, CreatedAt: types.NowMillis(), JobIDs: jobIDs})
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.ObservePlanDuration(time.Since(start))
	s.metrics.ObserveJobsPlanned(len(result.Deps))
	return cmdID, nil
}

// RunJobs implements command_run_jobs (spec.md §4.6): expand every
// descriptor's job-level prerequisites into a shared set of state
// transitions (internal/planner.PlanPrerequisites resolves the mid-
// iteration ordering open question by expanding before linearizing once),
// persist those transitions, then persist the requested jobs themselves.
func (s *Scheduler) RunJobs(descriptors []JobDescriptor, message string) (types.CommandID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	jobs := make([]types.Job, len(descriptors))
	for i, d := range descriptors {
		jobs[i] = types.Job{Class: d.Class, Args: d.Args}
	}

	result, err := s.pl.PlanPrerequisites(jobs, s.locks)
	if err != nil {
		return 0, err
	}

	var cmdID types.CommandID
	err = s.store.WithTx(func(tx *store.Tx) error {
		cmdID = tx.NextCommandID()

		jobIDs, err := s.persistTransitions(tx, result.Deps, cmdID)
		if err != nil {
			return err
		}

		now := types.NowMillis()
		for _, d := range descriptors {
			jobID := tx.NextJobID()
			job := types.Job{ID: jobID, Command: cmdID, Class: d.Class, Args: d.Args, State: types.JobPending, CreatedAt: now, UpdatedAt: now}

			locks, err := buildLocks(jobID, job, nil, registry.JobClass{}, s.deps)
			if err != nil {
				return err
			}
			for _, l := range locks {
				s.locks.Add(l)
			}
			waitFor, err := computeWaitFor(jobID, locks, s.locks)
			if err != nil {
				return err
			}
			job.LocksJSON = locks
			job.WaitForJSON = waitFor

			tx.PutJob(&job)
			jobIDs = append(jobIDs, jobID)
		}

		tx.PutCommand(&types.Command{ID: cmdID, Message: message, CreatedAt: now, JobIDs: jobIDs})
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.ObservePlanDuration(time.Since(start))
	s.metrics.ObserveJobsPlanned(len(result.Deps) + len(descriptors))
	return cmdID, nil
}

// persistTransitions instantiates, locks and persists one linearized
// transition plan (spec.md §4.5 step 3), returning the job ids in plan
// order. Shared by SetState and RunJobs since both end in "persist this
// plan under the current Tx".
func (s *Scheduler) persistTransitions(tx *store.Tx, deps []types.Transition, cmdID types.CommandID) ([]types.JobID, error) {
	lastHop := computeLastHops(deps)
	now := types.NowMillis()
	ids := make([]types.JobID, len(deps))

	for i, t := range deps {
		t := t
		class, err := s.reg.JobClassForHop(t.Object, t.OldState, t.NewState, lastHop[i])
		if err != nil {
			return nil, err
		}

		jobID := tx.NextJobID()
		job := types.Job{
			ID:              jobID,
			Command:         cmdID,
			Class:           class.Name,
			Args:            t.ToJobArgs(),
			State:           types.JobPending,
			StateTransition: &types.StateTransition{Class: class.Name, FromStates: []string{t.OldState}, ToState: t.NewState},
			Object:          &t.Object,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		locks, err := buildLocks(jobID, job, &t, class, s.deps)
		if err != nil {
			return nil, err
		}
		for _, l := range locks {
			s.locks.Add(l)
		}
		waitFor, err := computeWaitFor(jobID, locks, s.locks)
		if err != nil {
			return nil, err
		}
		job.LocksJSON = locks
		job.WaitForJSON = waitFor

		tx.PutJob(&job)
		ids[i] = jobID
	}

	return ids, nil
}

// computeLastHops reports, per transition in deps, whether it is the
// terminal hop of its object's route: no other transition in the same plan
// picks up where it leaves off.
func computeLastHops(deps []types.Transition) []bool {
	continues := make(map[types.Transition]bool, len(deps))
	for _, t := range deps {
		for _, next := range deps {
			if next.Object == t.Object && next.OldState == t.NewState {
				continues[t] = true
				break
			}
		}
	}
	out := make([]bool, len(deps))
	for i, t := range deps {
		out[i] = !continues[t]
	}
	return out
}

// ConsequencesResult is get_transition_consequences's return shape
// (spec.md §4.6).
type ConsequencesResult struct {
	TransitionJob  JobInfo
	DependencyJobs []JobInfo
	NoOp           bool
}

// TransitionConsequences implements get_transition_consequences: plans
// obj -> newState against committed state only (locks=nil), without
// persisting, and describes the result for the UI.
func (s *Scheduler) TransitionConsequences(obj types.ObjectRef, newState string) (*ConsequencesResult, error) {
	result, err := s.pl.Plan(obj, newState, nil)
	if err != nil {
		return nil, err
	}
	if result.AttachedJob != nil || len(result.Deps) == 0 {
		return &ConsequencesResult{NoOp: true}, nil
	}

	lastHop := computeLastHops(result.Deps)
	infos := make([]JobInfo, len(result.Deps))
	for i, t := range result.Deps {
		info, err := s.describeTransition(t, lastHop[i])
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}

	last := len(infos) - 1
	return &ConsequencesResult{TransitionJob: infos[last], DependencyJobs: infos[:last]}, nil
}

func (s *Scheduler) describeTransition(t types.Transition, last bool) (JobInfo, error) {
	class, err := s.reg.JobClassForHop(t.Object, t.OldState, t.NewState, last)
	if err != nil {
		return JobInfo{}, err
	}
	args := t.ToJobArgs()
	info := JobInfo{Class: class.Name, Object: t.Object, Args: args}
	if class.Description != nil {
		info.Description = class.Description(args)
	}
	if class.ConfirmationPrompt != nil {
		info.ConfirmationPrompt = class.ConfirmationPrompt(args)
	}
	return info, nil
}

// AvailableTransitions implements available_transitions (spec.md §6): the
// states reachable from each object's current committed state in a single
// registered hop.
func (s *Scheduler) AvailableTransitions(objs []types.ObjectRef) (map[types.ObjectRef][]string, error) {
	out := make(map[types.ObjectRef][]string, len(objs))
	for _, obj := range objs {
		current, err := s.reg.CurrentState(obj)
		if err != nil {
			return nil, err
		}
		adj, err := s.reg.Adjacent(obj.ContentType, current)
		if err != nil {
			return nil, err
		}
		out[obj] = adj
	}
	return out, nil
}

// AvailableJobs implements available_jobs (spec.md §6): for each object,
// the job descriptors available from its current state — one per
// single-hop adjacent state.
func (s *Scheduler) AvailableJobs(objs []types.ObjectRef) (map[types.ObjectRef][]JobInfo, error) {
	out := make(map[types.ObjectRef][]JobInfo, len(objs))
	for _, obj := range objs {
		current, err := s.reg.CurrentState(obj)
		if err != nil {
			return nil, err
		}
		adj, err := s.reg.Adjacent(obj.ContentType, current)
		if err != nil {
			return nil, err
		}
		infos := make([]JobInfo, 0, len(adj))
		for _, next := range adj {
			info, err := s.describeTransition(types.Transition{Object: obj, OldState: current, NewState: next}, true)
			if err != nil {
				return nil, err
			}
			infos = append(infos, info)
		}
		out[obj] = infos
	}
	return out, nil
}

// Locks is get_locks's return shape (spec.md §6).
type Locks struct {
	Read  []types.JobID
	Write []types.JobID
}

// GetLocks implements get_locks (spec.md §6).
func (s *Scheduler) GetLocks(obj types.ObjectRef) Locks {
	var out Locks
	for _, l := range s.locks.ByItem(obj) {
		if l.Write {
			out.Write = append(out.Write, l.JobID)
		} else {
			out.Read = append(out.Read, l.JobID)
		}
	}
	return out
}
