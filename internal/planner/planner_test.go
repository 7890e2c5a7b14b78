package planner

import (
	"testing"

	"github.com/whamcloud/lustre-scheduler/internal/depcache"
	"github.com/whamcloud/lustre-scheduler/internal/lockcache"
	"github.com/whamcloud/lustre-scheduler/internal/registry"
	"github.com/whamcloud/lustre-scheduler/internal/routeoracle"
	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// fakeRegistry implements a small enough slice of the Lustre object model
// to exercise the worked scenarios in spec.md §8 (S1-S5): one host with
// lnet up/down, one target with an unmounted/mounted hop and a separate
// unformatted/formatted/registered chain, and a single reverse dependency
// (a mounted target requires its host's lnet to stay up).
type fakeRegistry struct {
	states   map[string][]string
	adj      map[string]map[string][]string // contentType -> state -> neighbors
	current  map[types.ObjectRef]string
	stateDep map[types.ObjectRef]map[string]types.DependAll
	reverse  map[types.ObjectRef][]types.ObjectRef
}

func (r *fakeRegistry) States(ct string) ([]string, error) { return r.states[ct], nil }

func (r *fakeRegistry) Adjacent(ct, state string) ([]string, error) { return r.adj[ct][state], nil }

func (r *fakeRegistry) CurrentState(obj types.ObjectRef) (string, error) { return r.current[obj], nil }

func (r *fakeRegistry) Route(obj types.ObjectRef, from, to string) ([]string, error) {
	panic("not used by the planner directly")
}

func (r *fakeRegistry) JobClassForHop(obj types.ObjectRef, from, to string, last bool) (registry.JobClass, error) {
	return registry.JobClass{Name: obj.ContentType + ":" + from + "->" + to}, nil
}

func (r *fakeRegistry) DependsForState(obj types.ObjectRef, state string) (types.DependAll, error) {
	if m, ok := r.stateDep[obj]; ok {
		return m[state], nil
	}
	return types.DependAll{}, nil
}

func (r *fakeRegistry) DependsForJob(job types.Job) (types.DependAll, error) {
	return types.DependAll{}, nil
}

func (r *fakeRegistry) DependentObjects(obj types.ObjectRef) ([]types.ObjectRef, error) {
	return r.reverse[obj], nil
}

func newFixture() (*fakeRegistry, types.ObjectRef, types.ObjectRef) {
	host1 := types.ObjectRef{ContentType: "host", ID: 1}
	target7 := types.ObjectRef{ContentType: "target", ID: 7}

	reg := &fakeRegistry{
		states: map[string][]string{
			"host":   {"lnet_up", "lnet_down"},
			"target": {"unmounted", "mounted", "unformatted", "formatted", "registered"},
		},
		adj: map[string]map[string][]string{
			"host": {
				"lnet_up":   {"lnet_down"},
				"lnet_down": {"lnet_up"},
			},
			"target": {
				"unmounted":   {"mounted"},
				"mounted":     {"unmounted"},
				"unformatted": {"formatted"},
				"formatted":   {"registered"},
				"registered":  {},
			},
		},
		current: map[types.ObjectRef]string{
			host1:   "lnet_up",
			target7: "unmounted",
		},
		stateDep: map[types.ObjectRef]map[string]types.DependAll{
			target7: {
				"mounted": {Clauses: []types.DependOn{{
					Object:           host1,
					AcceptableStates: []string{"lnet_up"},
					PreferredState:   "lnet_up",
				}}},
			},
		},
		reverse: map[types.ObjectRef][]types.ObjectRef{
			host1: {target7},
		},
	}
	return reg, host1, target7
}

func newPlanner(reg *fakeRegistry) *Planner {
	return New(reg, routeoracle.New(reg), depcache.New(reg))
}

func TestPlanS1TrivialNoOp(t *testing.T) {
	reg, host1, _ := newFixture()
	pl := newPlanner(reg)

	res, err := pl.Plan(host1, "lnet_up", nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(res.Deps) != 0 {
		t.Fatalf("expected no transitions, got %v", res.Deps)
	}
	if res.AttachedJob != nil {
		t.Fatalf("expected no attached job, got %v", *res.AttachedJob)
	}
}

func TestPlanS2SingleHop(t *testing.T) {
	reg, _, target7 := newFixture()
	pl := newPlanner(reg)

	res, err := pl.Plan(target7, "mounted", nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(res.Deps) != 1 {
		t.Fatalf("expected 1 transition, got %d: %v", len(res.Deps), res.Deps)
	}
	want := types.Transition{Object: target7, OldState: "unmounted", NewState: "mounted"}
	if res.Deps[0] != want {
		t.Fatalf("got %v, want %v", res.Deps[0], want)
	}
}

func TestPlanS3MultiHop(t *testing.T) {
	reg, _, _ := newFixture()
	target7 := types.ObjectRef{ContentType: "target", ID: 7}
	reg.current[target7] = "unformatted"
	pl := newPlanner(reg)

	res, err := pl.Plan(target7, "registered", nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(res.Deps) != 2 {
		t.Fatalf("expected 2 transitions, got %d: %v", len(res.Deps), res.Deps)
	}
	if res.Deps[0].NewState != "formatted" || res.Deps[1].NewState != "registered" {
		t.Fatalf("unexpected order: %v", res.Deps)
	}
}

func TestPlanS4PrerequisiteOnAnotherObject(t *testing.T) {
	reg, host1, target7 := newFixture()
	reg.current[host1] = "lnet_down"
	pl := newPlanner(reg)

	res, err := pl.Plan(target7, "mounted", nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(res.Deps) != 2 {
		t.Fatalf("expected 2 transitions, got %d: %v", len(res.Deps), res.Deps)
	}
	if res.Deps[0].Object != host1 || res.Deps[1].Object != target7 {
		t.Fatalf("expected host transition before target transition, got %v", res.Deps)
	}

	foundEdge := false
	for _, e := range res.Edges {
		if e.From.Object == target7 && e.To.Object == host1 {
			foundEdge = true
		}
	}
	if !foundEdge {
		t.Fatalf("expected an edge from the target transition to the host transition, got %v", res.Edges)
	}
}

func TestPlanS5ReverseDependency(t *testing.T) {
	reg, host1, target7 := newFixture()
	reg.current[target7] = "mounted"
	reg.stateDep[target7]["mounted"] = types.DependAll{Clauses: []types.DependOn{{
		Object:           host1,
		AcceptableStates: []string{"lnet_up"},
		PreferredState:   "lnet_up",
		FixState:         func() *types.FixState { f := types.Literal("unmounted"); return &f }(),
	}}}
	pl := newPlanner(reg)

	res, err := pl.Plan(host1, "lnet_down", nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(res.Deps) != 2 {
		t.Fatalf("expected 2 transitions, got %d: %v", len(res.Deps), res.Deps)
	}
	if res.Deps[0].Object != target7 || res.Deps[1].Object != host1 {
		t.Fatalf("expected target transition before host transition, got %v", res.Deps)
	}
}

func TestPlanAttachesExistingJobOnPendingWrite(t *testing.T) {
	reg, _, target7 := newFixture()
	pl := newPlanner(reg)
	locks := lockcache.New()
	endState := "mounted"
	locks.Add(types.StateLock{JobID: 42, LockedItem: target7, Write: true, EndState: &endState})

	res, err := pl.Plan(target7, "mounted", locks)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(res.Deps) != 0 {
		t.Fatalf("expected no new transitions, got %v", res.Deps)
	}
	if res.AttachedJob == nil || *res.AttachedJob != 42 {
		t.Fatalf("expected attached job 42, got %v", res.AttachedJob)
	}
}
