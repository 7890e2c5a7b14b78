package lustre

import (
	"errors"
	"testing"

	"github.com/whamcloud/lustre-scheduler/internal/registry"
	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

func fixture() *Registry {
	r := New()
	r.AddHost(1, "lnet_up")
	r.AddTarget(7, 1, "unmounted")
	r.AddTarget(8, 1, "registered")
	r.AddFilesystem(20, []int64{7, 8}, "unavailable")
	return r
}

func TestRegistryStatesAndAdjacent(t *testing.T) {
	r := fixture()

	states, err := r.States("target")
	if err != nil {
		t.Fatalf("States: %v", err)
	}
	if len(states) != 5 {
		t.Fatalf("expected 5 target states, got %v", states)
	}

	adj, err := r.Adjacent("target", "mounted")
	if err != nil {
		t.Fatalf("Adjacent: %v", err)
	}
	if len(adj) != 1 || adj[0] != "unmounted" {
		t.Fatalf("expected mounted->unmounted, got %v", adj)
	}

	if _, err := r.States("widget"); !errors.Is(err, registry.ErrUnknownObject) {
		t.Fatalf("expected ErrUnknownObject for unknown content type, got %v", err)
	}
}

func TestRegistryCurrentStateAndSetCurrentState(t *testing.T) {
	r := fixture()
	host := types.ObjectRef{ContentType: "host", ID: 1}

	got, err := r.CurrentState(host)
	if err != nil {
		t.Fatalf("CurrentState: %v", err)
	}
	if got != "lnet_up" {
		t.Fatalf("expected lnet_up, got %q", got)
	}

	if err := r.SetCurrentState(host, "lnet_down"); err != nil {
		t.Fatalf("SetCurrentState: %v", err)
	}
	got, err = r.CurrentState(host)
	if err != nil {
		t.Fatalf("CurrentState: %v", err)
	}
	if got != "lnet_down" {
		t.Fatalf("expected lnet_down after SetCurrentState, got %q", got)
	}

	unknown := types.ObjectRef{ContentType: "host", ID: 99}
	if _, err := r.CurrentState(unknown); !errors.Is(err, registry.ErrUnknownObject) {
		t.Fatalf("expected ErrUnknownObject, got %v", err)
	}
}

func TestRegistryRouteDelegatesToOracle(t *testing.T) {
	r := fixture()
	target := types.ObjectRef{ContentType: "target", ID: 7}

	route, err := r.Route(target, "unformatted", "mounted")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := []string{"unformatted", "formatted", "registered", "mounted"}
	if len(route) != len(want) {
		t.Fatalf("expected %v, got %v", want, route)
	}
	for i := range want {
		if route[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, route)
		}
	}
}

func TestRegistryJobClassForHop(t *testing.T) {
	r := fixture()
	target := types.ObjectRef{ContentType: "target", ID: 7}

	class, err := r.JobClassForHop(target, "unmounted", "mounted", true)
	if err != nil {
		t.Fatalf("JobClassForHop: %v", err)
	}
	if class.Name != "MountTargetJob" {
		t.Fatalf("expected MountTargetJob, got %q", class.Name)
	}

	host := types.ObjectRef{ContentType: "host", ID: 1}
	class, err = r.JobClassForHop(host, "lnet_up", "lnet_down", true)
	if err != nil {
		t.Fatalf("JobClassForHop: %v", err)
	}
	if class.Name != "StopLNetJob" {
		t.Fatalf("expected StopLNetJob, got %q", class.Name)
	}
	if class.ConfirmationPrompt == nil {
		t.Fatalf("expected StopLNetJob to carry a confirmation prompt")
	}

	if _, err := r.JobClassForHop(target, "mounted", "unformatted", true); !errors.Is(err, registry.ErrUnreachableState) {
		t.Fatalf("expected ErrUnreachableState for an unregistered hop, got %v", err)
	}
}

func TestRegistryDependsForStateTargetMountedNeedsHostLNetUp(t *testing.T) {
	r := fixture()
	target := types.ObjectRef{ContentType: "target", ID: 7}

	deps, err := r.DependsForState(target, "mounted")
	if err != nil {
		t.Fatalf("DependsForState: %v", err)
	}
	if len(deps.Clauses) != 1 {
		t.Fatalf("expected 1 clause, got %d", len(deps.Clauses))
	}
	clause := deps.Clauses[0]
	if clause.Object != (types.ObjectRef{ContentType: "host", ID: 1}) {
		t.Fatalf("expected dependency on host/1, got %+v", clause.Object)
	}
	if !clause.Satisfied("lnet_up") {
		t.Fatalf("expected lnet_up to satisfy the clause")
	}
	if clause.Satisfied("lnet_down") {
		t.Fatalf("expected lnet_down to not satisfy the clause")
	}
	if clause.FixState == nil || clause.FixState.Resolve("lnet_down") != "unmounted" {
		t.Fatalf("expected fix_state unmounted when host is driven to lnet_down")
	}

	// Non-mounted states carry no dependency.
	deps, err = r.DependsForState(target, "unmounted")
	if err != nil {
		t.Fatalf("DependsForState: %v", err)
	}
	if len(deps.Clauses) != 0 {
		t.Fatalf("expected no clauses for unmounted, got %v", deps.Clauses)
	}
}

func TestRegistryDependsForStateFilesystemAvailableNeedsAllTargetsMounted(t *testing.T) {
	r := fixture()
	fs := types.ObjectRef{ContentType: "filesystem", ID: 20}

	deps, err := r.DependsForState(fs, "available")
	if err != nil {
		t.Fatalf("DependsForState: %v", err)
	}
	if len(deps.Clauses) != 2 {
		t.Fatalf("expected 2 clauses, got %d", len(deps.Clauses))
	}
	seen := map[int64]bool{}
	for _, c := range deps.Clauses {
		if c.Object.ContentType != "target" {
			t.Fatalf("expected target dependency, got %+v", c.Object)
		}
		seen[c.Object.ID] = true
		if c.FixState == nil || c.FixState.Resolve("unmounted") != "unavailable" {
			t.Fatalf("expected fix_state unavailable when target driven to unmounted")
		}
	}
	if !seen[7] || !seen[8] {
		t.Fatalf("expected clauses for both targets 7 and 8, got %v", deps.Clauses)
	}
}

func TestRegistryDependsForJobMkfsNeedsHostLNetUp(t *testing.T) {
	r := fixture()
	target := types.ObjectRef{ContentType: "target", ID: 7}

	job := types.Job{
		Object:          &target,
		StateTransition: &types.StateTransition{Class: "MkfsTargetJob", FromStates: []string{"unformatted"}, ToState: "formatted"},
	}
	deps, err := r.DependsForJob(job)
	if err != nil {
		t.Fatalf("DependsForJob: %v", err)
	}
	if len(deps.Clauses) != 1 || deps.Clauses[0].Object != (types.ObjectRef{ContentType: "host", ID: 1}) {
		t.Fatalf("expected a dependency on host/1, got %+v", deps.Clauses)
	}

	// A job with no state transition (e.g. a direct non-state-change job)
	// carries no registry-derived dependency.
	deps, err = r.DependsForJob(types.Job{Class: "SomeOtherJob"})
	if err != nil {
		t.Fatalf("DependsForJob: %v", err)
	}
	if len(deps.Clauses) != 0 {
		t.Fatalf("expected no clauses, got %v", deps.Clauses)
	}
}

func TestRegistryDependentObjects(t *testing.T) {
	r := fixture()

	host := types.ObjectRef{ContentType: "host", ID: 1}
	deps, err := r.DependentObjects(host)
	if err != nil {
		t.Fatalf("DependentObjects: %v", err)
	}
	want := []types.ObjectRef{{ContentType: "target", ID: 7}, {ContentType: "target", ID: 8}}
	if len(deps) != 2 || deps[0] != want[0] || deps[1] != want[1] {
		t.Fatalf("expected targets depending on host/1 in id order %v, got %v", want, deps)
	}

	target := types.ObjectRef{ContentType: "target", ID: 7}
	deps, err = r.DependentObjects(target)
	if err != nil {
		t.Fatalf("DependentObjects: %v", err)
	}
	if len(deps) != 1 || deps[0] != (types.ObjectRef{ContentType: "filesystem", ID: 20}) {
		t.Fatalf("expected filesystem/20 to depend on target/7, got %v", deps)
	}
}
