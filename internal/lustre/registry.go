// ============================================================================
// Lustre Object Model Registry
// ============================================================================
//
// Package: internal/lustre
// Purpose: the concrete internal/registry.Registry spec.md §1 treats as an
// external collaborator — a small, in-memory stand-in for the real
// ORM/REST model registry (ManagedHost, ManagedTarget, ManagedFilesystem
// in original_source/chroma-manager). Three content types: host (LNet
// up/down), target (format/register/mount lifecycle), filesystem
// (available/unavailable, derived from its targets).
//
// A production deployment would replace this with one backed by the real
// database; nothing outside this package would change, since
// internal/planner and internal/scheduler only depend on
// internal/registry.Registry.
// ============================================================================

package lustre

import (
	"fmt"
	"sort"
	"sync"

	"github.com/whamcloud/lustre-scheduler/internal/registry"
	"github.com/whamcloud/lustre-scheduler/internal/routeoracle"
	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

var hostStates = []string{"lnet_up", "lnet_down"}
var targetStates = []string{"unformatted", "formatted", "registered", "mounted", "unmounted"}
var filesystemStates = []string{"available", "unavailable"}

var hostAdjacent = map[string][]string{
	"lnet_up":   {"lnet_down"},
	"lnet_down": {"lnet_up"},
}

var targetAdjacent = map[string][]string{
	"unformatted": {"formatted"},
	"formatted":   {"registered"},
	"registered":  {"mounted"},
	"mounted":     {"unmounted"},
	"unmounted":   {"mounted"},
}

var filesystemAdjacent = map[string][]string{
	"available":   {"unavailable"},
	"unavailable": {"available"},
}

// Host is a managed storage server: its LNet networking is either up or
// down.
type Host struct {
	ID    int64
	State string
}

// Target is a managed Lustre target (MDT/OST), owned by one host.
type Target struct {
	ID     int64
	HostID int64
	State  string
}

// Filesystem is a managed Lustre filesystem: available once every one of
// its targets is mounted.
type Filesystem struct {
	ID        int64
	TargetIDs []int64
	State     string
}

// Registry is the in-memory object model. Zero value is not usable; use
// New.
type Registry struct {
	mu          sync.RWMutex
	hosts       map[int64]*Host
	targets     map[int64]*Target
	filesystems map[int64]*Filesystem

	route *routeoracle.Oracle
}

// New builds an empty Registry.
func New() *Registry {
	r := &Registry{
		hosts:       make(map[int64]*Host),
		targets:     make(map[int64]*Target),
		filesystems: make(map[int64]*Filesystem),
	}
	r.route = routeoracle.New(r)
	return r
}

// AddHost registers a host in the given state.
func (r *Registry) AddHost(id int64, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[id] = &Host{ID: id, State: state}
}

// AddTarget registers a target owned by hostID.
func (r *Registry) AddTarget(id, hostID int64, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[id] = &Target{ID: id, HostID: hostID, State: state}
}

// AddFilesystem registers a filesystem over the given targets.
func (r *Registry) AddFilesystem(id int64, targetIDs []int64, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filesystems[id] = &Filesystem{ID: id, TargetIDs: append([]int64(nil), targetIDs...), State: state}
}

// SetCurrentState updates an object's committed state. Called by the
// runner (external per spec.md §6) once a job completes; exposed here so
// this stand-in registry has somewhere to record that.
func (r *Registry) SetCurrentState(obj types.ObjectRef, state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch obj.ContentType {
	case "host":
		h, ok := r.hosts[obj.ID]
		if !ok {
			return registry.ErrUnknownObject
		}
		h.State = state
	case "target":
		t, ok := r.targets[obj.ID]
		if !ok {
			return registry.ErrUnknownObject
		}
		t.State = state
	case "filesystem":
		fs, ok := r.filesystems[obj.ID]
		if !ok {
			return registry.ErrUnknownObject
		}
		fs.State = state
	default:
		return registry.ErrUnknownObject
	}
	return nil
}

// States returns the finite state set for a content type.
func (r *Registry) States(contentType string) ([]string, error) {
	switch contentType {
	case "host":
		return hostStates, nil
	case "target":
		return targetStates, nil
	case "filesystem":
		return filesystemStates, nil
	default:
		return nil, fmt.Errorf("%w: content type %q", registry.ErrUnknownObject, contentType)
	}
}

// Adjacent returns the single-hop neighbors of state for a content type.
func (r *Registry) Adjacent(contentType, state string) ([]string, error) {
	switch contentType {
	case "host":
		return hostAdjacent[state], nil
	case "target":
		return targetAdjacent[state], nil
	case "filesystem":
		return filesystemAdjacent[state], nil
	default:
		return nil, fmt.Errorf("%w: content type %q", registry.ErrUnknownObject, contentType)
	}
}

// CurrentState returns the object's committed state.
func (r *Registry) CurrentState(obj types.ObjectRef) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch obj.ContentType {
	case "host":
		h, ok := r.hosts[obj.ID]
		if !ok {
			return "", registry.ErrUnknownObject
		}
		return h.State, nil
	case "target":
		t, ok := r.targets[obj.ID]
		if !ok {
			return "", registry.ErrUnknownObject
		}
		return t.State, nil
	case "filesystem":
		fs, ok := r.filesystems[obj.ID]
		if !ok {
			return "", registry.ErrUnknownObject
		}
		return fs.State, nil
	default:
		return "", registry.ErrUnknownObject
	}
}

// Route delegates to an internal route oracle over this same registry's
// adjacency. Kept here (rather than left unimplemented) because
// StatefulObject.route(from,to) is part of the data model spec.md §3
// describes directly on the object, even though internal/planner reaches
// the route oracle on its own rather than through this method.
func (r *Registry) Route(obj types.ObjectRef, from, to string) ([]string, error) {
	return r.route.Route(obj, from, to)
}

// JobClassForHop resolves the atomic job class for one registered hop.
func (r *Registry) JobClassForHop(obj types.ObjectRef, from, to string, last bool) (registry.JobClass, error) {
	switch obj.ContentType {
	case "host":
		switch {
		case from == "lnet_down" && to == "lnet_up":
			return registry.JobClass{
				Name:        "StartLNetJob",
				Description: func(args map[string]any) string { return fmt.Sprintf("Start LNet networking on host %v", args["id"]) },
			}, nil
		case from == "lnet_up" && to == "lnet_down":
			return registry.JobClass{
				Name:               "StopLNetJob",
				Description:        func(args map[string]any) string { return fmt.Sprintf("Stop LNet networking on host %v", args["id"]) },
				ConfirmationPrompt: func(args map[string]any) string { return "Stopping LNet will make all targets on this host unreachable. Continue?" },
			}, nil
		}
	case "target":
		switch {
		case from == "unformatted" && to == "formatted":
			return registry.JobClass{
				Name:        "MkfsTargetJob",
				Description: func(args map[string]any) string { return fmt.Sprintf("Format target %v", args["id"]) },
			}, nil
		case from == "formatted" && to == "registered":
			return registry.JobClass{
				Name:        "RegisterTargetJob",
				Description: func(args map[string]any) string { return fmt.Sprintf("Register target %v", args["id"]) },
			}, nil
		case (from == "registered" || from == "unmounted") && to == "mounted":
			return registry.JobClass{
				Name:        "MountTargetJob",
				Description: func(args map[string]any) string { return fmt.Sprintf("Mount target %v", args["id"]) },
			}, nil
		case from == "mounted" && to == "unmounted":
			return registry.JobClass{
				Name:               "UnmountTargetJob",
				Description:        func(args map[string]any) string { return fmt.Sprintf("Unmount target %v", args["id"]) },
				ConfirmationPrompt: func(args map[string]any) string { return "Unmounting this target may take filesystems offline. Continue?" },
			}, nil
		}
	case "filesystem":
		switch {
		case from == "unavailable" && to == "available":
			return registry.JobClass{
				Name:        "SetFilesystemAvailableJob",
				Description: func(args map[string]any) string { return fmt.Sprintf("Mark filesystem %v available", args["id"]) },
			}, nil
		case from == "available" && to == "unavailable":
			return registry.JobClass{
				Name:        "SetFilesystemUnavailableJob",
				Description: func(args map[string]any) string { return fmt.Sprintf("Mark filesystem %v unavailable", args["id"]) },
			}, nil
		}
	}
	return registry.JobClass{}, fmt.Errorf("%w: %s %s->%s", registry.ErrUnreachableState, obj.ContentType, from, to)
}

// DependsForState returns the DependAll that must hold for obj to sit in
// state: a mounted target needs its host's LNet up; an available
// filesystem needs every one of its targets mounted. Both clauses carry a
// fix_state for when the dependency direction reverses (spec.md §4.4's
// reverse-dependent case).
func (r *Registry) DependsForState(obj types.ObjectRef, state string) (types.DependAll, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch obj.ContentType {
	case "target":
		if state != "mounted" {
			return types.DependAll{}, nil
		}
		t, ok := r.targets[obj.ID]
		if !ok {
			return types.DependAll{}, registry.ErrUnknownObject
		}
		fix := types.Literal("unmounted")
		return types.DependAll{Clauses: []types.DependOn{{
			Object:           types.ObjectRef{ContentType: "host", ID: t.HostID},
			AcceptableStates: []string{"lnet_up"},
			PreferredState:   "lnet_up",
			FixState:         &fix,
		}}}, nil
	case "filesystem":
		if state != "available" {
			return types.DependAll{}, nil
		}
		fs, ok := r.filesystems[obj.ID]
		if !ok {
			return types.DependAll{}, registry.ErrUnknownObject
		}
		fix := types.Literal("unavailable")
		clauses := make([]types.DependOn, 0, len(fs.TargetIDs))
		for _, tid := range fs.TargetIDs {
			clauses = append(clauses, types.DependOn{
				Object:           types.ObjectRef{ContentType: "target", ID: tid},
				AcceptableStates: []string{"mounted"},
				PreferredState:   "mounted",
				FixState:         &fix,
			})
		}
		return types.DependAll{Clauses: clauses}, nil
	default:
		return types.DependAll{}, nil
	}
}

// DependsForJob returns job-level dependencies beyond the destination
// state's own requirements: formatting a target requires its host's LNet
// to already be up (you can't mkfs over a dead network).
func (r *Registry) DependsForJob(job types.Job) (types.DependAll, error) {
	if job.Object == nil || job.StateTransition == nil || job.Object.ContentType != "target" || job.StateTransition.Class != "MkfsTargetJob" {
		return types.DependAll{}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[job.Object.ID]
	if !ok {
		return types.DependAll{}, registry.ErrUnknownObject
	}
	return types.DependAll{Clauses: []types.DependOn{{
		Object:           types.ObjectRef{ContentType: "host", ID: t.HostID},
		AcceptableStates: []string{"lnet_up"},
		PreferredState:   "lnet_up",
	}}}, nil
}

// DependentObjects returns objects that may hold a reverse dependency on
// obj: a host's targets, or a target's filesystems. Sorted by id so that
// replanning the same request twice (spec.md §8 invariant 6) sees the same
// order feeding planner.driveReverseDependents — map iteration order is
// not deterministic, and linearize.go's sort.SliceStable only breaks ties
// by insertion order, so an unsorted result here would make the final job
// graph nondeterministic whenever an object has two or more reverse
// dependents at the same longest-path depth.
func (r *Registry) DependentObjects(obj types.ObjectRef) ([]types.ObjectRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch obj.ContentType {
	case "host":
		var out []types.ObjectRef
		for _, t := range r.targets {
			if t.HostID == obj.ID {
				out = append(out, types.ObjectRef{ContentType: "target", ID: t.ID})
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	case "target":
		var out []types.ObjectRef
		for _, fs := range r.filesystems {
			for _, tid := range fs.TargetIDs {
				if tid == obj.ID {
					out = append(out, types.ObjectRef{ContentType: "filesystem", ID: fs.ID})
					break
				}
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	default:
		return nil, nil
	}
}
