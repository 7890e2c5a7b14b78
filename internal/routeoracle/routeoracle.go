// ============================================================================
// Route Oracle (C2)
// ============================================================================
//
// Package: internal/routeoracle
// Purpose: find the ordered sequence of adjacent states connecting an
// object's current state to a requested target state, per spec.md §4.2.
//
// The registry only knows adjacency (which single hops are legal for a
// content type); the oracle does the graph search over that adjacency to
// produce a concrete route. Traversal order must be deterministic so the
// same (object,state) pair always yields the same route — this mirrors the
// explicit-queue BFS style used for deterministic graph traversal elsewhere
// in the retrieval pack (script-weaver's downstreamReachable) rather than
// ranging over a map, which Go randomizes.
// ============================================================================

package routeoracle

import (
	"fmt"

	"github.com/whamcloud/lustre-scheduler/internal/registry"
	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// Oracle computes routes between states of one object's content type.
type Oracle struct {
	reg registry.Registry
}

// New builds an Oracle backed by reg.
func New(reg registry.Registry) *Oracle {
	return &Oracle{reg: reg}
}

// Route returns the ordered list of states from and to inclusive. When
// from == to, Route returns a single-element slice ([from]) and the caller
// is responsible for recognizing that as "no transition needed."
func (o *Oracle) Route(obj types.ObjectRef, from, to string) ([]string, error) {
	if from == to {
		return []string{from}, nil
	}

	states, err := o.reg.States(obj.ContentType)
	if err != nil {
		return nil, err
	}
	valid := make(map[string]bool, len(states))
	for _, s := range states {
		valid[s] = true
	}
	if !valid[from] {
		return nil, fmt.Errorf("%w: %q not a state of %s", registry.ErrInvalidState, from, obj.ContentType)
	}
	if !valid[to] {
		return nil, fmt.Errorf("%w: %q not a state of %s", registry.ErrInvalidState, to, obj.ContentType)
	}

	// Breadth-first search over the adjacency graph, visiting neighbors in
	// the order the registry returns them so the result is reproducible.
	// visited also records each node's parent so the winning path can be
	// reconstructed once `to` is reached; from's parent is itself, which
	// doubles as the loop's stop condition during reconstruction.
	parent := map[string]string{from: from}
	queue := []string{from}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return reconstruct(parent, from, to), nil
		}

		neighbors, err := o.reg.Adjacent(obj.ContentType, cur)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if _, seen := parent[n]; seen {
				continue
			}
			parent[n] = cur
			queue = append(queue, n)
		}
	}

	return nil, fmt.Errorf("%w: no route from %q to %q for %s", registry.ErrUnreachableState, from, to, obj.ContentType)
}

func reconstruct(parent map[string]string, from, to string) []string {
	var rev []string
	for cur := to; ; {
		rev = append(rev, cur)
		if cur == from {
			break
		}
		cur = parent[cur]
	}
	out := make([]string, len(rev))
	for i, s := range rev {
		out[len(rev)-1-i] = s
	}
	return out
}
