package planner

import (
	"sort"

	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// linearize topologically sorts deps by longest path to any leaf (spec.md
// §4.4 step 4). An Edge{From, To} means From depends on To — To must be
// scheduled first — so a leaf (no outgoing edges) needs nothing ahead of
// it and sorts first; a transition sitting atop a deep dependency chain
// sorts last. Ties (equal longest-path value) keep deps' original
// insertion order, since sort.SliceStable is used and deps is already in
// emission order — this is the "stable sort by insertion order" tie-break
// the spec calls for.
func linearize(deps []types.Transition, edges []types.Edge) []types.Transition {
	outgoing := make(map[types.Transition][]types.Transition, len(edges))
	for _, e := range edges {
		outgoing[e.From] = append(outgoing[e.From], e.To)
	}

	memo := make(map[types.Transition]int, len(deps))
	var longest func(t types.Transition, onStack map[types.Transition]bool) int
	longest = func(t types.Transition, onStack map[types.Transition]bool) int {
		if v, ok := memo[t]; ok {
			return v
		}
		if onStack[t] {
			// A well-formed plan is acyclic; this only guards against a
			// registry bug producing a dependency cycle instead of
			// panicking deep in recursion.
			return 0
		}
		onStack[t] = true
		best := 0
		for _, to := range outgoing[t] {
			if d := 1 + longest(to, onStack); d > best {
				best = d
			}
		}
		delete(onStack, t)
		memo[t] = best
		return best
	}

	type keyed struct {
		t   types.Transition
		key int
	}
	ks := make([]keyed, len(deps))
	for i, t := range deps {
		ks[i] = keyed{t: t, key: longest(t, map[types.Transition]bool{})}
	}
	sort.SliceStable(ks, func(i, j int) bool { return ks[i].key < ks[j].key })

	out := make([]types.Transition, len(ks))
	for i, k := range ks {
		out[i] = k.t
	}
	return out
}
