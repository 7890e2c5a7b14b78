package types

// FixStateKind discriminates the two shapes a reverse dependent's fix_state
// can take: a literal state, or a function of the new state being driven to.
type FixStateKind int

const (
	FixStateLiteral FixStateKind = iota
	FixStateFunc
)

// FixState is the tagged union described in the redesign notes: "a fix_state
// is either a state literal or a function new_state -> state." Build one
// with Literal() or FuncOf().
type FixState struct {
	Kind    FixStateKind
	Literal string
	Func    func(newState string) string
}

// Literal builds a fix_state that is always the same target state.
func Literal(state string) FixState {
	return FixState{Kind: FixStateLiteral, Literal: state}
}

// FuncOf builds a fix_state computed from the state the broken requirement
// is being driven to.
func FuncOf(f func(newState string) string) FixState {
	return FixState{Kind: FixStateFunc, Func: f}
}

// Resolve evaluates the fix_state against the new state of the object whose
// change broke the dependent's requirement.
func (f FixState) Resolve(newState string) string {
	if f.Kind == FixStateFunc {
		return f.Func(newState)
	}
	return f.Literal
}

// DependOn is a predicate requiring Object to be in one of AcceptableStates.
// PreferredState is what the planner drives Object to when the predicate is
// unmet. FixState is only used in the reverse direction: when Object is
// being driven out of AcceptableStates, the object whose DependAll holds
// this clause (the dependent) is driven to FixState.
type DependOn struct {
	Object           ObjectRef
	AcceptableStates []string
	PreferredState   string
	FixState         *FixState
}

// Satisfied reports whether state meets this clause's requirement.
func (d DependOn) Satisfied(state string) bool {
	for _, s := range d.AcceptableStates {
		if s == state {
			return true
		}
	}
	return false
}

// DependAll is a conjunction of DependOn clauses.
type DependAll struct {
	Clauses []DependOn
}

// Unsatisfied returns the clauses not met by the given expected-state
// lookup function, preserving clause order.
func (d DependAll) Unsatisfied(expected func(ObjectRef) string) []DependOn {
	var out []DependOn
	for _, c := range d.Clauses {
		if !c.Satisfied(expected(c.Object)) {
			out = append(out, c)
		}
	}
	return out
}
