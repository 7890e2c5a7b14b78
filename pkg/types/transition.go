package types

// Transition is one atomic hop of a stateful object from OldState to
// NewState. Equality and hash are structural over the triple: since every
// field is a comparable value, a Transition can be used directly as a map
// key (Go gives us the "structural equality/hash" spec.md §3 asks for, for
// free, as long as we don't add any non-comparable field here).
type Transition struct {
	Object   ObjectRef
	OldState string
	NewState string
}

// Edge records that From depends on To: To must be ordered before From in
// the final plan.
type Edge struct {
	From Transition
	To   Transition
}

// ToJobArgs returns the job-creation arguments implied by this transition.
// The class name itself is resolved by the registry (object_class, from,
// to) -> job_class, since that mapping is a property of the object's
// class, not of the transition value.
func (t Transition) ToJobArgs() map[string]any {
	return map[string]any{
		"content_type": t.Object.ContentType,
		"id":           t.Object.ID,
		"old_state":    t.OldState,
		"new_state":    t.NewState,
	}
}
