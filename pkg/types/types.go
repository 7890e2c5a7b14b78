// ============================================================================
// Lustre Scheduler Core Type Definitions
// ============================================================================
//
// Package: pkg/types
// Purpose: Core domain models shared across the job scheduler
//
// These types are pure data: no package here talks to a store, a registry,
// or the network. Everything that needs to resolve a content type to
// behavior goes through internal/registry.Registry instead of methods on
// these structs, per the "explicit discriminator + registry" redesign.
//
// Timestamps are Unix milliseconds, matching the rest of the codebase.
// ============================================================================

package types

import "time"

// ObjectRef identifies a stateful object by its content type and primary key.
type ObjectRef struct {
	ContentType string `json:"content_type"`
	ID          int64  `json:"id"`
}

// ObjectState pairs an object with a state it is (or is expected to be) in.
type ObjectState struct {
	Object ObjectRef `json:"object"`
	State  string    `json:"state"`
}

// JobID uniquely identifies a persisted job. IDs are assigned by the store
// and must be monotonically increasing in insertion order: the ordering
// rules in internal/lockcache and internal/scheduler depend on it.
type JobID int64

// CommandID uniquely identifies a Command.
type CommandID int64

// JobLifecycleState is the persisted lifecycle state of a Job.
type JobLifecycleState string

const (
	JobPending   JobLifecycleState = "pending"
	JobTasked    JobLifecycleState = "tasked"
	JobComplete  JobLifecycleState = "complete"
	JobErrored   JobLifecycleState = "errored"
	JobCancelled JobLifecycleState = "cancelled"
)

// IsTerminal reports whether a job will never be dispatched again.
func (s JobLifecycleState) IsTerminal() bool {
	switch s {
	case JobComplete, JobErrored, JobCancelled:
		return true
	default:
		return false
	}
}

// StateTransition is the payload carried by a StateChangeJob: the one-hop
// move a job promises to make, plus the class of job that performs it.
type StateTransition struct {
	Class      string   `json:"class"`
	FromStates []string `json:"from_states"`
	ToState    string   `json:"to_state"`
}

// Job is the persistent record of planned work. Fields other than State are
// immutable once the job is persisted.
//
// StateTransition and Object are non-nil only for state-change jobs; this
// is the tagged-variant representation of StateChangeJob called for by the
// redesign notes (a discriminator field rather than a subclass).
type Job struct {
	ID      JobID          `json:"id"`
	Command CommandID      `json:"command_id"`
	Class   string         `json:"class"`
	Args    map[string]any `json:"args"`

	State JobLifecycleState `json:"state"`

	LocksJSON   []StateLock `json:"locks"`
	WaitForJSON []JobID     `json:"wait_for"`

	StateTransition *StateTransition `json:"state_transition,omitempty"`
	Object          *ObjectRef       `json:"object,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// IsStateChange reports whether this job is a StateChangeJob.
func (j Job) IsStateChange() bool {
	return j.StateTransition != nil && j.Object != nil
}

// StateLock is a read or write lock a job holds against an object.
//
// Invariant (spec §3): for any locked item, the sequence of write locks
// ordered by job id is state-consistent: each write's BeginState equals the
// previous write's EndState.
type StateLock struct {
	JobID      JobID     `json:"job_id"`
	LockedItem ObjectRef `json:"locked_item"`
	Write      bool      `json:"write"`
	BeginState *string   `json:"begin_state,omitempty"`
	EndState   *string   `json:"end_state,omitempty"`
}

// Command groups the jobs created by a single user request.
type Command struct {
	ID        CommandID `json:"id"`
	Message   string    `json:"message"`
	CreatedAt int64     `json:"created_at"`
	JobIDs    []JobID   `json:"job_ids"`
}

// Sockaddr is the (host, port) identity of a power control device.
type Sockaddr struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SnapshotData is the persisted state needed to resume the scheduler after
// a restart: every job (locks included) and command, the id counters, and
// the WAL offset the snapshot covers.
type SnapshotData struct {
	Jobs      map[JobID]*Job          `json:"jobs"`
	Commands  map[CommandID]*Command  `json:"commands"`
	NextJobID int64                   `json:"next_job_id"`
	NextCmdID int64                   `json:"next_command_id"`
	SchemaVer int                     `json:"schema_ver"`
	LastSeq   uint64                  `json:"last_seq"`
}

// NowMillis is the single place the rest of the codebase gets wall-clock
// time from, so tests can avoid depending on real time where it matters.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
