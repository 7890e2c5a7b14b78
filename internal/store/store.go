// ============================================================================
// Store
// ============================================================================
//
// Package: internal/store
// Purpose: the persistence layer behind spec.md §6's abstract schema
// (Command has many Jobs; Job carries locks_json/wait_for_json). Combines
// the WAL and snapshot mechanisms above with an in-memory job/command index
// so reads never touch disk.
//
// The in-memory index shape — maps guarded by one mutex, no package-level
// singleton — is adapted from internal/jobmanager/job_manager.go's
// JobManager (map[JobID]*Job + Restore/Snapshot), generalized from a
// dispatch queue (pending/in-flight/completed/dead) to this scheduler's
// lifecycle (pending/tasked/complete/errored/cancelled) and extended with a
// Commands index since this scheduler groups jobs under commands.
//
// WithTx realizes spec.md §4.5 step 4's "entire step 3 must be atomic;
// partial persistence is forbidden": nothing is written to the WAL or
// applied to the in-memory maps until the callback returns without error,
// and the whole call executes under one mutex acquisition — the same
// process-wide serializing discipline spec.md §5 requires of
// set_state/add_jobs/command_run_jobs.
// ============================================================================

package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// Store is the process-wide persistence layer. Zero value is not usable;
// use Open.
type Store struct {
	mu sync.Mutex

	wal  *wal
	snap *snapshotManager

	jobs      map[types.JobID]*types.Job
	commands  map[types.CommandID]*types.Command
	nextJobID int64
	nextCmdID int64
}

// Options configures Open.
type Options struct {
	WALPath        string
	SnapshotPath   string
	WALBufferSize  int
	WALFlushPeriod time.Duration
}

// Open loads the latest snapshot, replays any WAL records written after it,
// and returns a ready Store plus the set of jobs that were not yet
// complete when the process last stopped — the caller seeds a
// lockcache.Cache from these and hands it to internal/scheduler, per
// spec.md §6's restart-recovery contract.
func Open(opts Options) (*Store, []*types.Job, error) {
	snap := newSnapshotManager(opts.SnapshotPath)
	data, err := snap.Load()
	if err != nil {
		return nil, nil, err
	}

	s := &Store{
		snap:      snap,
		jobs:      data.Jobs,
		commands:  data.Commands,
		nextJobID: data.NextJobID,
		nextCmdID: data.NextCmdID,
	}

	w, err := openWAL(opts.WALPath, opts.WALBufferSize, opts.WALFlushPeriod)
	if err != nil {
		return nil, nil, err
	}
	s.wal = w

	if err := w.Replay(func(e *Event) error {
		if e.Seq <= data.LastSeq {
			return nil
		}
		return s.apply(e)
	}); err != nil {
		w.Close()
		return nil, nil, err
	}

	return s, s.nonCompleteLocked(), nil
}

func (s *Store) apply(e *Event) error {
	switch e.Type {
	case EventCommandPersisted:
		s.commands[e.Command.ID] = e.Command
		if int64(e.Command.ID) > s.nextCmdID {
			s.nextCmdID = int64(e.Command.ID)
		}
	case EventJobPersisted:
		s.jobs[e.Job.ID] = e.Job
		if int64(e.Job.ID) > s.nextJobID {
			s.nextJobID = int64(e.Job.ID)
		}
	case EventJobStateChanged:
		j, ok := s.jobs[e.JobID]
		if !ok {
			return fmt.Errorf("store: state change for unknown job %d", e.JobID)
		}
		j.State = e.NewState
		j.UpdatedAt = e.Timestamp
	default:
		return fmt.Errorf("store: unknown wal record type %q", e.Type)
	}
	return nil
}

func (s *Store) nonCompleteLocked() []*types.Job {
	var out []*types.Job
	for _, j := range s.jobs {
		if !j.State.IsTerminal() {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close flushes and closes the underlying WAL.
func (s *Store) Close() error {
	return s.wal.Close()
}

// Tx accumulates the writes of one planning pass; nothing is visible to
// readers or durable until WithTx's callback returns successfully.
type Tx struct {
	store    *Store
	jobs     []*types.Job
	command  *types.Command
	jobIDs   []types.JobID
	cmdIDSet bool
}

// WithTx runs fn under the store's single serializing mutex and commits
// its writes atomically if fn returns nil.
func (s *Store) WithTx(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// NextJobID allocates the next monotonically increasing job id. IDs are
// burned (not reused) if the surrounding WithTx call later fails, which is
// fine: spec.md only requires monotonic, not contiguous, ids.
func (tx *Tx) NextJobID() types.JobID {
	tx.store.nextJobID++
	return types.JobID(tx.store.nextJobID)
}

// NextCommandID allocates the next command id.
func (tx *Tx) NextCommandID() types.CommandID {
	tx.store.nextCmdID++
	return types.CommandID(tx.store.nextCmdID)
}

// PutJob stages job for persistence at commit.
func (tx *Tx) PutJob(job *types.Job) {
	tx.jobs = append(tx.jobs, job)
	tx.jobIDs = append(tx.jobIDs, job.ID)
}

// PutCommand stages the command for persistence at commit. At most one
// command is persisted per transaction.
func (tx *Tx) PutCommand(cmd *types.Command) {
	tx.command = cmd
	tx.cmdIDSet = true
}

// GetJob reads a job already committed to the store (not jobs staged in
// this transaction), for dependency/state lookups during planning.
func (tx *Tx) GetJob(id types.JobID) (*types.Job, bool) {
	j, ok := tx.store.jobs[id]
	return j, ok
}

func (tx *Tx) commit() error {
	for _, j := range tx.jobs {
		if err := tx.store.wal.AppendJob(j); err != nil {
			return err
		}
	}
	if tx.cmdIDSet {
		if err := tx.store.wal.AppendCommand(tx.command); err != nil {
			return err
		}
	}
	for _, j := range tx.jobs {
		tx.store.jobs[j.ID] = j
	}
	if tx.cmdIDSet {
		tx.store.commands[tx.command.ID] = tx.command
	}
	return nil
}

// UpdateJobState is called by the runner (external, per spec.md §6) as it
// executes a job and observes it finish. It is the one store write path
// that happens outside a planning Tx, but still runs under the store's
// serializing mutex and is itself durable (append-then-apply) before
// returning.
func (s *Store) UpdateJobState(id types.JobID, state types.JobLifecycleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("store: unknown job %d", id)
	}
	if err := s.wal.AppendStateChange(id, state); err != nil {
		return err
	}
	s.jobs[id].State = state
	s.jobs[id].UpdatedAt = types.NowMillis()
	return nil
}

// GetJob returns a committed job by id.
func (s *Store) GetJob(id types.JobID) (*types.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// GetCommand returns a committed command by id.
func (s *Store) GetCommand(id types.CommandID) (*types.Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commands[id]
	return c, ok
}

// Snapshot captures the current in-memory state to disk and rotates the
// WAL, so a future restart only replays records written after this point.
func (s *Store) Snapshot() error {
	s.mu.Lock()
	data := types.SnapshotData{
		Jobs:      make(map[types.JobID]*types.Job, len(s.jobs)),
		Commands:  make(map[types.CommandID]*types.Command, len(s.commands)),
		NextJobID: s.nextJobID,
		NextCmdID: s.nextCmdID,
		LastSeq:   s.wal.LastSeq(),
	}
	for id, j := range s.jobs {
		data.Jobs[id] = j
	}
	for id, c := range s.commands {
		data.Commands[id] = c
	}
	s.mu.Unlock()

	if err := s.snap.Write(data); err != nil {
		return err
	}
	return s.wal.Rotate()
}

// Stats reports job counts by lifecycle state, for the status CLI command.
func (s *Store) Stats() map[types.JobLifecycleState]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[types.JobLifecycleState]int{}
	for _, j := range s.jobs {
		out[j.State]++
	}
	return out
}
