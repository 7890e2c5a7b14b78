package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

var errAbortForTest = errors.New("aborted for test")

func openTestStore(t *testing.T) (*Store, []*types.Job) {
	t.Helper()
	dir := t.TempDir()
	s, pending, err := Open(Options{
		WALPath:      filepath.Join(dir, "store.wal"),
		SnapshotPath: filepath.Join(dir, "store.snapshot.json"),
	})
	require.NoError(t, err, "Open")
	t.Cleanup(func() { s.Close() })
	return s, pending
}

func TestOpenFreshStoreHasNoPendingJobs(t *testing.T) {
	_, pending := openTestStore(t)
	assert.Empty(t, pending, "fresh store should have no pending jobs")
}

func TestWithTxCommitsJobAndCommand(t *testing.T) {
	s, _ := openTestStore(t)

	var jobID types.JobID
	err := s.WithTx(func(tx *Tx) error {
		cmdID := tx.NextCommandID()
		jobID = tx.NextJobID()
		job := &types.Job{ID: jobID, Command: cmdID, Class: "MountTargetJob", State: types.JobPending}
		tx.PutJob(job)
		tx.PutCommand(&types.Command{ID: cmdID, Message: "mount target/7", JobIDs: []types.JobID{jobID}})
		return nil
	})
	require.NoError(t, err, "WithTx")

	got, ok := s.GetJob(jobID)
	require.True(t, ok, "expected committed job")
	assert.Equal(t, "MountTargetJob", got.Class)
}

func TestWithTxAbortsOnError(t *testing.T) {
	s, _ := openTestStore(t)

	err := s.WithTx(func(tx *Tx) error {
		jobID := tx.NextJobID()
		tx.PutJob(&types.Job{ID: jobID, State: types.JobPending})
		return errAbortForTest
	})
	assert.ErrorIs(t, err, errAbortForTest)

	_, ok := s.GetJob(1)
	assert.False(t, ok, "expected no job committed after aborted transaction")
}

func TestUpdateJobStateAndStats(t *testing.T) {
	s, _ := openTestStore(t)

	var jobID types.JobID
	s.WithTx(func(tx *Tx) error {
		jobID = tx.NextJobID()
		tx.PutJob(&types.Job{ID: jobID, State: types.JobPending})
		return nil
	})

	require.NoError(t, s.UpdateJobState(jobID, types.JobComplete))

	stats := s.Stats()
	assert.Equal(t, 1, stats[types.JobComplete])
}

func TestRestartReplaysWAL(t *testing.T) {
	dir := t.TempDir()
	opts := Options{WALPath: filepath.Join(dir, "store.wal"), SnapshotPath: filepath.Join(dir, "store.snapshot.json")}

	s1, _, err := Open(opts)
	require.NoError(t, err, "Open")

	var jobID types.JobID
	s1.WithTx(func(tx *Tx) error {
		jobID = tx.NextJobID()
		tx.PutJob(&types.Job{ID: jobID, State: types.JobPending})
		return nil
	})
	s1.Close()

	s2, pending, err := Open(opts)
	require.NoError(t, err, "reopen")
	defer s2.Close()

	require.Len(t, pending, 1)
	assert.Equal(t, jobID, pending[0].ID, "expected job to be pending after restart")
}
