// ============================================================================
// Store Write-Ahead Log
// ============================================================================
//
// Package: internal/store
// File: wal.go
// Purpose: durability for Command/Job commits and job lifecycle transitions.
//
// Adapted from internal/storage/wal/wal.go: same batch-commit channel, CRC32
// checksum per record, and rename-based rotation. The event vocabulary is
// generalized from the teacher's job-queue lifecycle (ENQUEUE/DISPATCH/ACK/
// RETRY/TIMEOUT/DEAD) to this scheduler's own: a job or command is persisted
// whole exactly once (planning is atomic — §4.5 step 4), and afterwards only
// its lifecycle State field changes, driven by the runner (external) as it
// executes and completes work.
// ============================================================================

package store

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// EventType discriminates WAL record kinds.
type EventType string

const (
	EventCommandPersisted EventType = "COMMAND_PERSISTED"
	EventJobPersisted     EventType = "JOB_PERSISTED"
	EventJobStateChanged  EventType = "JOB_STATE_CHANGED"
)

// Event is one WAL record.
type Event struct {
	Seq       uint64                  `json:"seq"`
	Type      EventType               `json:"type"`
	Timestamp int64                   `json:"timestamp"`
	Checksum  uint32                  `json:"checksum"`
	Command   *types.Command          `json:"command,omitempty"`
	Job       *types.Job              `json:"job,omitempty"`
	JobID     types.JobID             `json:"job_id,omitempty"`
	NewState  types.JobLifecycleState `json:"new_state,omitempty"`
}

func checksumOf(e Event) uint32 {
	data := fmt.Sprintf("%s|%d|%d|%s", e.Type, e.Seq, e.JobID, e.NewState)
	return crc32.ChecksumIEEE([]byte(data))
}

var errChecksumMismatch = fmt.Errorf("store: wal checksum mismatch")

type batchRequest struct {
	event Event
	errCh chan error
}

// wal is a batch-committing, checksummed append log, following the
// teacher's WAL shape: a channel of pending appends drained by a single
// background goroutine so N concurrent Append calls cost one fsync.
type wal struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	path string
	seq  uint64

	batchChan     chan batchRequest
	bufferSize    int
	flushInterval time.Duration
	closed        chan struct{}
	wg            sync.WaitGroup
	isClosed      bool
}

func openWAL(path string, bufferSize int, flushInterval time.Duration) (*wal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("store: create wal directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: open wal: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Millisecond
	}

	w := &wal{
		file:          file,
		enc:           json.NewEncoder(file),
		path:          path,
		batchChan:     make(chan batchRequest, bufferSize*2),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		closed:        make(chan struct{}),
	}

	if err := w.Replay(func(e *Event) error {
		w.seq = e.Seq
		return nil
	}); err != nil {
		file.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.batchWriter()
	return w, nil
}

func (w *wal) append(e Event) error {
	w.mu.Lock()
	w.seq++
	e.Seq = w.seq
	w.mu.Unlock()

	e.Timestamp = time.Now().UnixMilli()
	e.Checksum = checksumOf(e)

	errCh := make(chan error, 1)
	select {
	case w.batchChan <- batchRequest{event: e, errCh: errCh}:
		return <-errCh
	case <-w.closed:
		return fmt.Errorf("store: wal is closed")
	}
}

func (w *wal) AppendCommand(cmd *types.Command) error {
	return w.append(Event{Type: EventCommandPersisted, Command: cmd})
}

func (w *wal) AppendJob(job *types.Job) error {
	return w.append(Event{Type: EventJobPersisted, Job: job, JobID: job.ID})
}

func (w *wal) AppendStateChange(id types.JobID, state types.JobLifecycleState) error {
	return w.append(Event{Type: EventJobStateChanged, JobID: id, NewState: state})
}

// Replay decodes every record from the start of the file, verifying
// checksums, and calls handler for each in order.
func (w *wal) Replay(handler func(e *Event) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("store: open wal for replay: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	for {
		var e Event
		if err := dec.Decode(&e); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("store: decode wal record: %w", err)
		}
		if e.Checksum != checksumOf(e) {
			return errChecksumMismatch
		}
		if err := handler(&e); err != nil {
			return err
		}
	}
	return nil
}

// Rotate truncates the WAL, renaming the old file aside. Called after a
// snapshot has durably captured everything the WAL recorded so far.
func (w *wal) Rotate() error {
	w.mu.Lock()
	if w.isClosed {
		w.mu.Unlock()
		return fmt.Errorf("store: wal is closed")
	}
	w.isClosed = true
	w.mu.Unlock()

	close(w.closed)
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Close(); err != nil {
		return err
	}
	backup := fmt.Sprintf("%s.%s", w.path, time.Now().Format("20060102_150405"))
	if err := os.Rename(w.path, backup); err != nil {
		return err
	}
	newFile, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	w.file = newFile
	w.enc = json.NewEncoder(newFile)
	w.seq = 0

	w.closed = make(chan struct{})
	w.wg.Add(1)
	go w.batchWriter()
	w.isClosed = false
	return nil
}

func (w *wal) Close() error {
	w.mu.Lock()
	if w.isClosed {
		w.mu.Unlock()
		return nil
	}
	w.isClosed = true
	w.mu.Unlock()

	close(w.closed)
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func (w *wal) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

func (w *wal) batchWriter() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]batchRequest, 0, w.bufferSize)
	for {
		select {
		case req := <-w.batchChan:
			batch = append(batch, req)
			if len(batch) >= w.bufferSize {
				w.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(batch)
				batch = batch[:0]
			}
		case <-w.closed:
			if len(batch) > 0 {
				w.flushBatch(batch)
			}
			return
		}
	}
}

func (w *wal) flushBatch(batch []batchRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var flushErr error
	for i := range batch {
		if err := w.enc.Encode(batch[i].event); err != nil {
			flushErr = fmt.Errorf("store: encode wal record: %w", err)
			break
		}
	}
	if flushErr == nil {
		if err := w.file.Sync(); err != nil {
			flushErr = fmt.Errorf("store: sync wal: %w", err)
		}
	}
	for i := range batch {
		batch[i].errCh <- flushErr
		close(batch[i].errCh)
	}
}
