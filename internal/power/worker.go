// ============================================================================
// Power Monitor Worker (C7)
// ============================================================================
//
// Package: internal/power
// Purpose: one long-running worker per power control device, translating
// original_source/chroma-manager/.../monitor_daemon.py's PowerDeviceMonitor
// thread into a goroutine: drain one queued task, dispatch it to the
// manager, probe device availability, raise/clear an Unavailable alert, then
// sleep up to 10s interruptibly. Spec.md §4.7.
//
// The task queue and goroutine-lifecycle shape (buffered channel, stopCh,
// WaitGroup-joined by the owner) is adapted from the teacher's
// internal/worker/worker_pool.go Pool/Worker pair, generalized from "n
// interchangeable workers sharing one task channel" to "one dedicated
// worker per device, each with its own queue" — the device identity the
// python original keys everything on has no equivalent in a fungible pool.
// ============================================================================

package power

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// ErrDeviceNotFound is returned by Manager.Dispatch when the device a task
// targets no longer exists. Open question (spec.md §9): what should the
// worker do when its device disappears? Resolved as graceful deletion — the
// worker exits quietly and is not restarted, rather than treated as a crash.
var ErrDeviceNotFound = errors.New("power device not found")

// ProbeFunc checks whether a device is currently reachable and responsive.
type ProbeFunc func(ctx context.Context, addr types.Sockaddr) (available bool, err error)

// AlertSink raises or clears the PowerControlDeviceUnavailableAlert
// equivalent for a device.
type AlertSink interface {
	Raise(addr types.Sockaddr)
	Clear(addr types.Sockaddr)
}

// Manager dispatches a named task with arguments against a device, e.g.
// outlet query/toggle. Mirrors getattr(self._manager, task)(**kwargs) in
// the original.
type Manager interface {
	Dispatch(ctx context.Context, addr types.Sockaddr, task string, args map[string]any) error
}

type task struct {
	name string
	args map[string]any
}

// Worker owns one device's single-producer-single-consumer task queue and
// its monitor loop. Zero value is not usable; use newWorker.
type Worker struct {
	addr    types.Sockaddr
	manager Manager
	probe   ProbeFunc
	alerts  AlertSink
	log     *slog.Logger

	taskCh   chan task
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	poll     time.Duration

	mu      sync.Mutex
	removed bool
}

func newWorker(addr types.Sockaddr, manager Manager, probe ProbeFunc, alerts AlertSink, log *slog.Logger, poll time.Duration) *Worker {
	if poll <= 0 {
		poll = 10 * time.Second
	}
	return &Worker{
		addr:    addr,
		manager: manager,
		probe:   probe,
		alerts:  alerts,
		log:     log,
		taskCh:  make(chan task, 16),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		poll:    poll,
	}
}

// Enqueue submits a task for this device's worker. Fire-and-forget, per
// spec.md §4.7's contract: tasks run in the order enqueued per device.
func (w *Worker) Enqueue(name string, args map[string]any) {
	select {
	case w.taskCh <- task{name: name, args: args}:
	case <-w.stopCh:
	}
}

// Stop signals the worker to exit after its current iteration. Idempotent.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Done closes once the worker's run loop has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// alive reports whether the worker's loop is still running.
func (w *Worker) alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// wasRemoved reports whether the worker exited because its device stopped
// existing (graceful deletion), as opposed to a stop request or a crash the
// supervisor should restart from.
func (w *Worker) wasRemoved() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.removed
}

func (w *Worker) markRemoved() {
	w.mu.Lock()
	w.removed = true
	w.mu.Unlock()
}

// run is the worker's main loop. One iteration: non-blocking task dequeue,
// dispatch (or stop), probe availability, alert, then an interruptible 10s
// sleep. On an unexpected dispatch error it logs and exits so the
// supervisor restarts it; on ErrDeviceNotFound it exits without restart.
func (w *Worker) run() {
	defer close(w.done)
	w.log.Info("power monitor starting", "host", w.addr.Host, "port", w.addr.Port)

	for {
		select {
		case <-w.stopCh:
			w.log.Info("power monitor stopping", "host", w.addr.Host, "port", w.addr.Port)
			return
		case t := <-w.taskCh:
			if err := w.dispatch(t); err != nil {
				if errors.Is(err, ErrDeviceNotFound) {
					w.log.Info("power device no longer exists, removing monitor", "host", w.addr.Host, "port", w.addr.Port)
					w.markRemoved()
					return
				}
				w.log.Error("power task dispatch failed, monitor exiting for restart", "host", w.addr.Host, "port", w.addr.Port, "task", t.name, "err", err)
				return
			}
		default:
		}

		available, err := w.probe(context.Background(), w.addr)
		if err != nil {
			if errors.Is(err, ErrDeviceNotFound) {
				w.log.Info("power device no longer exists, removing monitor", "host", w.addr.Host, "port", w.addr.Port)
				w.markRemoved()
				return
			}
			available = false
		}
		if available {
			w.alerts.Clear(w.addr)
		} else {
			w.alerts.Raise(w.addr)
		}

		select {
		case <-w.stopCh:
			return
		case <-time.After(w.poll):
		}
	}
}

func (w *Worker) dispatch(t task) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return w.manager.Dispatch(ctx, w.addr, t.name, t.args)
}
