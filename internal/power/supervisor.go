// ============================================================================
// Power Monitor Supervisor (C7)
// ============================================================================
//
// Package: internal/power
// Purpose: spec.md §4.7's supervisor loop, every 10s: start a worker for
// every configured device lacking one (or whose worker died), and reap
// workers whose device has been unconfigured. Translates
// original_source/.../monitor_daemon.py's PowerMonitorDaemon.run() into a
// ticker-driven goroutine, in the idiom of the teacher's
// internal/controller/controller.go reconciliation/supervision loop.
// ============================================================================

package power

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// DeviceLister returns the currently configured set of power devices to
// monitor. Called once per reconciliation pass.
type DeviceLister func() []types.Sockaddr

// Supervisor owns the set of live per-device Workers. Zero value is not
// usable; use NewSupervisor.
type Supervisor struct {
	devices  DeviceLister
	manager  Manager
	probe    ProbeFunc
	alerts   AlertSink
	log      *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	workers map[types.Sockaddr]*Worker
	wg      sync.WaitGroup
}

// NewSupervisor builds a Supervisor. probe and alerts are shared by every
// worker it starts. interval governs both the reconciliation period and is
// passed through as the per-worker poll sleep; zero defaults to 10s, the
// original's own hardcoded timeout.
func NewSupervisor(devices DeviceLister, manager Manager, probe ProbeFunc, alerts AlertSink, log *slog.Logger, interval time.Duration) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Supervisor{
		devices:  devices,
		manager:  manager,
		probe:    probe,
		alerts:   alerts,
		log:      log,
		interval: interval,
		workers:  make(map[types.Sockaddr]*Worker),
	}
}

// Run reconciles immediately, then every interval, until ctx is cancelled,
// at which point every live worker is stopped and joined before returning.
func (s *Supervisor) Run(ctx context.Context) {
	s.reconcile()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case <-ticker.C:
			s.reconcile()
		}
	}
}

// Enqueue is fire-and-forget dispatch of a task to the worker monitoring
// addr, if one is currently running. Matches spec.md §4.7's
// enqueue(sockaddr, task_name, kwargs) contract; silently a no-op if no
// worker is running for addr (e.g. the device was just deconfigured).
func (s *Supervisor) Enqueue(addr types.Sockaddr, taskName string, args map[string]any) {
	s.mu.Lock()
	w := s.workers[addr]
	s.mu.Unlock()
	if w != nil {
		w.Enqueue(taskName, args)
	}
}

func (s *Supervisor) reconcile() {
	s.mu.Lock()
	defer s.mu.Unlock()

	configured := make(map[types.Sockaddr]bool)
	for _, addr := range s.devices() {
		configured[addr] = true

		w, ok := s.workers[addr]
		if ok && w.alive() {
			continue
		}
		if ok && w.wasRemoved() {
			// The worker itself discovered the device is gone; don't
			// resurrect it even though the lister hasn't caught up yet.
			// The sweep below deletes the stale entry.
			continue
		}
		if ok {
			s.log.Warn("power monitor died, restarting", "host", addr.Host, "port", addr.Port)
		} else {
			s.log.Info("found new power device", "host", addr.Host, "port", addr.Port)
		}
		s.startLocked(addr)
	}

	for addr, w := range s.workers {
		if configured[addr] && w.alive() {
			continue
		}
		if !configured[addr] {
			s.log.Info("reaping monitor for unconfigured power device", "host", addr.Host, "port", addr.Port)
			w.Stop()
			<-w.Done()
		}
		delete(s.workers, addr)
	}
}

func (s *Supervisor) startLocked(addr types.Sockaddr) {
	w := newWorker(addr, s.manager, s.probe, s.alerts, s.log, s.interval)
	s.workers[addr] = w
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		w.run()
	}()
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	for _, w := range s.workers {
		w.Stop()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
