package power

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

type fakeManager struct {
	mu       sync.Mutex
	calls    []string
	notFound map[types.Sockaddr]bool
}

func (m *fakeManager) Dispatch(ctx context.Context, addr types.Sockaddr, task string, args map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, task)
	if m.notFound[addr] {
		return ErrDeviceNotFound
	}
	return nil
}

type fakeAlerts struct {
	mu      sync.Mutex
	raised  map[types.Sockaddr]bool
	cleared map[types.Sockaddr]int
}

func newFakeAlerts() *fakeAlerts {
	return &fakeAlerts{raised: map[types.Sockaddr]bool{}, cleared: map[types.Sockaddr]int{}}
}

func (a *fakeAlerts) Raise(addr types.Sockaddr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.raised[addr] = true
}

func (a *fakeAlerts) Clear(addr types.Sockaddr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.raised, addr)
	a.cleared[addr]++
}

func (a *fakeAlerts) isRaised(addr types.Sockaddr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.raised[addr]
}

func alwaysAvailable(ctx context.Context, addr types.Sockaddr) (bool, error) { return true, nil }
func alwaysUnavailable(ctx context.Context, addr types.Sockaddr) (bool, error) {
	return false, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestSupervisorStartsWorkerForConfiguredDevice(t *testing.T) {
	addr := types.Sockaddr{Host: "pdu1", Port: 1234}
	mgr := &fakeManager{notFound: map[types.Sockaddr]bool{}}
	alerts := newFakeAlerts()

	sup := NewSupervisor(func() []types.Sockaddr { return []types.Sockaddr{addr} }, mgr, alwaysUnavailable, alerts, testLogger(), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { sup.Run(ctx); close(done) }()

	waitUntil(t, func() bool { return alerts.isRaised(addr) })

	cancel()
	<-done
}

func TestSupervisorReapsUnconfiguredDevice(t *testing.T) {
	addr := types.Sockaddr{Host: "pdu1", Port: 1234}
	mgr := &fakeManager{notFound: map[types.Sockaddr]bool{}}
	alerts := newFakeAlerts()

	var mu sync.Mutex
	devs := []types.Sockaddr{addr}
	lister := func() []types.Sockaddr {
		mu.Lock()
		defer mu.Unlock()
		return append([]types.Sockaddr(nil), devs...)
	}

	sup := NewSupervisor(lister, mgr, alwaysAvailable, alerts, testLogger(), 20*time.Millisecond)
	sup.reconcile()

	sup.mu.Lock()
	_, ok := sup.workers[addr]
	sup.mu.Unlock()
	require.True(t, ok, "expected worker started for configured device")

	mu.Lock()
	devs = nil
	mu.Unlock()

	sup.reconcile()

	sup.mu.Lock()
	_, stillThere := sup.workers[addr]
	sup.mu.Unlock()
	assert.False(t, stillThere, "expected worker reaped once device is unconfigured")
}

func TestWorkerGracefulDeletionOnDeviceNotFound(t *testing.T) {
	addr := types.Sockaddr{Host: "pdu1", Port: 1234}
	mgr := &fakeManager{notFound: map[types.Sockaddr]bool{addr: true}}
	alerts := newFakeAlerts()

	w := newWorker(addr, mgr, alwaysAvailable, alerts, testLogger(), 20*time.Millisecond)
	w.Enqueue("query_outlet_state", map[string]any{"outlet": 1})
	go w.run()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected worker to exit after ErrDeviceNotFound")
	}
	assert.True(t, w.wasRemoved(), "expected worker to mark itself removed, not just dead")
}

func TestSupervisorEnqueueIsNoOpWithoutWorker(t *testing.T) {
	mgr := &fakeManager{}
	alerts := newFakeAlerts()
	sup := NewSupervisor(func() []types.Sockaddr { return nil }, mgr, alwaysAvailable, alerts, testLogger(), 20*time.Millisecond)
	sup.Enqueue(types.Sockaddr{Host: "ghost", Port: 1}, "noop", nil)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, "condition not met within timeout")
}
