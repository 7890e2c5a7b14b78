package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

func TestNewCollector(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.plansTotal, "plansTotal counter should be initialized")
	assert.NotNil(t, collector.jobsPlanned, "jobsPlanned counter should be initialized")
	assert.NotNil(t, collector.planDuration, "planDuration histogram should be initialized")
	assert.NotNil(t, collector.recoveryTime, "recoveryTime gauge should be initialized")
	assert.NotNil(t, collector.lockCacheSize, "lockCacheSize gauge should be initialized")
	assert.NotNil(t, collector.powerUnavailable, "powerUnavailable gauge vec should be initialized")
}

func TestObservePlanDuration(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.ObservePlanDuration(5 * time.Millisecond)
	}, "ObservePlanDuration should not panic")

	for i := 0; i < 5; i++ {
		collector.ObservePlanDuration(time.Duration(i) * time.Millisecond)
	}
}

func TestObserveJobsPlanned(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.ObserveJobsPlanned(3)
	}, "ObserveJobsPlanned should not panic")

	for i := 0; i < 10; i++ {
		collector.ObserveJobsPlanned(i)
	}
}

func TestSetRecoveryTime(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	recoveryTimes := []float64{0.001, 0.5, 1.5, 3.0}

	for _, rt := range recoveryTimes {
		assert.NotPanics(t, func() {
			collector.SetRecoveryTime(rt)
		}, "SetRecoveryTime should not panic with time %f", rt)
	}
}

func TestSetLockCacheSize(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	testCases := []int{0, 10, 100, 5}

	for _, n := range testCases {
		assert.NotPanics(t, func() {
			collector.SetLockCacheSize(n)
		}, "SetLockCacheSize should not panic")
	}
}

func TestRaiseAndClearAlert(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	addr := types.Sockaddr{Host: "pdu1.example.com", Port: 23}

	assert.NotPanics(t, func() {
		collector.Raise(addr)
	}, "Raise should not panic")

	assert.NotPanics(t, func() {
		collector.Clear(addr)
	}, "Clear should not panic")

	// Repeated raise/clear on the same address is idempotent.
	collector.Raise(addr)
	collector.Raise(addr)
	collector.Clear(addr)
	collector.Clear(addr)
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	done := make(chan bool, 100)
	addr := types.Sockaddr{Host: "pdu1", Port: 23}

	for i := 0; i < 100; i++ {
		go func() {
			collector.ObservePlanDuration(time.Millisecond)
			collector.ObserveJobsPlanned(1)
			collector.SetLockCacheSize(5)
			collector.Raise(addr)
			collector.Clear(addr)
			done <- true
		}()
	}

	for i := 0; i < 100; i++ {
		<-done
	}
}

func TestCollectorIsolation(t *testing.T) {
	// Test multiple collector instances work independently
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// Second collector will panic due to duplicate registration
	// This is expected: a process should have only one collector
	assert.Panics(t, func() {
		NewCollector()
	}, "Creating a second collector should panic due to duplicate registration")
}

func TestSchedulingLifecycleSequence(t *testing.T) {
	// Simulate a typical set_state -> persist -> lock cache update sequence
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		start := time.Now()
		collector.ObserveJobsPlanned(3)
		collector.SetLockCacheSize(3)
		collector.ObservePlanDuration(time.Since(start))
	}, "Complete scheduling lifecycle should not panic")
}

func TestRecoveryTimeScenario(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.SetRecoveryTime(2.5)
		collector.SetLockCacheSize(0)
		collector.ObservePlanDuration(10 * time.Millisecond)
	}, "Recovery scenario should not panic")
}

func TestZeroAndNegativeValues(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.ObservePlanDuration(0)
		collector.SetRecoveryTime(0.0)
		collector.SetLockCacheSize(0)
		collector.SetLockCacheSize(-1) // negative values (shouldn't happen)
	}, "Edge case values should not panic")
}
