// ============================================================================
// Lustre Scheduler Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose system metrics for Prometheus monitoring
//
// Monitoring Philosophy:
//   Based on RED (Rate, Errors, Duration) and USE (Utilization, Saturation, Errors)
//   Provides comprehensive system observability
//
// Metric Categories:
//
//   1. Scheduling Counters - Cumulative, monotonically increasing:
//      - scheduler_plans_total: Total planning passes (set_state/run_jobs)
//      - scheduler_jobs_planned_total: Total jobs produced by those passes
//
//   2. Performance Metrics (Histogram) - Distribution stats:
//      - scheduler_plan_duration_seconds: Time spent planning + persisting
//        * Buckets: 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10
//        * For SLA monitoring and performance analysis
//
//   3. Status Metrics (Gauge) - Instantaneous values:
//      - scheduler_recovery_time_seconds: Last WAL+snapshot recovery time
//      - scheduler_lock_cache_size: Current number of held locks
//      - power_devices_unavailable: Per-device reachability (1 = unavailable)
//
// Use Cases:
//
//   Alerting:
//   - scheduler_plan_duration_seconds > 5s  → Planning regression
//   - power_devices_unavailable == 1 → Paged by the alert the monitor raised
//   - scheduler_lock_cache_size continuous growth → Jobs never completing
//   - scheduler_recovery_time_seconds > 3s → Recovery SLA breach
//
//   Capacity Planning:
//   - scheduler_jobs_planned_total / time → Planning throughput trends
//   - scheduler_lock_cache_size peaks → Contention hot spots
//
//   Troubleshooting:
//   - plan duration anomaly → Check store WAL/lock cache size
//   - power_devices_unavailable spike → Check PDU network reachability
//
// Prometheus Query Examples:
//
//   # Plans per minute
//   rate(scheduler_plans_total[1m])
//
//   # 95th percentile plan duration
//   histogram_quantile(0.95, scheduler_plan_duration_seconds_bucket)
//
//   # Currently unavailable power devices
//   sum(power_devices_unavailable)
//
// HTTP Endpoint:
//   Exposed via /metrics endpoint, scraped by Prometheus
//   Port: passed to StartServer (the CLI uses metrics.port, 9100 in configs/default.yaml)
//   Format: OpenMetrics / Prometheus text format
//
// Performance:
//   - Counter/Gauge operations are atomic, thread-safe
//   - Histogram calculates multiple buckets with overhead
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

// Collector collects Prometheus metrics. Implements internal/scheduler.Metrics
// and internal/power.AlertSink so both components report through the same
// seam without importing this package's concrete type.
type Collector struct {
	plansTotal    prometheus.Counter
	jobsPlanned   prometheus.Counter
	planDuration  prometheus.Histogram
	recoveryTime  prometheus.Gauge
	lockCacheSize prometheus.Gauge

	powerUnavailable *prometheus.GaugeVec
}

// NewCollector creates a new metrics collector and registers every metric
// with the default Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		plansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_plans_total",
			Help: "Total number of planning passes (set_state/run_jobs)",
		}),
		jobsPlanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_jobs_planned_total",
			Help: "Total number of jobs produced by planning passes",
		}),
		planDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_plan_duration_seconds",
			Help:    "Time spent planning and persisting a request",
			Buckets: prometheus.DefBuckets,
		}),
		recoveryTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_recovery_time_seconds",
			Help: "Time taken to recover from crash in seconds",
		}),
		lockCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_lock_cache_size",
			Help: "Current number of locks held across all jobs",
		}),
		powerUnavailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "power_devices_unavailable",
			Help: "1 if the power control device at this address is currently unreachable",
		}, []string{"host", "port"}),
	}

	prometheus.MustRegister(c.plansTotal)
	prometheus.MustRegister(c.jobsPlanned)
	prometheus.MustRegister(c.planDuration)
	prometheus.MustRegister(c.recoveryTime)
	prometheus.MustRegister(c.lockCacheSize)
	prometheus.MustRegister(c.powerUnavailable)

	return c
}

// ObservePlanDuration implements internal/scheduler.Metrics.
func (c *Collector) ObservePlanDuration(d time.Duration) {
	c.plansTotal.Inc()
	c.planDuration.Observe(d.Seconds())
}

// ObserveJobsPlanned implements internal/scheduler.Metrics.
func (c *Collector) ObserveJobsPlanned(n int) {
	c.jobsPlanned.Add(float64(n))
}

// SetRecoveryTime sets the recovery time metric, reported once at startup
// after store.Open replays the WAL and snapshot.
func (c *Collector) SetRecoveryTime(seconds float64) {
	c.recoveryTime.Set(seconds)
}

// SetLockCacheSize reports the lock cache's current occupancy.
func (c *Collector) SetLockCacheSize(n int) {
	c.lockCacheSize.Set(float64(n))
}

// Raise implements internal/power.AlertSink: marks addr unavailable.
func (c *Collector) Raise(addr types.Sockaddr) {
	c.powerUnavailable.WithLabelValues(addr.Host, fmt.Sprintf("%d", addr.Port)).Set(1)
}

// Clear implements internal/power.AlertSink: marks addr available again.
func (c *Collector) Clear(addr types.Sockaddr) {
	c.powerUnavailable.WithLabelValues(addr.Host, fmt.Sprintf("%d", addr.Port)).Set(0)
}

// StartServer starts the Prometheus metrics HTTP server.
//
// Parameters:
//   - port: HTTP server port
//
// Returns:
//   - error: Error on startup failure
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
