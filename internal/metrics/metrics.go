// Package metrics holds the daemon's Prometheus instrumentation.
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global one) so embedding this daemon in another process never
// collides with that process's own collectors — grounded on the
// octoreflex agent's internal/observability/metrics.go.
//
// Metric naming convention: llmosd_<subsystem>_<name>_<unit>.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every metric descriptor the daemon records against.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Wave dispatch ────────────────────────────────────────────────

	// WaveDispatchLatency records how long a single execution wave takes
	// from dispatch to every action in the wave settling.
	WaveDispatchLatency prometheus.Histogram

	// WaveActionsTotal counts actions dispatched, by module and outcome
	// (success, failure, skipped).
	WaveActionsTotal *prometheus.CounterVec

	// ─── Plans ─────────────────────────────────────────────────────────

	// PlansCompletedTotal counts finished plan runs, by terminal status.
	PlansCompletedTotal *prometheus.CounterVec

	// PlanDuration records end-to-end plan execution time in seconds.
	PlanDuration prometheus.Histogram

	// ActivePlans is the current number of plans mid-execution.
	ActivePlans prometheus.Gauge

	// ─── Rate limiting ────────────────────────────────────────────────

	// RateLimitRejectionsTotal counts requests rejected by the rate
	// limiter, by action and window (minute, hour).
	RateLimitRejectionsTotal *prometheus.CounterVec

	// ─── Resource manager ─────────────────────────────────────────────

	// ResourceSlotsInUse is the current number of concurrency slots held,
	// by module.
	ResourceSlotsInUse *prometheus.GaugeVec

	// ResourceAcquireWaitSeconds records how long a caller waited to
	// acquire a resource slot.
	ResourceAcquireWaitSeconds prometheus.Histogram

	// ─── Triggers ──────────────────────────────────────────────────────

	// TriggerFiresTotal counts trigger fires, by trigger_id and outcome
	// (dispatched, throttled, rejected_chain_depth, failed).
	TriggerFiresTotal *prometheus.CounterVec

	// ArmedTriggers is the current number of active/watching triggers.
	ArmedTriggers prometheus.Gauge

	// ─── Scanner ───────────────────────────────────────────────────────

	// ScannerRejectionsTotal counts plans rejected at preflight by the
	// input scanner pipeline; the "rule" label holds the rejecting
	// scanner's id.
	ScannerRejectionsTotal *prometheus.CounterVec

	// ─── Approvals ─────────────────────────────────────────────────────

	// ApprovalWaitSeconds records how long an approval gate waited before
	// a decision arrived or it timed out.
	ApprovalWaitSeconds prometheus.Histogram

	startTime time.Time
}

// New creates and registers all daemon Prometheus metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		WaveDispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "llmosd",
			Subsystem: "wave",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency of a single execution wave, from dispatch to settling.",
			Buckets:   prometheus.DefBuckets,
		}),

		WaveActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmosd",
			Subsystem: "wave",
			Name:      "actions_total",
			Help:      "Total actions dispatched, by module and outcome.",
		}, []string{"module", "outcome"}),

		PlansCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmosd",
			Subsystem: "plans",
			Name:      "completed_total",
			Help:      "Total plan runs completed, by terminal status.",
		}, []string{"status"}),

		PlanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "llmosd",
			Subsystem: "plans",
			Name:      "duration_seconds",
			Help:      "End-to-end plan execution duration in seconds.",
			Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),

		ActivePlans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmosd",
			Subsystem: "plans",
			Name:      "active",
			Help:      "Current number of plans mid-execution.",
		}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmosd",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total requests rejected by the rate limiter, by action and window.",
		}, []string{"action", "window"}),

		ResourceSlotsInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "llmosd",
			Subsystem: "resources",
			Name:      "slots_in_use",
			Help:      "Current concurrency slots held, by module.",
		}, []string{"module"}),

		ResourceAcquireWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "llmosd",
			Subsystem: "resources",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting to acquire a resource-manager slot.",
			Buckets:   prometheus.DefBuckets,
		}),

		TriggerFiresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmosd",
			Subsystem: "triggers",
			Name:      "fires_total",
			Help:      "Total trigger fires, by trigger_id and outcome.",
		}, []string{"trigger_id", "outcome"}),

		ArmedTriggers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmosd",
			Subsystem: "triggers",
			Name:      "armed",
			Help:      "Current number of active or watching triggers.",
		}),

		ScannerRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmosd",
			Subsystem: "scanner",
			Name:      "rejections_total",
			Help:      "Total plans rejected at preflight by the input scanner pipeline, by rejecting scanner id.",
		}, []string{"rule"}),

		ApprovalWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "llmosd",
			Subsystem: "approvals",
			Name:      "wait_seconds",
			Help:      "Time an approval gate waited before a decision or timeout.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}

	reg.MustRegister(
		m.WaveDispatchLatency,
		m.WaveActionsTotal,
		m.PlansCompletedTotal,
		m.PlanDuration,
		m.ActivePlans,
		m.RateLimitRejectionsTotal,
		m.ResourceSlotsInUse,
		m.ResourceAcquireWaitSeconds,
		m.TriggerFiresTotal,
		m.ArmedTriggers,
		m.ScannerRejectionsTotal,
		m.ApprovalWaitSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns the http.Handler to mount at GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Uptime returns how long this Metrics instance has been alive.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
