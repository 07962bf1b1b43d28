// Package metrics exposes Prometheus collectors for the cleanup worker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Per-item decisions
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_decisions_total",
			Help: "Item decisions by kind (media, email) and outcome",
		},
		[]string{"kind", "decision"},
	)

	// Email escalations by adjudicator outcome
	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_email_escalations_total",
			Help: "Email escalations by adjudicator outcome",
		},
		[]string{"outcome"},
	)

	// Plan actions by terminal state
	Actions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_actions_total",
			Help: "Plan actions by kind and terminal state",
		},
		[]string{"kind", "state"},
	)

	// Delete call retries
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_action_retries_total",
			Help: "Retried delete calls by kind",
		},
		[]string{"kind"},
	)

	// Remote call latency (seconds)
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cleanup_remote_call_duration_seconds",
			Help:    "Remote call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"service", "operation", "status"},
	)

	// Plan size per run
	PlanSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanup_plan_actions",
			Help: "Number of actions in the most recent deletion plan",
		},
	)

	// Actions cut by the per-run cap
	PlanExcess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanup_plan_excess",
			Help: "Delete candidates cut by the per-run cap in the most recent plan",
		},
	)

	// Run duration (seconds)
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cleanup_run_duration_seconds",
			Help:    "Run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		},
		[]string{"status"},
	)
)

// ObserveRemoteCall records one remote call.
func ObserveRemoteCall(service, operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RemoteCallDuration.WithLabelValues(service, operation, status).Observe(time.Since(start).Seconds())
}
