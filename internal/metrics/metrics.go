// Package metrics provides Prometheus instrumentation for the try-on
// session backend: session lifecycle counters, rate-limit decisions,
// and cleanup run observability.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsCreated counts successful session creations.
	SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tryon_sessions_created_total",
		Help: "Total number of sessions created",
	})

	// SessionsRemoved counts removed sessions, labeled by reason:
	// "deleted" (explicit) or "cleanup" (expiry sweep).
	SessionsRemoved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tryon_sessions_removed_total",
		Help: "Total number of sessions removed",
	}, []string{"reason"})

	// ActivityTracked counts activity tracking calls, labeled by outcome:
	// "tracked" or the degradation reason.
	ActivityTracked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tryon_activity_tracked_total",
		Help: "Total number of activity tracking calls by outcome",
	}, []string{"outcome"})

	// RateLimitChecks counts limiter decisions, labeled by tier and
	// result ("allowed" or "rejected").
	RateLimitChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tryon_ratelimit_checks_total",
		Help: "Total number of rate limit checks by tier and result",
	}, []string{"tier", "result"})

	// CleanupRuns counts cleanup sweeps, labeled by mode ("live" or
	// "dry_run").
	CleanupRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tryon_cleanup_runs_total",
		Help: "Total number of cleanup runs by mode",
	}, []string{"mode"})

	// CleanupDeleted counts sessions removed by cleanup sweeps.
	CleanupDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tryon_cleanup_deleted_sessions_total",
		Help: "Total number of sessions deleted by cleanup sweeps",
	})

	// CleanupDuration records cleanup sweep duration in seconds.
	CleanupDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tryon_cleanup_duration_seconds",
		Help:    "Cleanup sweep duration in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	// StoreUnavailable counts degraded results caused by key-value store
	// failures, labeled by path.
	StoreUnavailable = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tryon_store_unavailable_total",
		Help: "Total number of store failures by request path class",
	}, []string{"path"})
)

func init() {
	prometheus.MustRegister(
		SessionsCreated,
		SessionsRemoved,
		ActivityTracked,
		RateLimitChecks,
		CleanupRuns,
		CleanupDeleted,
		CleanupDuration,
		StoreUnavailable,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
