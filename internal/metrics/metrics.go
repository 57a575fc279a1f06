package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Rate-limit decision labels.
const (
	DecisionAllowed  = "allowed"
	DecisionDenied   = "denied"
	DecisionFailOpen = "fail_open"
)

var (
	rateLimitChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_ratelimit_checks_total",
		Help: "Rate limit checks by policy and decision",
	}, []string{"policy", "decision"})
	detectorErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_detector_errors_total",
		Help: "Anomaly detector errors swallowed per stage",
	}, []string{"stage"})
	detectorDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guard_detector_dropped_total",
		Help: "Activity events dropped because the detector queue was full",
	})
	incidentsOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_incidents_opened_total",
		Help: "Security incidents opened by pattern and severity",
	}, []string{"pattern", "severity"})
	incidentsResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_incidents_resolved_total",
		Help: "Security incidents resolved by terminal status",
	}, []string{"status"})
	attemptsPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guard_attempts_pruned_total",
		Help: "Attempt ledger rows removed by the retention sweep",
	})
	sweepRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_sweep_runs_total",
		Help: "Sweep executions by result",
	}, []string{"result"})
	suspicionScoresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_suspicion_scores_total",
		Help: "Suspicion scorer runs by outcome",
	}, []string{"outcome"})
	httpPanicsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_http_panics_total",
		Help: "Handler panics recovered per route",
	}, []string{"route"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(
		rateLimitChecksTotal,
		detectorErrorsTotal,
		detectorDroppedTotal,
		incidentsOpenedTotal,
		incidentsResolvedTotal,
		attemptsPrunedTotal,
		sweepRunsTotal,
		suspicionScoresTotal,
		httpPanicsTotal,
	)
}

// IncRateLimitCheck counts one limiter decision.
func IncRateLimitCheck(policy, decision string) {
	rateLimitChecksTotal.WithLabelValues(policy, decision).Inc()
}

// IncDetectorError counts a swallowed detector failure.
func IncDetectorError(stage string) { detectorErrorsTotal.WithLabelValues(stage).Inc() }

// IncDetectorDropped counts an activity event the queue could not accept.
func IncDetectorDropped() { detectorDroppedTotal.Inc() }

// IncIncidentOpened counts a created incident.
func IncIncidentOpened(pattern, severity string) {
	incidentsOpenedTotal.WithLabelValues(pattern, severity).Inc()
}

// AddIncidentsResolved counts incidents moved to a terminal status.
func AddIncidentsResolved(status string, n int64) {
	if n > 0 {
		incidentsResolvedTotal.WithLabelValues(status).Add(float64(n))
	}
}

// AddAttemptsPruned counts ledger rows removed by retention.
func AddAttemptsPruned(n int64) {
	if n > 0 {
		attemptsPrunedTotal.Add(float64(n))
	}
}

// IncSweepRun counts a sweep execution.
func IncSweepRun(result string) { sweepRunsTotal.WithLabelValues(result).Inc() }

// IncSuspicionScore counts a scorer run.
func IncSuspicionScore(outcome string) { suspicionScoresTotal.WithLabelValues(outcome).Inc() }

// IncHTTPPanic counts a recovered handler panic.
func IncHTTPPanic(route string) { httpPanicsTotal.WithLabelValues(route).Inc() }
