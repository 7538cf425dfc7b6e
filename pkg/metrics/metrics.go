// Package metrics exposes the Prometheus collectors shared across the
// trading core: outbox throughput, matching pipeline timings, and risk
// engine behavior. Services obtain pre-registered vectors from here rather
// than declaring their own, so a single /metrics endpoint (Handler) serves
// the whole process.
package metrics

import (
	"net/http"
	"time"

	core "github.com/rnrlcrm/tradecore/internal/app/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradecore"

var (
	// Registry holds every collector registered by this package.
	Registry = prometheus.NewRegistry()

	// OutboxDepth tracks how many events currently sit in each status.
	OutboxDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "depth",
			Help:      "Number of outbox rows currently in each status.",
		},
		[]string{"status"},
	)

	// OutboxPublishAttempts counts publish attempts by outcome.
	OutboxPublishAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_attempts_total",
			Help:      "Total outbox publish attempts, labeled by event_type and outcome.",
		},
		[]string{"event_type", "outcome"},
	)

	// OutboxPublishDuration measures how long one publish attempt takes.
	OutboxPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_duration_seconds",
			Help:      "Duration of a single outbox publish attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"event_type"},
	)

	// MatchingRuns counts matcher invocations by trigger and outcome.
	MatchingRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "runs_total",
			Help:      "Total matching engine runs, labeled by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	// MatchingDuration measures a full matching pass for one requirement.
	MatchingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "duration_seconds",
			Help:      "Duration of one matching pass over a requirement's candidates.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"trigger"},
	)

	// MatchingCandidates records how many candidates survived each filter stage.
	MatchingCandidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "candidates",
			Help:      "Number of candidates remaining after a given matching stage.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"stage"},
	)

	// RiskAssessments counts risk evaluations by tier and verdict.
	RiskAssessments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "assessments_total",
			Help:      "Total risk assessments, labeled by tier and verdict.",
		},
		[]string{"tier", "verdict"},
	)

	// RiskTierDuration measures latency of each risk tier's evaluation.
	RiskTierDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "tier_duration_seconds",
			Help:      "Duration of a single risk tier evaluation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"tier"},
	)

	// RiskDegradations counts Tier-2 degradation-to-fallback events.
	RiskDegradations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "tier2_degradations_total",
			Help:      "Total times Tier-2 scoring degraded to the deterministic fallback.",
		},
		[]string{"reason"},
	)

	// AvailabilityReservations tracks reservation lifecycle transitions.
	AvailabilityReservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "availability",
			Name:      "reservation_transitions_total",
			Help:      "Total availability reservation transitions, labeled by transition.",
		},
		[]string{"transition"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		OutboxDepth,
		OutboxPublishAttempts,
		OutboxPublishDuration,
		MatchingRuns,
		MatchingDuration,
		MatchingCandidates,
		RiskAssessments,
		RiskTierDuration,
		RiskDegradations,
		AvailabilityReservations,
	)
}

// Handler returns the HTTP handler serving this registry's collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObservationHooks wires core.ObservationHooks into a counter/histogram pair
// registered under namespace/subsystem/name.
func ObservationHooks(subsystem, name string, counter *prometheus.CounterVec, duration *prometheus.HistogramVec, label string) core.ObservationHooks {
	return core.ObservationHooks{
		OnStart: func(core.ObservationMeta) {},
		OnComplete: func(meta core.ObservationMeta, elapsed time.Duration, err error) {
			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			if counter != nil {
				counter.WithLabelValues(label, outcome).Inc()
			}
			if duration != nil {
				duration.WithLabelValues(label).Observe(elapsed.Seconds())
			}
		},
	}
}
