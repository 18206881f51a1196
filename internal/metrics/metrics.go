package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeError labels runs that ended with an error instead of a decision.
	OutcomeError = "error"
	// OutcomeNone labels runs that ended before the decision stage.
	OutcomeNone = "none"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_incident",
			Name:      "runs_total",
			Help:      "Total number of incident workflow runs, partitioned by decision.",
		},
		[]string{"decision"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_incident",
			Name:      "run_seconds",
			Help:      "Incident workflow latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_incident",
			Name:      "stage_seconds",
			Help:      "Stage latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"stage"},
	)

	stageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_incident",
			Name:      "stage_failures_total",
			Help:      "Stage invocations that returned an error or panicked.",
		},
		[]string{"stage"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_incident",
			Name:      "notifications_total",
			Help:      "Notification deliveries, partitioned by event kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	dedupHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_incident",
			Name:      "dedup_hits_total",
			Help:      "Alerts answered from an earlier run inside the dedup window.",
		},
	)
)

// Register attaches mirador-incident collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		stageDurationSeconds,
		stageFailuresTotal,
		notificationsTotal,
		dedupHitsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a run duration under its decision label. An empty
// decision is recorded as OutcomeNone.
func ObserveRun(duration time.Duration, decision string) {
	if decision == "" {
		decision = OutcomeNone
	}
	runsTotal.WithLabelValues(decision).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveDedupHit counts an alert served from the dedup window.
func ObserveDedupHit() {
	dedupHitsTotal.Inc()
}

// Recorder adapts the package collectors to the workflow and notification
// observer interfaces.
type Recorder struct{}

// ObserveStage records stage latency and failures.
func (Recorder) ObserveStage(stage string, elapsed time.Duration, err error) {
	stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
	if err != nil {
		stageFailuresTotal.WithLabelValues(stage).Inc()
	}
}

// ObserveNotification counts one delivery outcome.
func (Recorder) ObserveNotification(kind, outcome string) {
	notificationsTotal.WithLabelValues(kind, outcome).Inc()
}
