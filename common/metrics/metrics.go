package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics, registered on the default registry and served by the
// telemetry listener.
var (
	StagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mend",
		Subsystem: "pipeline",
		Name:      "stages_total",
		Help:      "Stage executions by stage and outcome",
	}, []string{"stage", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mend",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Stage execution latency",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"stage"})

	RepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mend",
		Subsystem: "repair",
		Name:      "attempts_total",
		Help:      "Repair engine attempts by outcome",
	}, []string{"outcome"})

	BundlesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mend",
		Subsystem: "repair",
		Name:      "bundles_captured_total",
		Help:      "Failure bundles captured",
	})

	WorkflowsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mend",
		Subsystem: "workflow",
		Name:      "started_total",
		Help:      "Workflow start/restart calls accepted",
	})

	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mend",
		Subsystem: "checks",
		Name:      "runs_total",
		Help:      "Verification check runs by type and status",
	}, []string{"type", "status"})
)
