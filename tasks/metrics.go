package tasks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/staccDOTsol/rebalanc00r/observability"
)

const (
	metricsNamespace = "relayer"
	metricsSubsystem = "tasks"
)

var (
	tasksQueued = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "queued_total",
			Help:      "Tasks accepted into the queue",
		},
	)

	tasksDeduplicated = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "deduplicated_total",
			Help:      "Pushes rejected because the request was already in flight",
		},
	)

	tasksRequeued = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requeued_total",
			Help:      "Tasks put back after a failed compile",
		},
	)

	queueDepth = observability.Factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "queue_depth",
			Help:      "Tasks waiting to be compiled",
		},
	)

	tasksCompiled = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "compiled_total",
			Help:      "Compile outcomes",
		},
		[]string{"status"},
	)

	compileDurationSeconds = observability.Factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "compile_duration_seconds",
			Help:      "Time to compile one task",
			Buckets:   observability.MicroLatencyBuckets,
		},
	)

	resultLookups = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "result_lookups_total",
			Help:      "Result store lookups by level (l1, l2, generated)",
		},
		[]string{"level"},
	)

	resultConflicts = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "result_conflicts_total",
			Help:      "Results discarded because another replica stored first",
		},
	)

	resultsPruned = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "results_pruned_total",
			Help:      "Expired results dropped from the local cache",
		},
	)
)
