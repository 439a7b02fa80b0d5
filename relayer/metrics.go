package relayer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/staccDOTsol/rebalanc00r/observability"
)

const (
	metricsNamespace = "relayer"
	metricsSubsystem = "service"
)

var (
	// Discovery
	tasksDiscovered = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tasks_discovered_total",
			Help:      "Requests pushed to the task queue by source (logs, scan)",
		},
		[]string{"source"},
	)

	tasksSettledEvents = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "settled_events_total",
			Help:      "Settled events observed in program logs",
		},
	)

	reconcileScans = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reconcile_scans_total",
			Help:      "Reconciliation scans by result",
		},
		[]string{"result"},
	)

	reconcilePending = observability.Factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reconcile_pending_requests",
			Help:      "Uncompleted request accounts found by the last scan",
		},
	)

	accountRefreshes = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "account_refreshes_total",
			Help:      "Service and function account cache updates by account and source",
		},
		[]string{"account", "source", "result"},
	)

	// Batching
	batchesTotal = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "batches_total",
			Help:      "Flushed batches by result",
		},
		[]string{"result"},
	)

	batchSize = observability.Factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "batch_size",
			Help:      "Number of compiled tasks per flushed batch",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 20, 50},
		},
	)

	settlementOutcomes = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "settlement_outcomes_total",
			Help:      "Final outcome per compiled task",
		},
		[]string{"outcome"},
	)

	settlementAttempts = observability.Factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "settlement_attempts",
			Help:      "Send attempts per compiled task",
			Buckets:   []float64{1, 2, 3, 4, 5, 10},
		},
	)

	serviceReady = observability.Factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "ready",
			Help:      "1 once the relay service finished initialization",
		},
	)
)

func observeOperation(component, operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.OperationDurationSeconds.WithLabelValues(component, operation, status).Observe(time.Since(start).Seconds())
}
