package tx

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/staccDOTsol/rebalanc00r/observability"
)

const (
	metricsNamespace = "relayer"
	metricsSubsystem = "tx"
)

var (
	// Settlement submission metrics
	settlementsTotal = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "settlements_total",
			Help:      "Total number of settlement submissions",
		},
		[]string{"status"},
	)

	settlementLatency = observability.Factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "settlement_latency_seconds",
			Help:      "Time from submission to landing of a settlement transaction",
			Buckets:   observability.FineGrainedLatencyBuckets,
		},
		[]string{"status"},
	)

	rateLimitWaitSeconds = observability.Factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting on the submission rate limiter",
			Buckets:   observability.FineGrainedLatencyBuckets,
		},
	)

	// Classification of failed submissions
	classifiedErrorsTotal = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "classified_errors_total",
			Help:      "Total number of failed submissions by classification",
		},
		[]string{"reason", "retryable"},
	)

	invalidCallbacksTotal = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "invalid_callbacks_total",
			Help:      "Total number of tasks dropped because their callback requested a foreign signer",
		},
	)
)
