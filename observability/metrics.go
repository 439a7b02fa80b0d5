package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "relayer"
	metricsSubsystem = "observability"
)

var (
	// FineGrainedLatencyBuckets covers RPC round trips and confirmation waits.
	// Buckets: 1ms .. 30s
	FineGrainedLatencyBuckets = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// MicroLatencyBuckets covers in-memory work (queue operations, encoding).
	MicroLatencyBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}
)

var (
	// OperationDurationSeconds tracks high-level operations (rotate, scan, batch).
	OperationDurationSeconds = Factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "operation_duration_seconds",
			Help:      "Duration of high-level relayer operations",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"component", "operation", "status"},
	)

	// RPCRequestDurationSeconds tracks ledger RPC latencies by method.
	RPCRequestDurationSeconds = Factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rpc_request_duration_seconds",
			Help:      "Duration of ledger RPC requests",
			Buckets:   FineGrainedLatencyBuckets,
		},
		[]string{"method", "status"},
	)

	// RPCRequestsTotal counts ledger RPC requests by method and status.
	RPCRequestsTotal = Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rpc_requests_total",
			Help:      "Total number of ledger RPC requests",
		},
		[]string{"method", "status"},
	)

	// ProcessInfo exposes build information as labels.
	ProcessInfo = Factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "process_info",
			Help:      "Relayer build information",
		},
		[]string{"version", "commit"},
	)

	// StartupDurationSeconds records how long each startup phase took.
	StartupDurationSeconds = Factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "startup_duration_seconds",
			Help:      "Duration of startup phases",
		},
		[]string{"component"},
	)
)
