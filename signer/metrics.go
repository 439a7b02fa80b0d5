package signer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/staccDOTsol/rebalanc00r/observability"
)

const (
	metricsNamespace = "relayer"
	metricsSubsystem = "signer"
)

var (
	rotationsTotal = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rotations_total",
			Help:      "Total number of enclave signer rotations by outcome",
		},
		[]string{"status"},
	)

	rotationDuration = observability.Factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rotation_duration_seconds",
			Help:      "Time from keypair generation to the chain recording the new signer",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	signerStatus = observability.Factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "status",
			Help:      "Current signer status (0=none, 1=rotating, 2=ready)",
		},
	)

	rotationSignalsTotal = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rotation_signals_total",
			Help:      "Total number of rotation signals raised by the rotation routine",
		},
		[]string{"result"},
	)
)
