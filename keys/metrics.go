package keys

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/staccDOTsol/rebalanc00r/observability"
)

const (
	metricsNamespace = "relayer"
	metricsSubsystem = "keys"
)

var (
	payerLoaded = observability.Factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "payer_loaded",
			Help:      "1 when a payer keypair is loaded",
		},
	)

	keyReloadsTotal = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reloads_total",
			Help:      "Total number of payer keypair reloads",
		},
	)

	keyChangesTotal = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "changes_total",
			Help:      "Total number of payer key changes",
		},
	)

	keyLoadErrors = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "load_errors_total",
			Help:      "Total number of payer keypair load errors",
		},
		[]string{"provider"},
	)
)
