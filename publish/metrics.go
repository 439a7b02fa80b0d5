package publish

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/staccDOTsol/rebalanc00r/observability"
)

var (
	publishTotal = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayer",
			Subsystem: "publish",
			Name:      "quotes_total",
			Help:      "Quote publish attempts by status",
		},
		[]string{"status"},
	)

	publishDurationSeconds = observability.Factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "relayer",
			Subsystem: "publish",
			Name:      "duration_seconds",
			Help:      "Time to add a quote to IPFS",
			Buckets:   observability.FineGrainedLatencyBuckets,
		},
	)
)
