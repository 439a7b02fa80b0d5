package leader

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/staccDOTsol/rebalanc00r/observability"
)

const (
	metricsNamespace = "relayer"
	metricsSubsystem = "leader"
)

// leaderMetrics are registered once, on the first elector.
type leaderMetrics struct {
	status              *prometheus.GaugeVec
	elections           *prometheus.CounterVec
	losses              *prometheus.CounterVec
	acquisitionFailures *prometheus.CounterVec
}

var (
	metrics     *leaderMetrics
	metricsOnce sync.Once
)

func initMetrics() *leaderMetrics {
	metricsOnce.Do(func() {
		metrics = &leaderMetrics{
			status: observability.Factory.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: metricsSubsystem,
					Name:      "status",
					Help:      "Whether this replica holds the service leader lock (1=leader, 0=standby)",
				},
				[]string{"instance"},
			),
			elections: observability.Factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: metricsSubsystem,
					Name:      "elections_total",
					Help:      "Total number of times this instance became leader",
				},
				[]string{"instance"},
			),
			losses: observability.Factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: metricsSubsystem,
					Name:      "losses_total",
					Help:      "Total number of times this instance lost leadership",
				},
				[]string{"instance"},
			),
			acquisitionFailures: observability.Factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: metricsSubsystem,
					Name:      "acquisition_failures_total",
					Help:      "Total number of failed leadership acquisition attempts due to Redis errors",
				},
				[]string{"instance", "reason"},
			),
		}
	})
	return metrics
}
