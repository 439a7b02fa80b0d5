package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry holds every relayer metric. Packages register through Factory
	// so tests can gather from it without touching the global registry.
	Registry = prometheus.NewRegistry()

	// Factory creates collectors registered on Registry.
	Factory = promauto.With(Registry)
)

func init() {
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Gatherer returns the gatherer served on /metrics: the relayer registry plus
// the default registry (panic recovery counters live there).
func Gatherer() prometheus.Gatherer {
	return prometheus.Gatherers{Registry, prometheus.DefaultGatherer}
}
