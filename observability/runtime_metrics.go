package observability

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/staccDOTsol/rebalanc00r/logging"
)

type runtimeMetrics struct {
	goroutines  prometheus.Gauge
	heapAlloc   prometheus.Gauge
	heapInuse   prometheus.Gauge
	heapObjects prometheus.Gauge
	numGC       prometheus.Gauge
	lastPause   prometheus.Gauge
}

func newRuntimeMetrics(factory promauto.Factory) *runtimeMetrics {
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      name,
			Help:      help,
		})
	}
	return &runtimeMetrics{
		goroutines:  gauge("goroutines", "Number of goroutines"),
		heapAlloc:   gauge("heap_alloc_bytes", "Bytes of allocated heap objects"),
		heapInuse:   gauge("heap_inuse_bytes", "Bytes in in-use spans"),
		heapObjects: gauge("heap_objects", "Number of allocated heap objects"),
		numGC:       gauge("gc_cycles", "Number of completed GC cycles"),
		lastPause:   gauge("gc_last_pause_seconds", "Duration of the most recent GC pause"),
	}
}

// RuntimeMetricsCollectorConfig configures the sampling interval.
type RuntimeMetricsCollectorConfig struct {
	Interval time.Duration
}

// DefaultRuntimeMetricsCollectorConfig samples every 10 seconds.
func DefaultRuntimeMetricsCollectorConfig() RuntimeMetricsCollectorConfig {
	return RuntimeMetricsCollectorConfig{Interval: 10 * time.Second}
}

// RuntimeMetricsCollector periodically copies runtime.MemStats into gauges.
type RuntimeMetricsCollector struct {
	logger  logging.Logger
	config  RuntimeMetricsCollectorConfig
	metrics *runtimeMetrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRuntimeMetricsCollector registers the runtime gauges on factory.
func NewRuntimeMetricsCollector(logger logging.Logger, config RuntimeMetricsCollectorConfig, factory promauto.Factory) *RuntimeMetricsCollector {
	if config.Interval <= 0 {
		config.Interval = DefaultRuntimeMetricsCollectorConfig().Interval
	}
	return &RuntimeMetricsCollector{
		logger:  logging.ForComponent(logger, logging.ComponentRuntimeMetrics),
		config:  config,
		metrics: newRuntimeMetrics(factory),
	}
}

// Start samples once immediately and then on every interval.
func (c *RuntimeMetricsCollector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return nil
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.collect()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.collect()
			}
		}
	}()
	return nil
}

// Stop halts sampling and waits for the loop to exit.
func (c *RuntimeMetricsCollector) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *RuntimeMetricsCollector) collect() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	c.metrics.goroutines.Set(float64(runtime.NumGoroutine()))
	c.metrics.heapAlloc.Set(float64(ms.HeapAlloc))
	c.metrics.heapInuse.Set(float64(ms.HeapInuse))
	c.metrics.heapObjects.Set(float64(ms.HeapObjects))
	c.metrics.numGC.Set(float64(ms.NumGC))
	if ms.NumGC > 0 {
		c.metrics.lastPause.Set(time.Duration(ms.PauseNs[(ms.NumGC+255)%256]).Seconds())
	}
}
