package redis

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/staccDOTsol/rebalanc00r/logging"
	"github.com/staccDOTsol/rebalanc00r/observability"
)

const (
	// DefaultHealthCheckInterval is how often INFO MEMORY is polled.
	DefaultHealthCheckInterval = 30 * time.Second

	memoryWarningThreshold = 0.9
)

var (
	usedMemoryBytes = observability.Factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "relayer",
		Subsystem: "redis",
		Name:      "used_memory_bytes",
		Help:      "Redis memory usage in bytes (INFO MEMORY used_memory)",
	})

	maxMemoryBytes = observability.Factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "relayer",
		Subsystem: "redis",
		Name:      "max_memory_bytes",
		Help:      "Configured Redis maxmemory in bytes (0 means no limit)",
	})

	memoryUsageRatio = observability.Factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "relayer",
		Subsystem: "redis",
		Name:      "memory_usage_ratio",
		Help:      "used_memory / maxmemory, -1 when maxmemory is not set",
	})
)

// HealthMonitor polls Redis memory usage. A full Redis rejects the result
// store's writes, and every replica needs to see that coming, not just the leader.
type HealthMonitor struct {
	logger   logging.Logger
	client   *Client
	interval time.Duration

	mu       sync.Mutex
	closed   bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewHealthMonitor creates a monitor polling every interval.
func NewHealthMonitor(logger logging.Logger, client *Client, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	return &HealthMonitor{
		logger:   logging.ForComponent(logger, logging.ComponentRedisHealth),
		client:   client,
		interval: interval,
	}
}

// Start checks immediately, then on every interval until Close.
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	ctx, m.cancelFn = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.check(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.check(ctx)
			}
		}
	}()

	m.logger.Info().Dur("interval", m.interval).Msg("redis health monitor started")
	return nil
}

func (m *HealthMonitor) check(ctx context.Context) {
	info, err := m.client.Info(ctx, "memory").Result()
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to query redis INFO MEMORY")
		return
	}

	used, max, err := parseMemoryInfo(info)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to parse redis INFO MEMORY")
		return
	}

	usedMemoryBytes.Set(float64(used))
	maxMemoryBytes.Set(float64(max))
	if max == 0 {
		memoryUsageRatio.Set(-1)
		return
	}

	ratio := float64(used) / float64(max)
	memoryUsageRatio.Set(ratio)
	if ratio > memoryWarningThreshold {
		m.logger.Warn().
			Int64("used_memory_bytes", used).
			Int64("max_memory_bytes", max).
			Float64("usage_ratio", ratio).
			Msg("REDIS MEMORY HIGH - result writes will start failing at maxmemory")
	}
}

// parseMemoryInfo extracts used_memory and maxmemory from INFO MEMORY output.
func parseMemoryInfo(info string) (used, max int64, err error) {
	for _, line := range strings.Split(info, "\r\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		switch strings.TrimSpace(key) {
		case "used_memory":
			if used, err = strconv.ParseInt(strings.TrimSpace(value), 10, 64); err != nil {
				return 0, 0, err
			}
		case "maxmemory":
			if max, err = strconv.ParseInt(strings.TrimSpace(value), 10, 64); err != nil {
				return 0, 0, err
			}
		}
	}
	return used, max, nil
}

// Close stops the monitor. Safe to call twice.
func (m *HealthMonitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.cancelFn != nil {
		m.cancelFn()
	}
	m.wg.Wait()
	return nil
}
