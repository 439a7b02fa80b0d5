package client

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/staccDOTsol/rebalanc00r/observability"
)

const (
	metricsNamespace = "relayer"
	metricsSubsystem = "client"
)

var (
	watcherConnectAttempts = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "watcher_connect_attempts_total",
			Help:      "Subscription connect attempts per watcher",
		},
		[]string{"watcher"},
	)

	watcherConnected = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "watcher_connected_total",
			Help:      "Successful subscription connects per watcher",
		},
		[]string{"watcher"},
	)

	watcherExhausted = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "watcher_exhausted_total",
			Help:      "Watchers that gave up reconnecting",
		},
		[]string{"watcher"},
	)

	watcherNotifications = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "watcher_notifications_total",
			Help:      "Notifications received per watcher",
		},
		[]string{"watcher"},
	)

	notificationsDropped = observability.Factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the subscription buffer was full",
		},
		[]string{"method"},
	)

	checkpointSlot = observability.Factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "checkpoint_slot",
			Help:      "Slot of the most recent blockhash checkpoint",
		},
	)

	checkpointRefreshErrors = observability.Factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "checkpoint_refresh_errors_total",
			Help:      "Failed blockhash checkpoint refreshes",
		},
	)
)
