// Package leader elects one relayer replica per service to rotate the enclave
// signer and submit settlements when several replicas share a Redis.
package leader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/staccDOTsol/rebalanc00r/logging"
	redisutil "github.com/staccDOTsol/rebalanc00r/transport/redis"
)

// acquire only when the lock is free
const acquireLuaScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
    redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
    return 1
else
    return 0
end
`

// renew only while we own the lock
const renewLuaScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    redis.call("EXPIRE", KEYS[1], ARGV[2])
    return 1
else
    return 0
end
`

// release only while we own the lock
const releaseLuaScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    redis.call("DEL", KEYS[1])
    return 1
else
    return 0
end
`

const (
	DefaultLeaderTTL     = 30 * time.Second
	DefaultHeartbeatRate = 10 * time.Second
)

// Callback runs when leadership changes.
type Callback func(ctx context.Context)

// Config holds leader election timing.
type Config struct {
	// LeaderTTL is how long the lock lives without renewal.
	LeaderTTL time.Duration `yaml:"leader_ttl"`

	// HeartbeatRate is how often the lock is acquired or renewed.
	HeartbeatRate time.Duration `yaml:"heartbeat_rate"`
}

func (c Config) withDefaults() Config {
	if c.LeaderTTL <= 0 {
		c.LeaderTTL = DefaultLeaderTTL
	}
	if c.HeartbeatRate <= 0 {
		c.HeartbeatRate = DefaultHeartbeatRate
	}
	return c
}

// Elector holds a Redis lock keyed by the service account. Only the holder
// rotates the enclave signer and submits settlements; the other replicas
// keep discovering and compiling so they can take over immediately.
type Elector struct {
	logger      logging.Logger
	redisClient *redisutil.Client
	instanceID  string
	config      Config
	metrics     *leaderMetrics
	leaderKey   string

	isLeader            atomic.Bool
	consecutiveFailures int

	acquireScript *redis.Script
	renewScript   *redis.Script
	releaseScript *redis.Script

	onElected  []Callback
	onLost     []Callback
	callbackMu sync.RWMutex

	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewElector creates an elector for service. instanceID must be unique per replica.
func NewElector(
	logger logging.Logger,
	redisClient *redisutil.Client,
	service string,
	instanceID string,
	config Config,
) *Elector {
	return &Elector{
		logger:        logging.ForComponent(logger, logging.ComponentLeaderElector),
		redisClient:   redisClient,
		instanceID:    instanceID,
		config:        config.withDefaults(),
		metrics:       initMetrics(),
		leaderKey:     redisClient.KB().LeaderKey(service),
		acquireScript: redis.NewScript(acquireLuaScript),
		renewScript:   redis.NewScript(renewLuaScript),
		releaseScript: redis.NewScript(releaseLuaScript),
	}
}

// Start attempts leadership immediately, then on every heartbeat.
func (e *Elector) Start(ctx context.Context) error {
	ctx, e.cancelFn = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.loop(ctx)

	e.logger.Info().
		Str(logging.FieldInstance, e.instanceID).
		Str("key", e.leaderKey).
		Msg("leader elector started")
	return nil
}

func (e *Elector) loop(ctx context.Context) {
	defer e.wg.Done()

	e.heartbeat(ctx)

	ticker := time.NewTicker(e.config.HeartbeatRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.heartbeat(ctx)
		}
	}
}

func (e *Elector) heartbeat(ctx context.Context) {
	ttl := int(e.config.LeaderTTL.Seconds())

	if e.isLeader.Load() {
		result, err := e.renewScript.Run(ctx, e.redisClient, []string{e.leaderKey}, e.instanceID, ttl).Int()
		switch {
		case err != nil:
			e.logger.Warn().Err(err).Str(logging.FieldInstance, e.instanceID).Msg("failed to renew leadership")
			e.lose(ctx)
		case result == 0:
			e.logger.Warn().Str(logging.FieldInstance, e.instanceID).Msg("LOST leadership")
			e.lose(ctx)
		default:
			e.logger.Debug().Str(logging.FieldInstance, e.instanceID).Msg("leadership renewed")
		}
		return
	}

	result, err := e.acquireScript.Run(ctx, e.redisClient, []string{e.leaderKey}, e.instanceID, ttl).Int()
	switch {
	case err != nil:
		e.consecutiveFailures++
		reason := "redis_error"
		if redisutil.IsOOMError(err) {
			reason = "redis_oom"
		}
		e.logger.Warn().
			Err(err).
			Str(logging.FieldInstance, e.instanceID).
			Str(logging.FieldReason, reason).
			Int("consecutive_failures", e.consecutiveFailures).
			Msg("failed to acquire leadership")
		e.metrics.acquisitionFailures.WithLabelValues(e.instanceID, reason).Inc()
	case result == 1:
		e.logger.Info().
			Str(logging.FieldInstance, e.instanceID).
			Int("recovered_after_failures", e.consecutiveFailures).
			Msg("ELECTED as leader")
		e.consecutiveFailures = 0
		e.isLeader.Store(true)
		e.metrics.status.WithLabelValues(e.instanceID).Set(1)
		e.metrics.elections.WithLabelValues(e.instanceID).Inc()
		e.invoke(ctx, e.callbacks(&e.onElected), "leader_callback_elected")
	default:
		e.consecutiveFailures = 0
		e.metrics.status.WithLabelValues(e.instanceID).Set(0)
		e.logger.Debug().Str(logging.FieldInstance, e.instanceID).Msg("standing by")
	}
}

func (e *Elector) lose(ctx context.Context) {
	e.isLeader.Store(false)
	e.metrics.status.WithLabelValues(e.instanceID).Set(0)
	e.metrics.losses.WithLabelValues(e.instanceID).Inc()
	e.invoke(ctx, e.callbacks(&e.onLost), "leader_callback_lost")
}

func (e *Elector) callbacks(list *[]Callback) []Callback {
	e.callbackMu.RLock()
	defer e.callbackMu.RUnlock()
	return append([]Callback(nil), (*list)...)
}

func (e *Elector) invoke(ctx context.Context, callbacks []Callback, component string) {
	for _, callback := range callbacks {
		e.wg.Add(1)
		go logging.RecoverGoRoutine(e.logger, component, func(ctx context.Context) {
			defer e.wg.Done()
			callback(ctx)
		})(ctx)
	}
}

// OnElected registers a callback run asynchronously on election.
func (e *Elector) OnElected(callback Callback) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.onElected = append(e.onElected, callback)
}

// OnLost registers a callback run asynchronously when leadership is lost.
func (e *Elector) OnLost(callback Callback) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.onLost = append(e.onLost, callback)
}

// IsLeader reports whether this replica holds the lock. Safe for concurrent use.
func (e *Elector) IsLeader() bool {
	return e.isLeader.Load()
}

// Close stops the election loop and releases the lock for faster failover.
func (e *Elector) Close() {
	if e.cancelFn != nil {
		e.cancelFn()
	}
	e.wg.Wait()

	if e.isLeader.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		released, err := e.releaseScript.Run(ctx, e.redisClient, []string{e.leaderKey}, e.instanceID).Int()
		if err != nil {
			e.logger.Warn().Err(err).Msg("failed to release leader lock on shutdown")
		} else if released == 1 {
			e.logger.Info().Msg("released leader lock on shutdown")
		}
		e.isLeader.Store(false)
		e.metrics.status.WithLabelValues(e.instanceID).Set(0)
	}

	e.logger.Info().Msg("leader elector stopped")
}
