package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/staccDOTsol/rebalanc00r/logging"
)

// ErrWatcherExhausted is returned when a watcher cannot reconnect within its retry bound.
var ErrWatcherExhausted = errors.New("watcher exhausted reconnection attempts")

// Backoff bounds reconnection attempts.
type Backoff struct {
	// Floor is the first delay. Default: 500ms
	Floor time.Duration `yaml:"floor"`
	// Ceiling caps the doubling delay. Default: 5s
	Ceiling time.Duration `yaml:"ceiling"`
	// MaxRetries is the number of consecutive failed connects tolerated
	// before giving up. Default: 3
	MaxRetries int `yaml:"max_retries"`
}

// DefaultBackoff returns 500ms doubling to 5s with 3 retries.
func DefaultBackoff() Backoff {
	return Backoff{Floor: 500 * time.Millisecond, Ceiling: 5 * time.Second, MaxRetries: 3}
}

func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.Floor <= 0 {
		b.Floor = def.Floor
	}
	if b.Ceiling < b.Floor {
		b.Ceiling = def.Ceiling
		if b.Ceiling < b.Floor {
			b.Ceiling = b.Floor
		}
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = def.MaxRetries
	}
	return b
}

// next doubles current, capped at the ceiling.
func (b Backoff) next(current time.Duration) time.Duration {
	next := current * 2
	if next > b.Ceiling {
		return b.Ceiling
	}
	return next
}

// ConnectFunc opens a stream.
type ConnectFunc func(ctx context.Context) (Subscription, error)

// HandlerFunc consumes one notification.
type HandlerFunc func(ctx context.Context, n Notification)

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Watcher keeps a subscription alive. Connect failures back off exponentially
// and the retry counter resets on every successful connect.
type Watcher struct {
	logger  logging.Logger
	name    string
	connect ConnectFunc
	handle  HandlerFunc
	backoff Backoff
	sleep   SleepFunc
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithBackoff overrides the reconnection backoff.
func WithBackoff(b Backoff) WatcherOption {
	return func(w *Watcher) { w.backoff = b.withDefaults() }
}

// WithSleep overrides how the watcher waits between attempts.
func WithSleep(sleep SleepFunc) WatcherOption {
	return func(w *Watcher) { w.sleep = sleep }
}

// NewWatcher creates a watcher named name. The name labels logs and metrics.
func NewWatcher(logger logging.Logger, name string, connect ConnectFunc, handle HandlerFunc, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		logger:  logging.ForComponent(logger, logging.ComponentWatcher).With().Str(logging.FieldSource, name).Logger(),
		name:    name,
		connect: connect,
		handle:  handle,
		backoff: DefaultBackoff(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run connects, consumes and reconnects until ctx is cancelled or the retry
// bound is exceeded. It returns ctx.Err() on shutdown and ErrWatcherExhausted
// when it gives up.
func (w *Watcher) Run(ctx context.Context) error {
	delay := w.backoff.Floor
	retries := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		watcherConnectAttempts.WithLabelValues(w.name).Inc()
		sub, err := w.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if retries >= w.backoff.MaxRetries {
				watcherExhausted.WithLabelValues(w.name).Inc()
				w.logger.Error().Err(err).Int(logging.FieldAttempt, retries).Msg("giving up reconnecting")
				return fmt.Errorf("%w: %s after %d retries: %v", ErrWatcherExhausted, w.name, retries, err)
			}

			w.logger.Warn().
				Err(err).
				Int(logging.FieldAttempt, retries+1).
				Int(logging.FieldMaxRetry, w.backoff.MaxRetries).
				Dur(logging.FieldRetryIn, delay).
				Msg("connection failed, will retry")

			if err := w.sleep(ctx, delay); err != nil {
				return err
			}
			retries++
			delay = w.backoff.next(delay)
			continue
		}

		retries = 0
		delay = w.backoff.Floor
		watcherConnected.WithLabelValues(w.name).Inc()
		w.logger.Info().Msg("subscription established")

		err = w.consume(ctx, sub)
		_ = sub.Close()

		if ctx.Err() != nil {
			w.logger.Debug().Msg("subscription closed (shutting down)")
			return ctx.Err()
		}
		w.logger.Warn().Err(err).Msg("subscription dropped, reconnecting")
	}
}

func (w *Watcher) consume(ctx context.Context, sub Subscription) error {
	for {
		n, err := sub.Recv(ctx)
		if err != nil {
			return err
		}
		watcherNotifications.WithLabelValues(w.name).Inc()
		w.handle(ctx, n)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
