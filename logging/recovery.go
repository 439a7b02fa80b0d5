package logging

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PanicRecoveriesTotal counts panics recovered per component.
var PanicRecoveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "panic_recoveries_total",
		Help:      "Total number of panic recoveries by component",
	},
	[]string{"component"},
)

// RecoverGoRoutine wraps a goroutine body with panic recovery.
//
//	go RecoverGoRoutine(logger, "batch_submit", func(ctx context.Context) {
//	    submit(ctx)
//	})(ctx)
func RecoverGoRoutine(logger Logger, component string, fn func(context.Context)) func(context.Context) {
	return func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				PanicRecoveriesTotal.WithLabelValues(component).Inc()
				logger.Error().
					Str(FieldComponent, component).
					Str("panic_value", fmt.Sprintf("%v", r)).
					Str("stack_trace", string(debug.Stack())).
					Msg("PANIC RECOVERED in goroutine")
			}
		}()

		fn(ctx)
	}
}

// RecoverWithLogger runs fn and converts a panic into an error.
func RecoverWithLogger(logger Logger, component string, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			PanicRecoveriesTotal.WithLabelValues(component).Inc()
			logger.Error().
				Str(FieldComponent, component).
				Str(FieldOperation, operation).
				Str("panic_value", fmt.Sprintf("%v", r)).
				Str("stack_trace", string(debug.Stack())).
				Msg("PANIC RECOVERED")
			err = fmt.Errorf("panic recovered in %s: %v", operation, r)
		}
	}()

	return fn()
}
