package signer

import (
	"context"
	"time"

	"github.com/staccDOTsol/rebalanc00r/logging"
)

// retry calls fn up to attempts times, sleeping delay between failures.
func retry[T any](
	ctx context.Context,
	logger logging.Logger,
	operation string,
	attempts int,
	delay time.Duration,
	fn func() (T, error),
) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if attempt == attempts {
			break
		}

		logger.Warn().
			Err(err).
			Str(logging.FieldOperation, operation).
			Int(logging.FieldAttempt, attempt).
			Int(logging.FieldMaxRetry, attempts).
			Dur(logging.FieldRetryIn, delay).
			Msg("operation failed, will retry")

		if sleepErr := sleepCtx(ctx, delay); sleepErr != nil {
			return result, sleepErr
		}
	}
	return result, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
