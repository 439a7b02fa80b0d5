package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var ErrConfirmationTimeout = errors.New("transaction not confirmed before deadline")

// TransactionFailedError is a transaction that landed with an error.
type TransactionFailedError struct {
	Signature solana.Signature
	Err       interface{}
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Signature, e.Err)
}

// ConfirmOptions controls signature status polling.
type ConfirmOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
	// Level is the lowest confirmation status accepted. Defaults to confirmed.
	Level rpc.ConfirmationStatusType
}

// DefaultConfirmOptions polls every 500ms for up to 60s, roughly the
// lifetime of a blockhash.
func DefaultConfirmOptions() ConfirmOptions {
	return ConfirmOptions{
		PollInterval: 500 * time.Millisecond,
		Timeout:      60 * time.Second,
		Level:        rpc.ConfirmationStatusConfirmed,
	}
}

// WaitForConfirmation polls the status of sig until it reaches opts.Level,
// fails, or the timeout elapses.
func WaitForConfirmation(ctx context.Context, client Client, sig solana.Signature, opts ConfirmOptions) (*SignatureStatus, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultConfirmOptions().PollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultConfirmOptions().Timeout
	}
	if opts.Level == "" {
		opts.Level = DefaultConfirmOptions().Level
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		status, err := client.GetSignatureStatus(ctx, sig)
		if err == nil && status != nil {
			if status.Err != nil {
				return status, &TransactionFailedError{Signature: sig, Err: status.Err}
			}
			if reached(status.ConfirmationStatus, opts.Level) {
				return status, nil
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrConfirmationTimeout, sig)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func reached(status, level rpc.ConfirmationStatusType) bool {
	rank := func(s rpc.ConfirmationStatusType) int {
		switch s {
		case rpc.ConfirmationStatusProcessed:
			return 1
		case rpc.ConfirmationStatusConfirmed:
			return 2
		case rpc.ConfirmationStatusFinalized:
			return 3
		default:
			return 0
		}
	}
	return rank(status) > 0 && rank(status) >= rank(level)
}
