package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/logging"
)

// DefaultCheckpointInterval is how often the blockhash is refreshed.
const DefaultCheckpointInterval = 3 * time.Second

// BlockhashSource returns the latest blockhash and its slot.
type BlockhashSource interface {
	GetLatestBlockhash(ctx context.Context) (ledger.Checkpoint, error)
}

// CheckpointTracker caches the latest blockhash. Readers take a read lock and
// the refresh loop takes the write lock.
type CheckpointTracker struct {
	logger   logging.Logger
	source   BlockhashSource
	interval time.Duration

	mu         sync.RWMutex
	checkpoint ledger.Checkpoint
	ready      bool
}

// NewCheckpointTracker creates a tracker refreshing every interval.
func NewCheckpointTracker(logger logging.Logger, source BlockhashSource, interval time.Duration) *CheckpointTracker {
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	return &CheckpointTracker{
		logger:   logging.ForComponent(logger, logging.ComponentCheckpoint),
		source:   source,
		interval: interval,
	}
}

// Refresh fetches the latest blockhash once.
func (t *CheckpointTracker) Refresh(ctx context.Context) error {
	cp, err := t.source.GetLatestBlockhash(ctx)
	if err != nil {
		checkpointRefreshErrors.Inc()
		return err
	}

	t.mu.Lock()
	// The node may answer from a lagging replica; never move backwards.
	if !t.ready || cp.Slot >= t.checkpoint.Slot {
		t.checkpoint = cp
		t.ready = true
	}
	slot := t.checkpoint.Slot
	t.mu.Unlock()

	checkpointSlot.Set(float64(slot))
	return nil
}

// Run refreshes on every tick until ctx is cancelled. Refresh failures are
// logged and the previous checkpoint stays in use.
func (t *CheckpointTracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
				t.logger.Warn().Err(err).Msg("failed to refresh blockhash checkpoint")
			}
		}
	}
}

// Checkpoint returns the cached checkpoint and whether one was ever fetched.
func (t *CheckpointTracker) Checkpoint() (ledger.Checkpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.checkpoint, t.ready
}
