//go:build test

package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/staccDOTsol/rebalanc00r/ledger"
)

type scriptedBlockhashes struct {
	mu      sync.Mutex
	results []ledger.Checkpoint
	errs    []error
	calls   int
}

func (s *scriptedBlockhashes) GetLatestBlockhash(context.Context) (ledger.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return ledger.Checkpoint{}, s.errs[i]
	}
	if i >= len(s.results) {
		return s.results[len(s.results)-1], nil
	}
	return s.results[i], nil
}

func TestCheckpointTracker_Refresh(t *testing.T) {
	first := ledger.Checkpoint{Blockhash: solana.Hash{1}, Slot: 100}
	lagging := ledger.Checkpoint{Blockhash: solana.Hash{2}, Slot: 90}
	second := ledger.Checkpoint{Blockhash: solana.Hash{3}, Slot: 110}

	source := &scriptedBlockhashes{
		results: []ledger.Checkpoint{first, {}, lagging, second},
		errs:    []error{nil, errors.New("rpc down")},
	}
	tracker := NewCheckpointTracker(testLogger(), source, time.Second)

	_, ok := tracker.Checkpoint()
	require.False(t, ok)

	ctx := context.Background()
	require.NoError(t, tracker.Refresh(ctx))
	cp, ok := tracker.Checkpoint()
	require.True(t, ok)
	require.Equal(t, first, cp)

	require.Error(t, tracker.Refresh(ctx))
	cp, _ = tracker.Checkpoint()
	require.Equal(t, first, cp, "failed refresh keeps the previous checkpoint")

	require.NoError(t, tracker.Refresh(ctx))
	cp, _ = tracker.Checkpoint()
	require.Equal(t, first, cp, "older slot is ignored")

	require.NoError(t, tracker.Refresh(ctx))
	cp, _ = tracker.Checkpoint()
	require.Equal(t, second, cp)
}

func TestCheckpointTracker_Run(t *testing.T) {
	source := &scriptedBlockhashes{results: []ledger.Checkpoint{{Blockhash: solana.Hash{9}, Slot: 5}}}
	tracker := NewCheckpointTracker(testLogger(), source, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := tracker.Checkpoint()
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
