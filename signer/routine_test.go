//go:build test

package signer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/testutil"
)

type staticAccounts struct {
	service  *ledger.ServiceAccount
	interval int64
}

func (s staticAccounts) ServiceData() *ledger.ServiceAccount { return s.service }
func (s staticAccounts) RotationInterval() int64 { return s.interval }

type fixedLeader struct{ leader atomic.Bool }

func (f *fixedLeader) IsLeader() bool { return f.leader.Load() }

func TestRotationRoutine_Check(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	fresh := &ledger.ServiceAccount{Enclave: ledger.EnclaveData{
		EnclaveSigner:         testutil.DeterministicKey("signer"),
		VerificationTimestamp: now.Unix() - 10,
	}}
	stale := &ledger.ServiceAccount{Enclave: ledger.EnclaveData{
		EnclaveSigner:         testutil.DeterministicKey("signer"),
		VerificationTimestamp: now.Unix() - 7200,
	}}
	unset := &ledger.ServiceAccount{}

	tests := []struct {
		name    string
		service *ledger.ServiceAccount
		want    bool
	}{
		{"no signer recorded", unset, true},
		{"interval elapsed", stale, true},
		{"fresh signer", fresh, false},
		{"service not loaded", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signals := make(chan struct{}, 1)
			r := NewRotationRoutine(testLogger(), "", staticAccounts{service: tt.service, interval: 3600}, signals, nil)
			r.now = func() time.Time { return now }

			require.Equal(t, tt.want, r.Check())
			require.Equal(t, tt.want, len(signals) == 1)
		})
	}
}

func TestRotationRoutine_CoalescesPendingSignals(t *testing.T) {
	signals := make(chan struct{}, 1)
	r := NewRotationRoutine(testLogger(), "", staticAccounts{service: &ledger.ServiceAccount{}}, signals, nil)

	require.True(t, r.Check())
	require.True(t, r.Check())
	require.Len(t, signals, 1)
}

func TestRotationRoutine_SkipsOnFollowers(t *testing.T) {
	signals := make(chan struct{}, 1)
	leader := &fixedLeader{}
	r := NewRotationRoutine(testLogger(), "", staticAccounts{service: &ledger.ServiceAccount{}}, signals, leader)

	require.False(t, r.Check())
	require.Len(t, signals, 0)

	leader.leader.Store(true)
	require.True(t, r.Check())
	require.Len(t, signals, 1)
}

func TestRotationRoutine_RunFiresOnSchedule(t *testing.T) {
	signals := make(chan struct{}, 1)
	r := NewRotationRoutine(testLogger(), "@every 1s", staticAccounts{service: &ledger.ServiceAccount{}}, signals, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// No immediate first tick.
	require.Len(t, signals, 0)

	select {
	case <-signals:
	case <-time.After(3 * time.Second):
		t.Fatal("no rotation signal on schedule")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRotationRoutine_InvalidSchedule(t *testing.T) {
	r := NewRotationRoutine(testLogger(), "every now and then", staticAccounts{}, make(chan struct{}, 1), nil)
	require.Error(t, r.Run(context.Background()))
}
