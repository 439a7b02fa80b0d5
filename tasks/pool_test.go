//go:build test

package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/staccDOTsol/rebalanc00r/testutil"
)

func newTestPool(enclave *testutil.FakeEnclave, workers int) (*WorkerPool, *Queue, *ResultStore, *Outbox[CompiledTask]) {
	queue := NewQueue(nil)
	store := NewResultStore(testLogger(), nil, time.Hour)
	outbox := NewOutbox[CompiledTask]()
	pool := NewWorkerPool(testLogger(), PoolConfig{
		Workers:           workers,
		CompileAttempts:   3,
		CompileRetryDelay: time.Millisecond,
		IdleSleep:         5 * time.Millisecond,
	}, queue, enclave, store, outbox)
	return pool, queue, store, outbox
}

func receive(t *testing.T, outbox *Outbox[CompiledTask]) CompiledTask {
	t.Helper()
	select {
	case c := <-outbox.Receive():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no compiled task")
		return CompiledTask{}
	}
}

func TestWorkerPool_CompilesQueuedTasks(t *testing.T) {
	enclave := &testutil.FakeEnclave{}
	pool, queue, _, outbox := newTestPool(enclave, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	want := map[string]bool{}
	for i := 0; i < 20; i++ {
		task := taskForSeed(i)
		want[task.Request.String()] = true
		require.True(t, queue.Push(task))
	}

	for i := 0; i < 20; i++ {
		compiled := receive(t, outbox)
		require.Len(t, compiled.Result, 8)
		require.True(t, want[compiled.Request().String()])
		delete(want, compiled.Request().String())
	}
	require.Empty(t, want)

	pool.Shutdown()
	pool.Wait()
}

func TestWorkerPool_RequeuesOnCompileFailureWithoutReRoll(t *testing.T) {
	enclave := &testutil.FakeEnclave{}
	// Exhaust the first compile's three attempts.
	enclave.FailRandom.Store(3)

	pool, queue, store, outbox := newTestPool(enclave, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := taskForSeed(42)
	require.True(t, queue.Push(task))
	pool.Start(ctx)

	compiled := receive(t, outbox)
	require.Equal(t, task.Request, compiled.Request())
	require.Equal(t, int32(4), enclave.RandomCalls.Load())

	// A later compile of the same request (e.g. after reconciliation) returns the stored bytes.
	again, err := pool.Compile(ctx, task)
	require.NoError(t, err)
	require.Equal(t, compiled.Result, again.Result)
	require.Equal(t, int32(4), enclave.RandomCalls.Load(), "stored result is reused")

	stored, ok, err := store.Get(ctx, task.Request)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, compiled.Result, stored)

	pool.Shutdown()
	pool.Wait()
}

func TestWorkerPool_DropsInvalidTasks(t *testing.T) {
	enclave := &testutil.FakeEnclave{}
	pool, queue, _, _ := newTestPool(enclave, 1)

	task := taskForSeed(7)
	task.NumBytes = 0
	require.True(t, queue.Push(task))

	_, err := pool.Compile(context.Background(), task)
	require.ErrorIs(t, err, ErrInvalidTask)

	unknown := taskForSeed(8)
	unknown.Kind = KindUnknown
	_, err = pool.Compile(context.Background(), unknown)
	require.ErrorIs(t, err, ErrInvalidTask)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		return !queue.InFlight().Contains(task.Request)
	}, time.Second, 5*time.Millisecond, "invalid task is released")

	pool.Shutdown()
	pool.Wait()
	require.Equal(t, int32(0), enclave.RandomCalls.Load())
}

func TestWorkerPool_ShutdownDrainsQueue(t *testing.T) {
	enclave := &testutil.FakeEnclave{}
	pool, queue, _, outbox := newTestPool(enclave, 2)

	for i := 0; i < 10; i++ {
		require.True(t, queue.Push(taskForSeed(i)))
	}

	// Signal shutdown before starting: workers still drain the queue first.
	pool.Shutdown()
	pool.Start(context.Background())

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()

	for i := 0; i < 10; i++ {
		receive(t, outbox)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not exit after draining")
	}
	require.Equal(t, 0, queue.Len())
}

func TestWorkerPool_DropsWhenOutboxClosed(t *testing.T) {
	enclave := &testutil.FakeEnclave{}
	pool, queue, _, outbox := newTestPool(enclave, 1)
	outbox.Close()

	task := taskForSeed(9)
	require.True(t, queue.Push(task))
	pool.Shutdown()
	pool.Start(context.Background())
	pool.Wait()

	require.False(t, queue.InFlight().Contains(task.Request))
}
