//go:build test

package tasks

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/staccDOTsol/rebalanc00r/testutil"
)

func taskForSeed(seed int) TaskInput {
	b := testutil.NewRequestBuilder(seed).WithNumBytes(8)
	acct := b.Account()
	return FromRequestAccount(b.Address(), &acct)
}

func TestQueue_FIFOAndDedup(t *testing.T) {
	q := NewQueue(nil)

	a, b := taskForSeed(1), taskForSeed(2)
	require.True(t, q.Push(a))
	require.True(t, q.Push(b))
	require.False(t, q.Push(a), "request already in flight")
	require.Equal(t, 2, q.Len())

	got, ok := q.Steal()
	require.True(t, ok)
	require.Equal(t, a.Request, got.Request)

	// Still in flight after steal until released.
	require.False(t, q.Push(a))

	got, ok = q.Steal()
	require.True(t, ok)
	require.Equal(t, b.Request, got.Request)

	_, ok = q.Steal()
	require.False(t, ok)

	q.Release(a.Request)
	require.True(t, q.Push(a))
}

func TestQueue_Requeue(t *testing.T) {
	q := NewQueue(nil)
	task := taskForSeed(3)
	require.True(t, q.Push(task))

	got, ok := q.Steal()
	require.True(t, ok)
	q.Requeue(got)
	require.Equal(t, 1, q.Len())
	require.True(t, q.InFlight().Contains(task.Request))
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue(nil)

	const producers = 16
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				// Every producer pushes the same request set; only one push wins per request.
				q.Push(taskForSeed(i))
			}
		}(p)
	}
	wg.Wait()

	require.Equal(t, perProducer, q.Len())
	require.Equal(t, perProducer, q.InFlight().Size())

	seen := make(map[string]bool)
	for {
		task, ok := q.Steal()
		if !ok {
			break
		}
		require.False(t, seen[task.Request.String()])
		seen[task.Request.String()] = true
	}
	require.Len(t, seen, perProducer)
}

func TestQueue_CompactsAfterManySteals(t *testing.T) {
	q := NewQueue(nil)
	for i := 0; i < 500; i++ {
		require.True(t, q.Push(taskForSeed(i)))
	}
	for i := 0; i < 400; i++ {
		got, ok := q.Steal()
		require.True(t, ok)
		require.Equal(t, taskForSeed(i).Request, got.Request)
	}
	require.Equal(t, 100, q.Len())

	got, ok := q.Steal()
	require.True(t, ok)
	require.Equal(t, taskForSeed(400).Request, got.Request)
}

func TestOutbox_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	o := NewOutbox[int]()
	for i := 0; i < 100; i++ {
		require.True(t, o.Send(i))
	}
	o.Close()
	require.False(t, o.Send(100))

	var got []int
	for v := range o.Receive() {
		got = append(got, v)
	}
	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}
