package tasks

import (
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/puzpuzpuz/xsync/v4"
)

// InFlight tracks request addresses between discovery and settlement so the
// log stream and the reconciliation scan never queue the same request twice.
type InFlight struct {
	m *xsync.Map[solana.PublicKey, struct{}]
}

// NewInFlight creates an empty set.
func NewInFlight() *InFlight {
	return &InFlight{m: xsync.NewMap[solana.PublicKey, struct{}]()}
}

// Acquire marks request in flight. It returns false if it already was.
func (f *InFlight) Acquire(request solana.PublicKey) bool {
	_, loaded := f.m.LoadOrStore(request, struct{}{})
	return !loaded
}

// Release clears request.
func (f *InFlight) Release(request solana.PublicKey) {
	f.m.Delete(request)
}

// Contains reports whether request is in flight.
func (f *InFlight) Contains(request solana.PublicKey) bool {
	_, ok := f.m.Load(request)
	return ok
}

// Size returns the number of requests in flight.
func (f *InFlight) Size() int {
	return f.m.Size()
}

// Queue is a FIFO of uncompiled tasks. Push never blocks.
type Queue struct {
	inflight *InFlight

	mu    sync.Mutex
	items []TaskInput
	head  int
}

// NewQueue creates an empty queue deduplicating through inflight.
func NewQueue(inflight *InFlight) *Queue {
	if inflight == nil {
		inflight = NewInFlight()
	}
	return &Queue{inflight: inflight}
}

// Push enqueues task unless its request is already in flight.
func (q *Queue) Push(task TaskInput) bool {
	if !q.inflight.Acquire(task.Request) {
		tasksDeduplicated.Inc()
		return false
	}
	q.append(task)
	tasksQueued.Inc()
	return true
}

// Requeue puts back a task that is already in flight, e.g. after a failed compile.
func (q *Queue) Requeue(task TaskInput) {
	q.append(task)
	tasksRequeued.Inc()
}

// Steal pops the oldest task.
func (q *Queue) Steal() (TaskInput, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return TaskInput{}, false
	}
	task := q.items[q.head]
	q.items[q.head] = TaskInput{}
	q.head++

	// Compact once the consumed prefix dominates.
	if q.head > 64 && q.head*2 >= len(q.items) {
		q.items = append(q.items[:0:0], q.items[q.head:]...)
		q.head = 0
	}
	queueDepth.Set(float64(len(q.items) - q.head))
	return task, true
}

// Release marks request no longer in flight.
func (q *Queue) Release(request solana.PublicKey) {
	q.inflight.Release(request)
}

// InFlight returns the dedup set.
func (q *Queue) InFlight() *InFlight {
	return q.inflight
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *Queue) append(task TaskInput) {
	q.mu.Lock()
	q.items = append(q.items, task)
	depth := len(q.items) - q.head
	q.mu.Unlock()
	queueDepth.Set(float64(depth))
}
