package tasks

import "sync"

// Outbox is an unbounded multi-producer channel. Send never blocks; the
// consumer reads from Receive, which is closed after Close once every
// buffered item was delivered.
type Outbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	closed bool
	out    chan T
}

// NewOutbox creates an outbox and starts its forwarding goroutine.
func NewOutbox[T any]() *Outbox[T] {
	o := &Outbox[T]{out: make(chan T)}
	o.cond = sync.NewCond(&o.mu)
	go o.forward()
	return o
}

// Send buffers v. It returns false if the outbox is closed.
func (o *Outbox[T]) Send(v T) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.buf = append(o.buf, v)
	o.cond.Signal()
	return true
}

// Receive returns the consumer channel.
func (o *Outbox[T]) Receive() <-chan T {
	return o.out
}

// Close stops accepting sends. Buffered items are still delivered.
func (o *Outbox[T]) Close() {
	o.mu.Lock()
	o.closed = true
	o.cond.Signal()
	o.mu.Unlock()
}

// Len returns the number of buffered items.
func (o *Outbox[T]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buf)
}

func (o *Outbox[T]) forward() {
	defer close(o.out)
	for {
		o.mu.Lock()
		for len(o.buf) == 0 && !o.closed {
			o.cond.Wait()
		}
		if len(o.buf) == 0 && o.closed {
			o.mu.Unlock()
			return
		}
		v := o.buf[0]
		var zero T
		o.buf[0] = zero
		o.buf = o.buf[1:]
		o.mu.Unlock()

		o.out <- v
	}
}
