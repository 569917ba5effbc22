// Package queue provides an unbounded FIFO channel.
package queue

import "sync"

// Unbounded forwards every value sent on In to Out in order, buffering as
// many values as needed so senders never wait on the consumer. Closing In
// drains the buffer and then closes Out.
type Unbounded[T any] struct {
	in      chan T
	out     chan T
	done    chan struct{}
	discard sync.Once
}

// NewUnbounded starts the forwarding goroutine.
func NewUnbounded[T any]() *Unbounded[T] {
	q := &Unbounded[T]{
		in:   make(chan T, 64),
		out:  make(chan T),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// In is the producer side. Multiple producers may send concurrently.
func (q *Unbounded[T]) In() chan<- T { return q.in }

// Out is the consumer side.
func (q *Unbounded[T]) Out() <-chan T { return q.out }

// Close closes the producer side. No sends may follow.
func (q *Unbounded[T]) Close() { close(q.in) }

// Discard is called when the consumer stops reading. Buffered and later
// values are dropped, Out is closed, and the forwarding goroutine exits once
// In is closed. Producers never block after Discard.
func (q *Unbounded[T]) Discard() {
	q.discard.Do(func() { close(q.done) })
}

func (q *Unbounded[T]) run() {
	defer close(q.out)

	var buf []T
	var zero T
	in, done := q.in, q.done
	dropping := false
	for in != nil || len(buf) > 0 {
		var out chan T
		var next T
		if len(buf) > 0 {
			out = q.out
			next = buf[0]
		}
		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			if !dropping {
				buf = append(buf, v)
			}
		case out <- next:
			buf[0] = zero
			buf = buf[1:]
			if len(buf) == 0 {
				// release the backing array once drained
				buf = nil
			}
		case <-done:
			done = nil
			dropping = true
			buf = nil
		}
	}
}
