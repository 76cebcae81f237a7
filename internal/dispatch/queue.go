// Package dispatch carries work from the job scheduler's goroutine into the
// process's primary loop. Fired-job callbacks construct a unit of work and
// submit it here instead of touching primary-loop-owned state (the messaging
// client, the timezone caches, conversation state) directly.
package dispatch

import "context"

// Queue is a single-consumer work queue. Submit may be called from any
// goroutine; the primary loop drains C and executes the work.
type Queue struct {
	ch chan func(context.Context)
}

// New creates a Queue with the given buffer.
func New(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 64
	}
	return &Queue{ch: make(chan func(context.Context), buffer)}
}

// Submit enqueues work. It blocks only while the buffer is full; the submitter
// never waits for the work itself to run.
func (q *Queue) Submit(f func(context.Context)) {
	q.ch <- f
}

// C exposes the receive side for the primary loop's select.
func (q *Queue) C() <-chan func(context.Context) {
	return q.ch
}
