package lease

import "sync"

// ingress is an unbounded FIFO between external producers and the loop
// goroutine. Sends never block on a slow consumer; values accumulate in
// memory instead, so backpressure takes the form of memory growth, never a
// stalled delivery stream. ready carries a coalesced signal the loop can
// select on while idle.
type ingress[T any] struct {
	mu     sync.Mutex
	buf    []T
	closed bool
	notify chan struct{}
}

func newIngress[T any]() *ingress[T] {
	return &ingress[T]{notify: make(chan struct{}, 1)}
}

// send enqueues v. Values sent after close are dropped.
func (q *ingress[T]) send(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.buf = append(q.buf, v)
	q.mu.Unlock()
	q.wake()
}

// close marks the end of the stream. Values already buffered remain
// receivable; tryRecv reports done once they are gone.
func (q *ingress[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *ingress[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// tryRecv pops the oldest buffered value without blocking. done reports that
// the ingress is closed and fully drained.
func (q *ingress[T]) tryRecv() (v T, ok bool, done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) > 0 {
		v = q.buf[0]
		q.buf = q.buf[1:]
		return v, true, false
	}
	return v, false, q.closed
}

// ready signals that a send or close happened. The signal is coalesced; a
// receiver must re-check tryRecv until empty rather than count wakeups.
func (q *ingress[T]) ready() <-chan struct{} {
	return q.notify
}
