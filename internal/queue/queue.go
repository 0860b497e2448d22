// Package queue implements the bounded, single-reader, multi-writer FIFO
// that couples the upstream client to the batch writer.
package queue

import (
	"context"
	"errors"
	"sync"

	"tradeingest/internal/trade"
)

// DefaultCapacity is the queue capacity used in production; tests use
// smaller capacities to exercise back-pressure without needing thousands
// of trades.
const DefaultCapacity = 50_000

// ErrClosed is returned by Offer once the queue has been closed.
var ErrClosed = errors.New("queue: closed")

// Queue is a fixed-capacity FIFO of trade.Trade. It is safe for concurrent
// Offer calls from multiple producers; DrainNext is intended for a single
// reader, matching the batch writer's single-consumer scheduling model.
//
// The underlying channel is never closed directly — closing a channel that
// a producer may still be sending on panics. Instead Close signals a
// separate done channel; producers racing with Close observe ErrClosed
// instead of panicking, and the reader keeps draining whatever was already
// buffered before reporting end-of-stream.
type Queue struct {
	ch     chan trade.Trade
	closed chan struct{}
	once   sync.Once
}

// New creates a queue with the given capacity. A non-positive capacity
// falls back to DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ch:     make(chan trade.Trade, capacity),
		closed: make(chan struct{}),
	}
}

// Offer enqueues t, blocking while the queue is full. It returns ctx.Err()
// if ctx is cancelled before the trade could be enqueued, and ErrClosed if
// the queue has already been closed. Cancellation here is never logged as
// an error by callers: it signals ordinary shutdown.
func (q *Queue) Offer(ctx context.Context, t trade.Trade) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- t:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainNext blocks until at least one trade is available, returning it
// along with ok=true. ok is false once the queue is closed and fully
// drained, signalling end-of-stream to the reader, or once ctx is done.
func (q *Queue) DrainNext(ctx context.Context) (trade.Trade, bool) {
	select {
	case t := <-q.ch:
		return t, true
	default:
	}
	select {
	case t := <-q.ch:
		return t, true
	case <-q.closed:
		select {
		case t := <-q.ch:
			return t, true
		default:
			return trade.Trade{}, false
		}
	case <-ctx.Done():
		return trade.Trade{}, false
	}
}

// TryDrainUpTo performs a non-blocking drain of up to n trades. It returns
// fewer than n trades, or none, without blocking.
func (q *Queue) TryDrainUpTo(n int) []trade.Trade {
	if n <= 0 {
		return nil
	}
	out := make([]trade.Trade, 0, n)
	for len(out) < n {
		select {
		case t := <-q.ch:
			out = append(out, t)
		default:
			return out
		}
	}
	return out
}

// C returns the underlying channel for callers that need to multiplex a
// drain with other select cases (timers, a closed signal). Intended for
// the single designated reader only, per the single-reader contract.
func (q *Queue) C() <-chan trade.Trade {
	return q.ch
}

// ClosedChan returns a channel that is closed once Close has been called,
// for callers multiplexing drain with shutdown in a select statement.
func (q *Queue) ClosedChan() <-chan struct{} {
	return q.closed
}

// Closed reports whether Close has been called, for readers that want to
// know end-of-stream is imminent without blocking on DrainNext.
func (q *Queue) Closed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Close prevents further offers from succeeding and allows the reader to
// observe end-of-stream once remaining items are drained. Safe to call more
// than once.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.closed) })
}

// Len reports the number of trades currently buffered. Approximate once
// concurrent producers are active; useful for observability only.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the configured capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
