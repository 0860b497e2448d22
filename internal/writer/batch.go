// Package writer implements the batch writer: it drains the bounded queue,
// groups trades into batches, and hands each batch to the store.
//
// Policy: size-driven (flush at BatchSize) with a secondary 1s
// maximum-latency timer, per the design notes' default recommendation —
// this is the chosen one of the two equivalent scheduling policies the
// specification allows.
package writer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tradeingest/internal/queue"
	"tradeingest/internal/stats"
	"tradeingest/internal/trade"
	"tradeingest/pkg/logger"
)

// DefaultBatchSize matches the spec's primary-variant default.
const DefaultBatchSize = 100

// MaxLatency bounds how long a partial batch waits before being flushed
// even if BatchSize hasn't been reached.
const MaxLatency = time.Second

// ShutdownGrace bounds the final drain-and-flush on shutdown.
const ShutdownGrace = 10 * time.Second

// StoreSaver is the subset of store.Writer the batch writer depends on.
type StoreSaver interface {
	SaveBatch(ctx context.Context, trades []trade.Trade) error
}

// Writer drains a queue.Queue into batches and commits them via a
// StoreSaver. A single Writer must not have Run called concurrently more
// than once: the scheduling model is one consumer task, so there is never
// a concurrent SaveBatch call.
type Writer struct {
	q         *queue.Queue
	store     StoreSaver
	counter   *stats.Counter
	batchSize int
}

// New constructs a Writer. A non-positive batchSize falls back to
// DefaultBatchSize.
func New(q *queue.Queue, store StoreSaver, counter *stats.Counter, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{q: q, store: store, counter: counter, batchSize: batchSize}
}

// Run drains the queue until ctx is cancelled or the queue is closed and
// fully drained, flushing batches of at most batchSize trades. On
// shutdown it performs one final flush of whatever remains, bounded by
// ShutdownGrace.
func (w *Writer) Run(ctx context.Context) error {
	acc := make([]trade.Trade, 0, w.batchSize)
	timer := time.NewTimer(MaxLatency)
	defer timer.Stop()

	flush := func() {
		if len(acc) == 0 {
			return
		}
		w.commit(ctx, acc)
		acc = acc[:0]
	}
	resetTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(MaxLatency)
	}

	for {
		select {
		case t := <-w.q.C():
			acc = append(acc, t)
			if len(acc) >= w.batchSize {
				flush()
				resetTimer()
			}

		case <-timer.C:
			flush()
			resetTimer()

		case <-w.q.ClosedChan():
			w.drainRemainderAndFlush(ctx, &acc)
			return nil

		case <-ctx.Done():
			w.shutdownDrainAndFlush(&acc)
			return ctx.Err()
		}
	}
}

// drainRemainderAndFlush is reached when the queue has been closed for
// writes (ordinary shutdown via the supervisor): drain whatever is still
// buffered, non-blocking, then flush even a partial final batch.
func (w *Writer) drainRemainderAndFlush(ctx context.Context, acc *[]trade.Trade) {
	for {
		select {
		case t := <-w.q.C():
			*acc = append(*acc, t)
			if len(*acc) >= w.batchSize {
				w.commit(ctx, *acc)
				*acc = (*acc)[:0]
			}
		default:
			w.commit(ctx, *acc)
			*acc = (*acc)[:0]
			return
		}
	}
}

// shutdownDrainAndFlush handles ctx cancellation directly (e.g. a crashed
// supervisor skipping the queue-close step): bounded by ShutdownGrace, it
// drains what it can with a background context since ctx is already done.
func (w *Writer) shutdownDrainAndFlush(acc *[]trade.Trade) {
	bg, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()

	for {
		select {
		case t := <-w.q.C():
			*acc = append(*acc, t)
			if len(*acc) >= w.batchSize {
				w.commit(bg, *acc)
				*acc = (*acc)[:0]
			}
		case <-bg.Done():
			w.commit(bg, *acc)
			*acc = (*acc)[:0]
			return
		default:
			if len(*acc) == 0 {
				return
			}
			w.commit(bg, *acc)
			*acc = (*acc)[:0]
			return
		}
	}
}

// commit calls SaveBatch, recording elapsed wall time and only advancing
// the counter on success. A store error is logged and the batch is
// discarded; the writer itself never crashes on a store error.
func (w *Writer) commit(ctx context.Context, batch []trade.Trade) {
	if len(batch) == 0 {
		return
	}
	cp := make([]trade.Trade, len(batch))
	copy(cp, batch)

	start := time.Now()
	err := w.store.SaveBatch(ctx, cp)
	elapsed := time.Since(start)

	if err != nil {
		logger.Error(ctx, "writer: batch save failed, dropping batch",
			zap.Error(err), zap.Int("size", len(cp)), zap.Duration("elapsed", elapsed))
		return
	}

	logger.Debug(ctx, "writer: batch flushed",
		zap.Int("size", len(cp)), zap.Duration("elapsed", elapsed))
	if w.counter != nil {
		w.counter.Add(uint64(len(cp)))
	}
}
