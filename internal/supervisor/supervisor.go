// Package supervisor implements the lifecycle owner (component G): it
// starts every component in dependency order and, on shutdown, cancels
// the upstream client first, then closes the queue for writes, then
// waits a bounded grace period for the batch writer to drain and flush
// the remainder before releasing resources.
//
// Adapted from pkg/safe's panic-recovering goroutine launch and the
// signal-context/ordered-shutdown shape of internal/quotes/main.go's
// main, intentionally smaller than the teacher's pkg/bootstrap.Run: no
// gRPC, no service discovery, no circuit breaker — this service has no
// fan-out service mesh to govern.
package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tradeingest/internal/binance"
	"tradeingest/internal/config"
	"tradeingest/internal/operator"
	"tradeingest/internal/queue"
	"tradeingest/internal/reconfig"
	"tradeingest/internal/stats"
	"tradeingest/internal/store"
	"tradeingest/internal/symbols"
	"tradeingest/internal/writer"
	"tradeingest/pkg/logger"
	"tradeingest/pkg/safe"
)

// Options configures the components the supervisor wires together.
type Options struct {
	StreamBaseURL string // e.g. "wss://stream.binance.com:9443"
	QueueCapacity int    // 0 uses queue.DefaultCapacity
	BatchSize     int    // used only when the config's BatchSize is not positive; 0 then uses writer.DefaultBatchSize
}

// Supervisor owns every long-running task and the shared queue and
// counter that couple them.
type Supervisor struct {
	opts Options

	storeWriter *store.Writer
	q           *queue.Queue
	counter     *stats.Counter
	batchWriter *writer.Writer
	resolver    *symbols.Resolver
	client      *binance.Client
	reconCtl    *reconfig.Controller
	opReader    *operator.Reader
}

// New wires every component from the config watcher and a live store
// connection. connString is resolved by the caller (from the environment
// variable, else the config file); a blank value is the caller's
// fatal-startup error to raise, not New's.
func New(ctx context.Context, cfgWatcher *config.Watcher, connString string, opts Options) (*Supervisor, error) {
	storeWriter, err := store.NewWriter(ctx, connString)
	if err != nil {
		return nil, err
	}

	q := queue.New(opts.QueueCapacity)
	counter := stats.New()
	batchSize := opts.BatchSize
	if cur := cfgWatcher.Current(); cur.BatchSize > 0 {
		batchSize = cur.BatchSize
	}
	bw := writer.New(q, storeWriter, counter, batchSize)

	resolver := symbols.New(cfgWatcher, symbols.NewHTTPReferenceLookup())
	client := binance.NewClient(opts.StreamBaseURL, resolver, q)
	reconCtl := reconfig.New(resolver, client, cfgWatcher.Subscribe())
	opReader := operator.New(counter)

	return &Supervisor{
		opts:        opts,
		storeWriter: storeWriter,
		q:           q,
		counter:     counter,
		batchWriter: bw,
		resolver:    resolver,
		client:      client,
		reconCtl:    reconCtl,
		opReader:    opReader,
	}, nil
}

// Counter exposes the persisted-trade counter for callers (e.g. an HTTP
// health/metrics handler) that want to read it outside the operator
// command reader.
func (s *Supervisor) Counter() *stats.Counter { return s.counter }

// Run starts every component and blocks until ctx is cancelled, then
// performs the ordered shutdown: cancel the upstream client, close the
// queue for writes, wait up to writer.ShutdownGrace for the final flush,
// then release the store connection.
func (s *Supervisor) Run(ctx context.Context) error {
	upstreamCtx, cancelUpstream := context.WithCancel(context.Background())
	defer cancelUpstream()

	writerDone := make(chan struct{})
	// critical=true: spec.md §7 names a crashed batch writer loop as one of
	// only two conditions (with startup misconfiguration) that should
	// terminate the process, since nothing else drains the queue.
	safe.GoCtx(context.Background(), "batch_writer", true, func(bg context.Context) {
		defer close(writerDone)
		if err := s.batchWriter.Run(bg); err != nil {
			logger.Warn(bg, "supervisor: batch writer stopped", zap.Error(err))
		}
	})

	safe.GoCtx(upstreamCtx, "upstream_client", false, func(c context.Context) {
		if err := s.client.Run(c); err != nil && c.Err() == nil {
			logger.Warn(c, "supervisor: upstream client stopped unexpectedly", zap.Error(err))
		}
	})

	safe.GoCtx(ctx, "reconfig_controller", false, func(c context.Context) {
		if err := s.reconCtl.Run(c); err != nil && c.Err() == nil {
			logger.Warn(c, "supervisor: reconfiguration controller stopped unexpectedly", zap.Error(err))
		}
	})

	safe.GoCtx(ctx, "operator_reader", false, func(c context.Context) {
		if err := s.opReader.Run(c); err != nil && c.Err() == nil {
			logger.Warn(c, "supervisor: operator command reader stopped unexpectedly", zap.Error(err))
		}
	})

	<-ctx.Done()
	logger.Info(ctx, "supervisor: shutdown initiated")

	cancelUpstream()
	s.q.Close()

	select {
	case <-writerDone:
	case <-time.After(writer.ShutdownGrace):
		logger.Warn(context.Background(), "supervisor: batch writer did not drain within shutdown grace")
	}

	s.storeWriter.Close()
	logger.Info(context.Background(), "supervisor: shutdown complete")
	return nil
}
