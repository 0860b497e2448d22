// Package safe wraps goroutine launches so a panic in one component is
// recovered, logged, and reported instead of taking the whole process
// down with it — except for the one task the pipeline cannot run
// without. Every supervisor-launched goroutine carries a task label so a
// panic shows up in both the log line and the panic counter attributed
// to the component that crashed, not as an anonymous goroutine.
package safe

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"tradeingest/pkg/logger"
)

// panicsTotal counts goroutine panics recovered here, labeled by task,
// mirroring internal/stats's promauto counter so a component that is
// crash-looping is visible on /metrics rather than only in the log.
var panicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_goroutine_panics_total",
	Help: "Total number of goroutine panics recovered, by task.",
}, []string{"task"})

// Go launches fn in its own goroutine under task, recovering and
// reporting any panic. A panic in a Go-launched task is never fatal: the
// goroutine simply ends.
func Go(task string, fn func()) {
	go func() {
		defer recoverAndReport(context.Background(), task, false)
		fn()
	}()
}

// GoCtx launches fn with ctx in its own goroutine under task, recovering
// and reporting any panic with the context's trace id attached.
//
// critical marks a task whose loop the pipeline cannot run without:
// spec.md §7's propagation policy singles out "a crashed batch writer
// loop" as one of only two conditions that should terminate the process
// (the other being startup misconfiguration, handled in cmd/ingestd).
// When a critical task panics, the process exits after the panic is
// logged and counted rather than silently leaving trades queued with no
// reader; non-critical tasks (the upstream client, the reconfiguration
// controller, the operator command reader) simply stop.
func GoCtx(ctx context.Context, task string, critical bool, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer recoverAndReport(ctx, task, critical)
		fn(ctx)
	}()
}

func recoverAndReport(ctx context.Context, task string, critical bool) {
	r := recover()
	if r == nil {
		return
	}
	stack := string(debug.Stack())
	panicsTotal.WithLabelValues(task).Inc()

	if logger.Log != nil {
		logger.Error(ctx, "goroutine panic recovered",
			zap.String("task", task),
			zap.Any("panic", r),
			zap.String("stack", stack),
		)
	} else {
		fmt.Printf("goroutine panic in task %q: %v\nstack: %s\n", task, r, stack)
	}

	if critical {
		logger.Sync()
		os.Exit(1)
	}
}
