// Package operator implements the operator command reader (component J):
// it polls standard input for a single keypress and reports the current
// persisted-trade count through the log sink when the operator presses
// space.
package operator

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"tradeingest/pkg/logger"
)

// pollInterval matches the spec's 100ms keypress poll.
const pollInterval = 100 * time.Millisecond

const spaceKey = ' '

// Counter is the subset of stats.Counter the reader depends on.
type Counter interface {
	Value() uint64
}

// Reader polls os.Stdin for a space keypress and logs the counter value
// when one is seen. If stdin is not a terminal (e.g. running under a
// process supervisor with no attached console), Run degrades to a no-op
// that simply waits for ctx to be cancelled, since there is no keypress
// to poll.
type Reader struct {
	counter Counter
	stdin   *os.File
}

// New constructs a Reader over os.Stdin.
func New(counter Counter) *Reader {
	return &Reader{counter: counter, stdin: os.Stdin}
}

// Run polls for a space keypress every 100ms until ctx is cancelled.
func (r *Reader) Run(ctx context.Context) error {
	fd := int(r.stdin.Fd())
	if !term.IsTerminal(fd) {
		logger.Debug(ctx, "operator: stdin is not a terminal, keypress reporting disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		logger.Warn(ctx, "operator: failed to enter raw mode, keypress reporting disabled", zap.Error(err))
		<-ctx.Done()
		return ctx.Err()
	}
	defer func() { _ = term.Restore(fd, oldState) }()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	buf := make([]byte, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = r.stdin.SetReadDeadline(time.Now().Add(pollInterval))
			n, err := r.stdin.Read(buf)
			if err != nil || n == 0 {
				continue
			}
			if buf[0] == spaceKey {
				logger.Info(ctx, "operator: trades persisted", zap.Uint64("count", r.counter.Value()))
			}
		}
	}
}
