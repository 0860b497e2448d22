// Package stats holds the process-wide count of successfully persisted
// trades.
package stats

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// persistedTotal mirrors Counter's value as a Prometheus counter for
// scraping, grounded on internal/quotes/wsmetrics's package-level
// promauto metrics. The atomic value below remains the source of truth
// the operator command reader consults; this is observability sugar.
var persistedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ingest_trades_persisted_total",
	Help: "Total number of trades successfully committed to the store.",
})

// Counter is a lock-free, monotonically increasing count of trades
// persisted in successfully committed batches.
type Counter struct {
	n atomic.Uint64
}

// New returns a zeroed Counter.
func New() *Counter {
	return &Counter{}
}

// Add increments the counter by n, called once per successful SaveBatch
// with the size of that batch. n must be non-negative.
func (c *Counter) Add(n uint64) {
	if n == 0 {
		return
	}
	c.n.Add(n)
	persistedTotal.Add(float64(n))
}

// Value returns the current count. Reads never block writers.
func (c *Counter) Value() uint64 {
	return c.n.Load()
}
