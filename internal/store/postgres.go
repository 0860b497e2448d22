// Package store persists trades to Postgres.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradeingest/internal/trade"
)

// pool is the subset of *pgxpool.Pool the writer needs; narrowed to an
// interface so tests can substitute a fake transaction without a live
// Postgres instance.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Schema is the DDL the store expects; operators apply it out of band
// (migration tooling is out of scope), kept here as the single source of
// truth for the wire-compatible shape.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	symbol    TEXT NOT NULL,
	price     DECIMAL NOT NULL,
	quantity  DECIMAL NOT NULL,
	trade_id  BIGINT NOT NULL,
	utime     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (symbol, trade_id)
)`

const upsertInsert = `
INSERT INTO trades (symbol, trade_id, utime, price, quantity)
SELECT * FROM unnest($1::text[], $2::bigint[], $3::timestamptz[], $4::numeric[], $5::numeric[])
ON CONFLICT (symbol, trade_id) DO NOTHING`

// Writer persists batches of trades in one transaction each.
type Writer struct {
	pool pool
}

// NewWriter opens a pool against connString. pgx opens the pool's
// connections lazily on first use; callers that want to fail fast on bad
// credentials should call Ping.
func NewWriter(ctx context.Context, connString string) (*Writer, error) {
	p, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	return &Writer{pool: p}, nil
}

// Ping verifies connectivity.
func (w *Writer) Ping(ctx context.Context) error {
	return w.pool.Ping(ctx)
}

// Close releases the pool.
func (w *Writer) Close() {
	w.pool.Close()
}

// SaveBatch commits trades in one all-or-nothing transaction. An empty
// batch is a no-op. Duplicate (symbol, trade_id) pairs from reconnect
// overlap are silently ignored rather than failing the batch, per the
// upsert-ignore dedup strategy.
func (w *Writer) SaveBatch(ctx context.Context, trades []trade.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	symbols := make([]string, len(trades))
	tradeIDs := make([]int64, len(trades))
	utimes := make([]time.Time, len(trades))
	prices := make([]string, len(trades))
	quantities := make([]string, len(trades))

	for i, t := range trades {
		if !trade.ValidSymbol(t.Symbol, 1, 64) {
			return fmt.Errorf("store: invalid symbol %q at index %d", t.Symbol, i)
		}
		symbols[i] = t.Symbol
		tradeIDs[i] = t.TradeID
		utimes[i] = t.TradeTime
		prices[i] = t.Price.String()
		quantities[i] = t.Quantity.String()
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, upsertInsert, symbols, tradeIDs, utimes, prices, quantities); err != nil {
		return fmt.Errorf("store: insert batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
