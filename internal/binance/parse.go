package binance

import (
	"errors"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"

	"tradeingest/internal/trade"
)

// tradeEvent is the subset of Binance's trade stream payload this parser
// cares about; every other field is ignored.
type tradeEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeID   int64  `json:"t"`
	EventTime int64  `json:"T"`
}

var errNotTrade = errors.New("binance: not a trade event")

// parseTradeEvent decodes a single-stream or combined-stream trade payload
// into a trade.Trade. It rejects (returns an error, never panics) anything
// that isn't a well-formed trade event for a well-formed symbol; callers
// log and discard on error rather than tearing down the connection.
func parseTradeEvent(payload []byte) (trade.Trade, error) {
	body := payload
	var wrap struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &wrap); err == nil && len(wrap.Data) > 0 {
		body = wrap.Data
	}

	var ev tradeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return trade.Trade{}, err
	}
	if ev.EventType != "trade" {
		return trade.Trade{}, errNotTrade
	}
	if ev.Symbol == "" || !trade.ValidSymbol(ev.Symbol, 4, 20) {
		return trade.Trade{}, errors.New("binance: invalid symbol " + ev.Symbol)
	}

	price, ok := parseDecimalOrZero(ev.Price)
	_ = ok
	qty, _ := parseDecimalOrZero(ev.Quantity)

	tradeTime := time.Now().UTC()
	if ev.EventTime > 0 {
		tradeTime = time.UnixMilli(ev.EventTime).UTC()
	}

	return trade.New(ev.Symbol, price, qty, ev.TradeID, tradeTime), nil
}

func parseDecimalOrZero(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
