package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tradeingest/internal/queue"
)

type staticResolver struct {
	set map[string]struct{}
}

func (s *staticResolver) Resolve(ctx context.Context) map[string]struct{} { return s.set }

var upgrader = websocket.Upgrader{}

// newTradeWSServer serves one upgraded connection per test and lets the
// caller push raw frames to it.
func newTradeWSServer(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(conn)
	}))
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestClientDecodesTradeAndEnqueues(t *testing.T) {
	srv := newTradeWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"e":"trade","s":"BTCUSDT","p":"100.5","q":"0.1","t":1,"T":1700000000000}`))
		time.Sleep(2 * time.Second)
	})
	defer srv.Close()

	q := queue.New(10)
	c := NewClient(wsURL(srv.URL), &staticResolver{set: map[string]struct{}{"BTCUSDT": {}}}, q)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go c.Run(ctx)

	tr, ok := q.DrainNext(ctx)
	if !ok {
		t.Fatalf("expected a trade to be enqueued")
	}
	if tr.Symbol != "BTCUSDT" || tr.TradeID != 1 {
		t.Fatalf("unexpected trade: %+v", tr)
	}
}

func TestClientIgnoresMalformedMessageAndKeepsReading(t *testing.T) {
	srv := newTradeWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"e":"trade","s":"ETHUSDT","p":"2000","q":"0.05","t":2,"T":1700000000500}`))
		time.Sleep(2 * time.Second)
	})
	defer srv.Close()

	q := queue.New(10)
	c := NewClient(wsURL(srv.URL), &staticResolver{set: map[string]struct{}{"ETHUSDT": {}}}, q)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go c.Run(ctx)

	tr, ok := q.DrainNext(ctx)
	if !ok {
		t.Fatalf("expected the well-formed trade to survive a malformed neighbor")
	}
	if tr.Symbol != "ETHUSDT" {
		t.Fatalf("unexpected trade: %+v", tr)
	}
}

func TestClientStopsOnContextCancellation(t *testing.T) {
	srv := newTradeWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		time.Sleep(2 * time.Second)
	})
	defer srv.Close()

	q := queue.New(10)
	c := NewClient(wsURL(srv.URL), &staticResolver{set: map[string]struct{}{"BTCUSDT": {}}}, q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected ctx.Err() on shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after ctx cancellation")
	}
}

func TestRequestReconnectReopensWithNewSubscription(t *testing.T) {
	var dials int
	srv := newTradeWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		dials++
		time.Sleep(2 * time.Second)
	})
	defer srv.Close()

	q := queue.New(10)
	resolver := &staticResolver{set: map[string]struct{}{"BTCUSDT": {}}}
	c := NewClient(wsURL(srv.URL), resolver, q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	resolver.set = map[string]struct{}{"BTCUSDT": {}, "ETHUSDT": {}}
	c.RequestReconnect()

	time.Sleep(200 * time.Millisecond)
	got := c.CurrentSet()
	if _, ok := got["ETHUSDT"]; !ok {
		t.Fatalf("expected client to pick up new symbol set, got %v", got)
	}
}
