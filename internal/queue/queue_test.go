package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradeingest/internal/trade"
)

func mkTrade(id int64) trade.Trade {
	return trade.New("BTCUSDT", decimal.NewFromInt(100), decimal.NewFromInt(1), id, time.Now())
}

func TestOfferDrainFIFOPerProducer(t *testing.T) {
	q := New(10)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		if err := q.Offer(ctx, mkTrade(i)); err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
	}
	for i := int64(1); i <= 5; i++ {
		tr, ok := q.DrainNext(ctx)
		if !ok {
			t.Fatalf("expected item %d", i)
		}
		if tr.TradeID != i {
			t.Fatalf("want trade id %d, got %d", i, tr.TradeID)
		}
	}
}

func TestOfferBlocksWhenFull(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	if err := q.Offer(ctx, mkTrade(1)); err != nil {
		t.Fatalf("offer 1: %v", err)
	}

	offerDone := make(chan error, 1)
	go func() {
		offerDone <- q.Offer(ctx, mkTrade(2))
	}()

	select {
	case <-offerDone:
		t.Fatalf("offer on full queue should not have completed yet")
	case <-time.After(50 * time.Millisecond):
	}

	if _, ok := q.DrainNext(ctx); !ok {
		t.Fatalf("expected first item")
	}

	select {
	case err := <-offerDone:
		if err != nil {
			t.Fatalf("offer after drain: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("offer should have unblocked after drain")
	}
}

func TestNeverExceedsCapacity(t *testing.T) {
	q := New(5)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = q.Offer(ctx, mkTrade(id))
			if q.Len() > q.Cap() {
				t.Errorf("queue exceeded capacity: len=%d cap=%d", q.Len(), q.Cap())
			}
		}(int64(i))
	}

	go func() {
		for i := 0; i < 100; i++ {
			q.DrainNext(ctx)
		}
	}()
	wg.Wait()
}

func TestCloseDrainsRemainderThenEndsStream(t *testing.T) {
	q := New(10)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		_ = q.Offer(ctx, mkTrade(i))
	}
	q.Close()

	count := 0
	for {
		_, ok := q.DrainNext(ctx)
		if !ok {
			break
		}
		count++
	}
	if count != 3 {
		t.Fatalf("want 3 drained items after close, got %d", count)
	}
}

func TestOfferAfterCloseReturnsErrClosed(t *testing.T) {
	q := New(10)
	ctx := context.Background()
	q.Close()
	if err := q.Offer(ctx, mkTrade(1)); err != ErrClosed {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestOfferCancelledByContext(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	_ = q.Offer(ctx, mkTrade(1)) // fill capacity

	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Offer(cctx, mkTrade(2)); err == nil {
		t.Fatalf("expected cancellation error")
	}
}
