package symbolinfo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"execplane/internal/venue"
)

type fakeGateway struct {
	venue.Gateway
	calls   int32
	fail    bool
	marketInfo venue.MarketInfo
}

func (f *fakeGateway) ID() string { return "fake" }

func (f *fakeGateway) GetMarketInfo(ctx context.Context, symbol string) (venue.MarketInfo, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fail {
		return venue.MarketInfo{}, errors.New("boom")
	}
	mi := f.marketInfo
	mi.Symbol = symbol
	return mi, nil
}

func TestGetSymbolInfoCachesWithinTTL(t *testing.T) {
	gw := &fakeGateway{marketInfo: venue.MarketInfo{TickSize: 0.01, StepSize: 0.001}}
	c := New(time.Hour, nil, nil)

	info1, err := c.GetSymbolInfo(context.Background(), "fake", "BTCUSDT", gw, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info2, err := c.GetSymbolInfo(context.Background(), "fake", "BTCUSDT", gw, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info1.FetchTimestamp != info2.FetchTimestamp {
		t.Fatalf("expected cached entry to be reused")
	}
	if atomic.LoadInt32(&gw.calls) != 1 {
		t.Fatalf("expected exactly one fetch, got %d", gw.calls)
	}
}

func TestGetSymbolInfoSingleFlight(t *testing.T) {
	gw := &fakeGateway{marketInfo: venue.MarketInfo{TickSize: 0.01}}
	c := New(time.Hour, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetSymbolInfo(context.Background(), "fake", "ETHUSDT", gw, Options{})
		}()
	}
	wg.Wait()
	if atomic.LoadInt32(&gw.calls) != 1 {
		t.Fatalf("expected single-flight dedup to collapse to one fetch, got %d", gw.calls)
	}
}

func TestGetSymbolInfoFailureDoesNotCache(t *testing.T) {
	gw := &fakeGateway{fail: true}
	c := New(time.Hour, nil, nil)

	_, err := c.GetSymbolInfo(context.Background(), "fake", "BTCUSDT", gw, Options{})
	if !errors.Is(err, SymbolInfoFetchFailed) {
		t.Fatalf("expected SymbolInfoFetchFailed, got %v", err)
	}

	gw.fail = false
	info, err := c.GetSymbolInfo(context.Background(), "fake", "BTCUSDT", gw, Options{})
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if info.Symbol != "BTCUSDT" {
		t.Fatalf("expected retry to succeed and populate cache")
	}
}

func TestGetMultipleToleratesPartialFailure(t *testing.T) {
	gw := &fakeGateway{marketInfo: venue.MarketInfo{TickSize: 0.01}}
	c := New(time.Hour, nil, nil)

	results := c.GetMultiple(context.Background(), "fake", []string{"BTCUSDT", "ETHUSDT"}, gw, Options{})
	if len(results) != 2 {
		t.Fatalf("expected both symbols present, got %d", len(results))
	}
}
