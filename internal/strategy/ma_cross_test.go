package strategy

import (
	"testing"

	"execplane/internal/venue"
)

func feed(t *testing.T, s Strategy, prices []float64) ([]venue.OrderRequest, State) {
	t.Helper()
	var state State
	var last []venue.OrderRequest
	for _, p := range prices {
		orders, next, err := s.OnCandle(venue.Candle{Close: p}, state)
		if err != nil {
			t.Fatalf("OnCandle error: %v", err)
		}
		state = next
		if len(orders) > 0 {
			last = orders
		}
	}
	return last, state
}

func TestMACrossGoldenCross(t *testing.T) {
	s := NewMACrossStrategy("s1", "BTC/USDT", 2, 4, 1.0)
	// Downtrend then sharp uptrend to force a golden cross.
	prices := []float64{10, 9, 8, 7, 6, 20, 25}
	orders, _ := feed(t, s, prices)
	if len(orders) == 0 {
		t.Fatalf("expected a signal after the uptrend")
	}
	if orders[0].Side != venue.SideBuy {
		t.Fatalf("expected BUY on golden cross, got %v", orders[0].Side)
	}
}

func TestMACrossSuppressesRepeat(t *testing.T) {
	s := NewMACrossStrategy("s1", "BTC/USDT", 2, 4, 1.0)
	prices := []float64{10, 9, 8, 7, 6, 20, 25, 26, 27}
	var state State
	signalCount := 0
	for _, p := range prices {
		orders, next, err := s.OnCandle(venue.Candle{Close: p}, state)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		state = next
		if len(orders) > 0 {
			signalCount++
		}
	}
	if signalCount != 1 {
		t.Fatalf("expected exactly one BUY signal before any death cross, got %d", signalCount)
	}
}
