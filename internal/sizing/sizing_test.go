package sizing

import (
	"context"
	"testing"
	"time"

	"execplane/internal/symbolinfo"
	"execplane/internal/venue"
)

type fakeGateway struct {
	venue.Gateway
	info venue.MarketInfo
}

func (f *fakeGateway) ID() string { return "fake" }
func (f *fakeGateway) GetMarketInfo(ctx context.Context, symbol string) (venue.MarketInfo, error) {
	return f.info, nil
}

func TestCalculateOrderSizeFloorScenario(t *testing.T) {
	// Sizing floor: minAmount=0.000001, amountPrecision=6,
	// accountBalance=1, stopDistance=20000, currentPrice=40000,
	// riskPercentage=0.01 -> rawSize=0.01/20000=5e-7 < minAmount
	// -> result 0.000001.
	gw := &fakeGateway{info: venue.MarketInfo{MinAmount: 0.000001, AmountPrecision: 6}}
	cache := symbolinfo.New(time.Hour, nil, nil)
	calc := New(cache, gw, nil, nil)

	size, err := calc.CalculateOrderSize(context.Background(), "BTCUSDT", 1, 20000, 40000, 0.01)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != 0.000001 {
		t.Fatalf("expected 0.000001, got %v", size)
	}
}

func TestCalculateOrderSizeMinCostFloor(t *testing.T) {
	gw := &fakeGateway{info: venue.MarketInfo{MinAmount: 0, MinCost: 10, AmountPrecision: 4}}
	cache := symbolinfo.New(time.Hour, nil, nil)
	calc := New(cache, gw, nil, nil)

	// rawSize = (1000*0.01)/100 = 0.1, cost = 0.1*50 = 5 < minCost(10)
	// -> size = 10/50 = 0.2
	size, err := calc.CalculateOrderSize(context.Background(), "ETHUSDT", 1000, 100, 50, 0.01)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != 0.2 {
		t.Fatalf("expected 0.2, got %v", size)
	}
}

func TestCalculateOrderSizeMaxAmountClamp(t *testing.T) {
	gw := &fakeGateway{info: venue.MarketInfo{MaxAmount: 1, AmountPrecision: 2}}
	cache := symbolinfo.New(time.Hour, nil, nil)
	calc := New(cache, gw, nil, nil)

	// rawSize = (100000*0.5)/100 = 500 -> clamped to maxAmount 1
	size, err := calc.CalculateOrderSize(context.Background(), "BTCUSDT", 100000, 100, 40000, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != 1 {
		t.Fatalf("expected 1, got %v", size)
	}
}

func TestCalculateOrderSizeSubstitutesStopDistanceFloor(t *testing.T) {
	gw := &fakeGateway{info: venue.MarketInfo{AmountPrecision: 6}}
	cache := symbolinfo.New(time.Hour, nil, nil)
	calc := New(cache, gw, nil, nil)

	// stopDistance=0 -> substituted to currentPrice*0.01 = 400
	size, err := calc.CalculateOrderSize(context.Background(), "BTCUSDT", 1000, 0, 40000, 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := (1000 * 0.1) / 400
	if size != want {
		t.Fatalf("expected %v, got %v", want, size)
	}
}

func TestRoundPriceToTickSize(t *testing.T) {
	gw := &fakeGateway{info: venue.MarketInfo{TickSize: 0.5}}
	cache := symbolinfo.New(time.Hour, nil, nil)
	calc := New(cache, gw, nil, nil)

	price, err := calc.RoundPriceToTickSize(context.Background(), "BTCUSDT", 100.7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 100.5 {
		t.Fatalf("expected 100.5, got %v", price)
	}
}
