package uom

import (
	"context"
	"testing"

	"execplane/internal/oms"
	"execplane/internal/venue"
)

type fakeGateway struct {
	venue.Gateway
	id string
}

func (f *fakeGateway) ID() string { return f.id }
func (f *fakeGateway) ExecuteOrder(ctx context.Context, req venue.OrderRequest) (string, error) {
	return "v-" + f.id, nil
}
func (f *fakeGateway) CancelOrder(ctx context.Context, venueOrderID, symbol string) error { return nil }
func (f *fakeGateway) FetchOrderAndConvert(ctx context.Context, venueOrderID, symbol string) (*venue.ConvertedOrder, error) {
	return &venue.ConvertedOrder{VenueOrderID: venueOrderID, Status: venue.StatusOpen}, nil
}

func newTestVenue(t *testing.T, id string) (*oms.Manager, venue.Gateway, context.CancelFunc) {
	t.Helper()
	gw := &fakeGateway{id: id}
	mgr := oms.New(id, gw, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Run(ctx)
	return mgr, gw, cancel
}

func TestWeightedAllocationTwoVenues(t *testing.T) {
	binanceOMS, binanceGW, c1 := newTestVenue(t, "binance")
	bybitOMS, bybitGW, c2 := newTestVenue(t, "bybit")
	defer c1()
	defer c2()

	m := New(AllocationConfig{Strategy: StrategyWeighted, Weights: map[string]float64{"binance": 3, "bybit": 1}}, nil)
	m.AddExchange("binance", binanceGW, binanceOMS, 1)
	m.AddExchange("bybit", bybitGW, bybitOMS, 2)

	active, cfg := m.activeSet()
	allocations := allocate(cfg, active, 4, &m.rrCounter)
	if allocations["binance"] != 3 || allocations["bybit"] != 1 {
		t.Fatalf("unexpected weighted allocation: %+v", allocations)
	}
}

func TestPriorityFallbackAfterDeactivation(t *testing.T) {
	binanceOMS, binanceGW, c1 := newTestVenue(t, "binance")
	bybitOMS, bybitGW, c2 := newTestVenue(t, "bybit")
	defer c1()
	defer c2()

	m := New(AllocationConfig{Strategy: StrategyPriority}, nil)
	m.AddExchange("binance", binanceGW, binanceOMS, 1)
	m.AddExchange("bybit", bybitGW, bybitOMS, 2)
	m.SetExchangeActive("binance", false)

	result, err := m.CreateOrder(context.Background(), venue.OrderRequest{Symbol: "BTC/USDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := result["bybit"]; !ok {
		t.Fatalf("expected bybit to receive the full order, got %+v", result)
	}
	if _, ok := result["binance"]; ok {
		t.Fatalf("expected binance to be excluded once inactive")
	}
}

func TestRoundRobinWraps(t *testing.T) {
	aOMS, aGW, c1 := newTestVenue(t, "A")
	bOMS, bGW, c2 := newTestVenue(t, "B")
	cOMS, cGW, c3 := newTestVenue(t, "C")
	defer c1()
	defer c2()
	defer c3()

	m := New(AllocationConfig{Strategy: StrategyRoundRobin}, nil)
	m.AddExchange("A", aGW, aOMS, 1)
	m.AddExchange("B", bGW, bOMS, 2)
	m.AddExchange("C", cGW, cOMS, 3)

	var targets []string
	for i := 0; i < 4; i++ {
		r, err := m.CreateOrder(context.Background(), venue.OrderRequest{Symbol: "BTC/USDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for venueID := range r {
			targets = append(targets, venueID)
		}
	}
	want := []string{"A", "B", "C", "A"}
	for i, w := range want {
		if targets[i] != w {
			t.Fatalf("round robin sequence mismatch at %d: got %v, want %v", i, targets, want)
		}
	}
}

func TestConsolidatedPosition(t *testing.T) {
	positions := []oms.Position{
		{Symbol: "BTC/USDT", Side: venue.SideBuy, Amount: 0.5, EntryPrice: 30000},
		{Symbol: "BTC/USDT", Side: venue.SideBuy, Amount: 1.0, EntryPrice: 33000},
	}
	result := consolidate(positions)
	p, ok := result["BTC/USDT"]
	if !ok {
		t.Fatalf("expected consolidated position")
	}
	if p.Amount != 1.5 {
		t.Fatalf("expected amount 1.5, got %v", p.Amount)
	}
	if p.EntryPrice != 32000 {
		t.Fatalf("expected entry price 32000, got %v", p.EntryPrice)
	}
}

func TestSetAllocationStrategyValidatesWeighted(t *testing.T) {
	binanceOMS, binanceGW, c1 := newTestVenue(t, "binance")
	defer c1()
	m := New(AllocationConfig{Strategy: StrategyPriority}, nil)
	m.AddExchange("binance", binanceGW, binanceOMS, 1)

	err := m.SetAllocationStrategy(AllocationConfig{Strategy: StrategyWeighted, Weights: map[string]float64{}})
	if err == nil {
		t.Fatalf("expected InvalidAllocation error for missing weight")
	}
}

func TestCreateOrderNoActiveVenue(t *testing.T) {
	m := New(AllocationConfig{Strategy: StrategyPriority}, nil)
	_, err := m.CreateOrder(context.Background(), venue.OrderRequest{Symbol: "BTC/USDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 1})
	if err != NoActiveVenue {
		t.Fatalf("expected NoActiveVenue, got %v", err)
	}
}
