package coordinator

import (
	"context"
	"testing"

	"execplane/internal/events"
	"execplane/internal/oms"
	"execplane/internal/risk"
	"execplane/internal/strategy"
	"execplane/internal/tradingengine"
	"execplane/internal/uom"
	"execplane/internal/venue"
)

type fixedStrategy struct {
	id     string
	symbol string
	amount float64
}

func (f *fixedStrategy) ID() string   { return f.id }
func (f *fixedStrategy) Name() string { return f.id }
func (f *fixedStrategy) OnCandle(candle venue.Candle, state strategy.State) ([]venue.OrderRequest, strategy.State, error) {
	return []venue.OrderRequest{{Symbol: f.symbol, Side: venue.SideBuy, Type: venue.TypeMarket, Amount: f.amount}}, state, nil
}

type fakeGateway struct {
	venue.Gateway
	id string
}

func (f *fakeGateway) ID() string { return f.id }
func (f *fakeGateway) ExecuteOrder(ctx context.Context, req venue.OrderRequest) (string, error) {
	return "v-1", nil
}
func (f *fakeGateway) CancelOrder(ctx context.Context, venueOrderID, symbol string) error { return nil }
func (f *fakeGateway) FetchOrderAndConvert(ctx context.Context, venueOrderID, symbol string) (*venue.ConvertedOrder, error) {
	return &venue.ConvertedOrder{VenueOrderID: venueOrderID, Status: venue.StatusOpen}, nil
}

func newWiredUOM(t *testing.T) *uom.Manager {
	t.Helper()
	gw := &fakeGateway{id: "binance"}
	omsMgr := oms.New("binance", gw, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go omsMgr.Run(ctx)

	u := uom.New(uom.AllocationConfig{Strategy: uom.StrategyPriority}, nil)
	u.AddExchange("binance", gw, omsMgr, 1)
	return u
}

func TestCapitalSplitEqual(t *testing.T) {
	out := CapitalSplit(10000, []string{"BTC/USDT", "ETH/USDT"}, CapitalEqual, nil)
	if out["BTC/USDT"] != 5000 || out["ETH/USDT"] != 5000 {
		t.Fatalf("unexpected equal split: %+v", out)
	}
}

func TestCapitalSplitCustomMissingWeightDefaultsZero(t *testing.T) {
	out := CapitalSplit(10000, []string{"BTC/USDT", "ETH/USDT"}, CapitalCustom, map[string]float64{"BTC/USDT": 3})
	if out["BTC/USDT"] != 10000 {
		t.Fatalf("expected sole-weighted symbol to get full capital, got %v", out["BTC/USDT"])
	}
	if out["ETH/USDT"] != 0 {
		t.Fatalf("expected missing-weight symbol to get 0, got %v", out["ETH/USDT"])
	}
}

func TestApplyPortfolioRiskCapPrunesOverflow(t *testing.T) {
	signals := []SymbolSignal{
		{Symbol: "BTC/USDT", NotionalValue: 4000},
		{Symbol: "ETH/USDT", NotionalValue: 4000},
		{Symbol: "SOL/USDT", NotionalValue: 4000},
	}
	out := ApplyPortfolioRiskCap(signals, 10000, 0.5)
	if len(out) != 1 {
		t.Fatalf("expected only the first signal to survive a 50%% cap, got %+v", out)
	}
	if out[0].Symbol != "BTC/USDT" {
		t.Fatalf("expected arrival-order priority to keep BTC/USDT, got %+v", out)
	}
}

func TestApplyPortfolioRiskCapDisabledWhenLimitZero(t *testing.T) {
	signals := []SymbolSignal{{Symbol: "BTC/USDT", NotionalValue: 999999}}
	out := ApplyPortfolioRiskCap(signals, 10000, 0)
	if len(out) != 1 {
		t.Fatalf("expected cap disabled with limit 0, got %+v", out)
	}
}

func TestRiskAnalyzeConcentrationAndVaR(t *testing.T) {
	positions := []risk.PositionValue{
		{Symbol: "BTC/USDT", Value: 6000, Volatility: 0.02},
		{Symbol: "ETH/USDT", Value: 2000, Volatility: 0.03},
	}
	correlation := map[string]map[string]float64{
		"BTC/USDT": {"BTC/USDT": 1, "ETH/USDT": 0.5},
		"ETH/USDT": {"ETH/USDT": 1, "BTC/USDT": 0.5},
	}
	report := risk.Analyze(positions, correlation, 10000, nil)
	if report.ConcentrationRisk != 0.6 {
		t.Fatalf("expected concentration 0.6, got %v", report.ConcentrationRisk)
	}
	if report.ValueAtRisk <= 0 {
		t.Fatalf("expected positive VaR, got %v", report.ValueAtRisk)
	}
}

func TestCoordinatorUpdateEnforcesPortfolioRiskCap(t *testing.T) {
	u := newWiredUOM(t)
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.TopicOrderSubmitted, 4)
	defer unsub()

	btc := tradingengine.New(tradingengine.Config{
		Symbol:      "BTC/USDT",
		Strategy:    &fixedStrategy{id: "btc", symbol: "BTC/USDT", amount: 1},
		InitialCash: 10000,
	}, u, bus, nil)
	eth := tradingengine.New(tradingengine.Config{
		Symbol:      "ETH/USDT",
		Strategy:    &fixedStrategy{id: "eth", symbol: "ETH/USDT", amount: 1},
		InitialCash: 10000,
	}, u, bus, nil)

	coord := New(Config{PortfolioRiskLimit: 0.005}, nil)
	coord.AddEngine("BTC/USDT", btc)
	coord.AddEngine("ETH/USDT", eth)

	err := coord.Update(context.Background(), map[string]venue.Candle{
		"BTC/USDT": {Timestamp: 1, Close: 100},
		"ETH/USDT": {Timestamp: 1, Close: 100},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	submitted := 0
drain:
	for {
		select {
		case <-ch:
			submitted++
		default:
			break drain
		}
	}
	if submitted != 1 {
		t.Fatalf("expected exactly one symbol's signal dispatched under the portfolio cap, got %d", submitted)
	}
}

func TestCoordinatorRunReplaysSeriesAndReturnsResult(t *testing.T) {
	u := newWiredUOM(t)
	eng := tradingengine.New(tradingengine.Config{
		Symbol:      "BTC/USDT",
		Strategy:    &fixedStrategy{id: "btc", symbol: "BTC/USDT", amount: 1},
		InitialCash: 1000,
	}, u, nil, nil)

	coord := New(Config{}, nil)
	coord.AddEngine("BTC/USDT", eng)

	series := map[string][]venue.Candle{
		"BTC/USDT": {
			{Timestamp: 1, Close: 100},
			{Timestamp: 2, Close: 110},
			{Timestamp: 3, Close: 120},
		},
	}
	result, err := coord.Run(context.Background(), series)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.EquityHistory) != 3 {
		t.Fatalf("expected 3 equity history entries, got %d", len(result.EquityHistory))
	}
	if result.FinalEquity <= 0 {
		t.Fatalf("expected positive final equity, got %v", result.FinalEquity)
	}
}
