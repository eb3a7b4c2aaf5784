package tradingengine

import (
	"context"
	"encoding/json"
	"testing"

	"execplane/internal/events"
	"execplane/internal/oms"
	"execplane/internal/strategy"
	"execplane/internal/uom"
	"execplane/internal/venue"
)

type fixedStrategy struct {
	orders []venue.OrderRequest
}

func (f *fixedStrategy) ID() string   { return "fixed" }
func (f *fixedStrategy) Name() string { return "fixed" }
func (f *fixedStrategy) OnCandle(candle venue.Candle, state strategy.State) ([]venue.OrderRequest, strategy.State, error) {
	var fired bool
	if len(state.Data) > 0 {
		_ = json.Unmarshal(state.Data, &fired)
	}
	if fired {
		return nil, state, nil
	}
	data, _ := json.Marshal(true)
	return f.orders, strategy.State{Data: data}, nil
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

func TestEngineUpdateSubmitsSignal(t *testing.T) {
	u := newWiredUOM(t)
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.TopicOrderSubmitted, 4)
	defer unsub()

	strat := &fixedStrategy{orders: []venue.OrderRequest{{Symbol: "BTC/USDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 1}}}
	e := New(Config{Symbol: "BTC/USDT", Strategy: strat, InitialCash: 10000}, u, bus, nil)

	if err := e.Update(context.Background(), venue.Candle{Close: 100}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	signals := e.GetRecentSignals()
	if len(signals) != 1 {
		t.Fatalf("expected one recorded signal, got %+v", signals)
	}
	e.ProcessSignals(context.Background(), signals)

	select {
	case <-ch:
	default:
		t.Fatalf("expected an order submitted event")
	}
}

func TestEngineEmergencyModeFlattensInsteadOfSignaling(t *testing.T) {
	u := newWiredUOM(t)
	strat := &fixedStrategy{orders: []venue.OrderRequest{{Symbol: "BTC/USDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 1}}}
	e := New(Config{Symbol: "BTC/USDT", Strategy: strat, InitialCash: 10000}, u, nil, nil)
	e.SetSystemMode(ModeEmergency)

	if err := e.Update(context.Background(), venue.Candle{Close: 100}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.GetRecentSignals()) != 0 {
		t.Fatalf("expected no signals recorded while EMERGENCY, got %v", e.GetRecentSignals())
	}
}

func TestEngineRiskReductionScalesAmount(t *testing.T) {
	u := newWiredUOM(t)
	strat := &fixedStrategy{orders: []venue.OrderRequest{{Symbol: "BTC/USDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 2}}}
	e := New(Config{Symbol: "BTC/USDT", Strategy: strat, InitialCash: 10000, RiskReductionFactor: 0.25}, u, nil, nil)
	e.SetSystemMode(ModeRiskReduction)

	if err := e.Update(context.Background(), venue.Candle{Close: 100}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	signals := e.GetRecentSignals()
	if len(signals) != 1 || signals[0].Amount != 0.5 {
		t.Fatalf("expected scaled amount 0.5, got %+v", signals)
	}
}
