package oms

import (
	"context"
	"testing"

	"execplane/internal/venue"
)

type fakeGateway struct {
	venue.Gateway
	orderID      string
	executeErr   error
	converted    map[string]*venue.ConvertedOrder
}

func (f *fakeGateway) ID() string { return "fake" }

func (f *fakeGateway) ExecuteOrder(ctx context.Context, req venue.OrderRequest) (string, error) {
	if f.executeErr != nil {
		return "", f.executeErr
	}
	return f.orderID, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, venueOrderID, symbol string) error {
	return nil
}

func (f *fakeGateway) FetchOrderAndConvert(ctx context.Context, venueOrderID, symbol string) (*venue.ConvertedOrder, error) {
	if c, ok := f.converted[venueOrderID]; ok {
		return c, nil
	}
	return &venue.ConvertedOrder{VenueOrderID: venueOrderID, Status: venue.StatusOpen}, nil
}

func startManager(t *testing.T, gw venue.Gateway) (*Manager, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	m := New("fake", gw, nil)
	go m.Run(ctx)
	return m, cancel
}

func TestCreateOrderPlacesAndTracks(t *testing.T) {
	gw := &fakeGateway{orderID: "v-1"}
	m, cancel := startManager(t, gw)
	defer cancel()

	id, err := m.CreateOrder(context.Background(), venue.OrderRequest{Symbol: "BTCUSDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	orders, err := m.GetOrders(context.Background(), Filter{AnyStatus: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != id {
		t.Fatalf("expected the created order to be tracked")
	}
	if orders[0].Status != venue.StatusPlaced {
		t.Fatalf("expected PLACED, got %v", orders[0].Status)
	}
}

func TestCreateOrderRejectedOnGatewayFailure(t *testing.T) {
	gw := &fakeGateway{executeErr: venue.VenueRejected}
	m, cancel := startManager(t, gw)
	defer cancel()

	id, err := m.CreateOrder(context.Background(), venue.OrderRequest{Symbol: "BTCUSDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 1})
	if err != nil {
		t.Fatalf("CreateOrder itself should not error on venue rejection: %v", err)
	}
	orders, _ := m.GetOrders(context.Background(), Filter{AnyStatus: true})
	if len(orders) != 1 || orders[0].ID != id || orders[0].Status != venue.StatusRejected {
		t.Fatalf("expected REJECTED order tracked locally, got %+v", orders)
	}
}

func TestSyncOrderStatusAppliesFillToPosition(t *testing.T) {
	gw := &fakeGateway{orderID: "v-1", converted: map[string]*venue.ConvertedOrder{}}
	m, cancel := startManager(t, gw)
	defer cancel()

	id, _ := m.CreateOrder(context.Background(), venue.OrderRequest{Symbol: "BTCUSDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 1})
	_ = id

	gw.converted["v-1"] = &venue.ConvertedOrder{VenueOrderID: "v-1", Status: venue.StatusFilled, FilledAmount: 1, AvgFillPrice: 30000}
	if err := m.SyncOrderStatus(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	positions, err := m.GetPositions(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected one position, got %d", len(positions))
	}
	if positions[0].Amount != 1 || positions[0].EntryPrice != 30000 {
		t.Fatalf("unexpected position: %+v", positions[0])
	}
}

func TestApplyFillCrossSideFlip(t *testing.T) {
	m := New("fake", &fakeGateway{}, nil)
	m.applyFill("BTCUSDT", venue.SideBuy, 1, 100)
	if m.positions["BTCUSDT"].Amount != 1 || m.positions["BTCUSDT"].Side != venue.SideBuy {
		t.Fatalf("unexpected position after open: %+v", m.positions["BTCUSDT"])
	}

	m.applyFill("BTCUSDT", venue.SideSell, 1.5, 110)
	p := m.positions["BTCUSDT"]
	if p.Side != venue.SideSell {
		t.Fatalf("expected flip to SELL, got %v", p.Side)
	}
	if p.Amount != 0.5 {
		t.Fatalf("expected flipped amount 0.5, got %v", p.Amount)
	}
	if p.EntryPrice != 110 {
		t.Fatalf("expected entry price reset to crossing fill price 110, got %v", p.EntryPrice)
	}
}

func TestApplyFillFlattensBelowThreshold(t *testing.T) {
	m := New("fake", &fakeGateway{}, nil)
	m.applyFill("BTCUSDT", venue.SideBuy, 1, 100)
	m.applyFill("BTCUSDT", venue.SideSell, 1, 100)
	if _, ok := m.positions["BTCUSDT"]; ok {
		t.Fatalf("expected position to be removed once flat")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	m, cancel := startManager(t, &fakeGateway{orderID: "v-1"})
	defer cancel()
	_, _ = m.CreateOrder(context.Background(), venue.OrderRequest{Symbol: "BTCUSDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 1})

	snap, err := m.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := MarshalSnapshot(snap)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	restored, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	m2, cancel2 := startManager(t, &fakeGateway{})
	defer cancel2()
	if err := m2.Restore(context.Background(), restored); err != nil {
		t.Fatalf("restore error: %v", err)
	}
	orders, _ := m2.GetOrders(context.Background(), Filter{AnyStatus: true})
	if len(orders) != len(snap.Orders) {
		t.Fatalf("expected restored active-order set to match snapshot")
	}
}
