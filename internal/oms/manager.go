package oms

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"execplane/internal/venue"
)

// command is the OMS's inbound command-queue vocabulary: Create, Cancel,
// Sync, Query. A single owner goroutine drains this channel, so order
// status transitions are serialized without per-order locking.
type command struct {
	kind   commandKind
	req    venue.OrderRequest
	id     string
	symbol string
	filter    Filter
	orders    []Order
	positions []Position
	reply     chan commandReply
}

type commandKind int

const (
	cmdCreate commandKind = iota
	cmdCancel
	cmdCancelAll
	cmdSync
	cmdGetOrders
	cmdGetPositions
	cmdSnapshot
	cmdRestore
)

type commandReply struct {
	orderID   string
	canceled  bool
	count     int
	orders    []Order
	positions []Position
	snapshot  Snapshot
	err       error
}

// Manager is one venue's OMS. Construct with New and call Run in its own
// goroutine before issuing commands.
type Manager struct {
	venueID   string
	gateway   venue.Gateway
	log       *zap.SugaredLogger
	commands  chan command
	done      chan struct{}

	// owned exclusively by the Run goroutine
	orders    map[string]Order
	positions map[string]Position
	lastSync  time.Time
}

// New builds an OMS for one venue. Call Run to start its owner goroutine.
func New(venueID string, gw venue.Gateway, log *zap.SugaredLogger) *Manager {
	return &Manager{
		venueID:   venueID,
		gateway:   gw,
		log:       log,
		commands:  make(chan command, 256),
		done:      make(chan struct{}),
		orders:    make(map[string]Order),
		positions: make(map[string]Position),
	}
}

// Run drains the command queue until ctx is done. Must be started before
// any command is issued; typically run as `go mgr.Run(ctx)`.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-m.commands:
			m.handle(ctx, cmd)
		}
	}
}

func (m *Manager) send(ctx context.Context, cmd command) commandReply {
	cmd.reply = make(chan commandReply, 1)
	select {
	case m.commands <- cmd:
	case <-ctx.Done():
		return commandReply{err: ctx.Err()}
	}
	select {
	case r := <-cmd.reply:
		return r
	case <-ctx.Done():
		return commandReply{err: ctx.Err()}
	}
}

// CreateOrder assigns a locally unique id, persists it PENDING, and calls
// the gateway. On success it stores the venueOrderId and transitions to
// PLACED; on failure it transitions to REJECTED. The local id is returned
// regardless, as the caller's reconciliation key.
func (m *Manager) CreateOrder(ctx context.Context, req venue.OrderRequest) (string, error) {
	r := m.send(ctx, command{kind: cmdCreate, req: req})
	return r.orderID, r.err
}

func (m *Manager) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	r := m.send(ctx, command{kind: cmdCancel, id: orderID})
	return r.canceled, r.err
}

func (m *Manager) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	r := m.send(ctx, command{kind: cmdCancelAll, symbol: symbol})
	return r.count, r.err
}

func (m *Manager) GetOrders(ctx context.Context, filter Filter) ([]Order, error) {
	r := m.send(ctx, command{kind: cmdGetOrders, filter: filter})
	return r.orders, r.err
}

func (m *Manager) GetPositions(ctx context.Context, symbol string) ([]Position, error) {
	r := m.send(ctx, command{kind: cmdGetPositions, symbol: symbol})
	return r.positions, r.err
}

// SyncOrderStatus reconciles every non-terminal order with venue-reported
// state.
func (m *Manager) SyncOrderStatus(ctx context.Context) error {
	r := m.send(ctx, command{kind: cmdSync})
	return r.err
}

// Snapshot returns the current orders+positions as a persistable document.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	r := m.send(ctx, command{kind: cmdSnapshot})
	return r.snapshot, r.err
}

// Restore seeds orders+positions from a previously saved Snapshot. It is
// routed through the command queue like any other command, so Run must
// be draining the queue for it to complete.
func (m *Manager) Restore(ctx context.Context, snap Snapshot) error {
	r := m.send(ctx, command{kind: cmdRestore, orders: snap.Orders, positions: snap.Positions})
	return r.err
}

func (m *Manager) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdCreate:
		m.handleCreate(ctx, cmd)
	case cmdCancel:
		m.handleCancel(ctx, cmd)
	case cmdCancelAll:
		m.handleCancelAll(ctx, cmd)
	case cmdSync:
		m.handleSync(ctx, cmd)
	case cmdGetOrders:
		m.handleGetOrders(cmd)
	case cmdGetPositions:
		m.handleGetPositions(cmd)
	case cmdSnapshot:
		m.handleSnapshot(cmd)
	case cmdRestore:
		m.handleRestore(cmd)
	}
}

func (m *Manager) handleCreate(ctx context.Context, cmd command) {
	now := time.Now()
	o := Order{
		ID:        uuid.NewString(),
		Symbol:    cmd.req.Symbol,
		Side:      cmd.req.Side,
		Type:      cmd.req.Type,
		Amount:    cmd.req.Amount,
		Price:     cmd.req.Price,
		StopPrice: cmd.req.StopPrice,
		Status:    venue.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.orders[o.ID] = o

	venueOrderID, err := m.gateway.ExecuteOrder(ctx, cmd.req)
	o = m.orders[o.ID]
	if err != nil {
		o.Status = venue.StatusRejected
		if m.log != nil {
			m.log.Warnw("order rejected by venue", "venue", m.venueID, "orderId", o.ID, "err", err)
		}
	} else {
		o.VenueOrderID = venueOrderID
		o.Status = venue.StatusPlaced
	}
	o.UpdatedAt = time.Now()
	m.orders[o.ID] = o

	cmd.reply <- commandReply{orderID: o.ID, err: nil}
}

func (m *Manager) handleCancel(ctx context.Context, cmd command) {
	o, ok := m.orders[cmd.id]
	if !ok {
		cmd.reply <- commandReply{canceled: false, err: fmt.Errorf("oms: unknown order %s", cmd.id)}
		return
	}
	if o.Status.IsTerminal() {
		cmd.reply <- commandReply{canceled: false}
		return
	}
	err := m.gateway.CancelOrder(ctx, o.VenueOrderID, o.Symbol)
	if err != nil {
		cmd.reply <- commandReply{canceled: false, err: err}
		return
	}
	o.Status = venue.StatusCanceled
	o.UpdatedAt = time.Now()
	m.orders[o.ID] = o
	cmd.reply <- commandReply{canceled: true}
}

func (m *Manager) handleCancelAll(ctx context.Context, cmd command) {
	count := 0
	for id, o := range m.orders {
		if o.Status.IsTerminal() {
			continue
		}
		if cmd.symbol != "" && o.Symbol != cmd.symbol {
			continue
		}
		if err := m.gateway.CancelOrder(ctx, o.VenueOrderID, o.Symbol); err != nil {
			if m.log != nil {
				m.log.Warnw("cancel failed during cancelAll", "venue", m.venueID, "orderId", id, "err", err)
			}
			continue
		}
		o.Status = venue.StatusCanceled
		o.UpdatedAt = time.Now()
		m.orders[id] = o
		count++
	}
	cmd.reply <- commandReply{count: count}
}

func (m *Manager) handleGetOrders(cmd command) {
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		if cmd.filter.Symbol != "" && o.Symbol != cmd.filter.Symbol {
			continue
		}
		if !cmd.filter.AnyStatus && cmd.filter.Status != "" && o.Status != cmd.filter.Status {
			continue
		}
		out = append(out, o)
	}
	cmd.reply <- commandReply{orders: out}
}

func (m *Manager) handleGetPositions(cmd command) {
	out := make([]Position, 0, len(m.positions))
	for sym, p := range m.positions {
		if cmd.symbol != "" && sym != cmd.symbol {
			continue
		}
		out = append(out, p)
	}
	cmd.reply <- commandReply{positions: out}
}

func (m *Manager) handleSnapshot(cmd command) {
	orders := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		if o.Status.IsTerminal() {
			continue
		}
		orders = append(orders, o)
	}
	positions := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		positions = append(positions, p)
	}
	cmd.reply <- commandReply{snapshot: Snapshot{Orders: orders, Positions: positions, LastSyncTs: m.lastSync.UnixMilli()}}
}

func (m *Manager) handleRestore(cmd command) {
	for _, o := range cmd.orders {
		m.orders[o.ID] = o
	}
	for _, p := range cmd.positions {
		m.positions[p.Symbol] = p
	}
	cmd.reply <- commandReply{}
}

// handleSync reconciles every non-terminal order with venue state and
// applies the position-update algorithm on any filled-amount increase.
func (m *Manager) handleSync(ctx context.Context, cmd command) {
	for id, o := range m.orders {
		if o.Status.IsTerminal() || o.VenueOrderID == "" {
			continue
		}
		converted, err := m.gateway.FetchOrderAndConvert(ctx, o.VenueOrderID, o.Symbol)
		if err != nil {
			if m.log != nil {
				m.log.Warnw("sync failed for order", "venue", m.venueID, "orderId", id, "err", err)
			}
			continue
		}
		prevFilled := o.FilledAmount
		o.Status = converted.Status
		o.FilledAmount = converted.FilledAmount
		o.AvgFillPrice = converted.AvgFillPrice
		o.UpdatedAt = time.Now()
		m.orders[id] = o

		delta := o.FilledAmount - prevFilled
		if delta > 0 {
			m.applyFill(o.Symbol, o.Side, delta, o.AvgFillPrice)
		}
	}
	m.lastSync = time.Now()
	cmd.reply <- commandReply{}
}

// applyFill implements the cost-weighted position-averaging and
// cross-side-fill-flip algorithm: a same-side fill extends the position
// at a notional-weighted average entry; an opposite-side fill nets the
// position down and, if it crosses zero, flips side and resets the entry
// price to the crossing portion's fill price. Positions with |amount| <
// 1e-6 are removed.
func (m *Manager) applyFill(symbol string, fillSide venue.Side, filledDelta, fillPrice float64) {
	p, exists := m.positions[symbol]
	if !exists {
		p = Position{Symbol: symbol, Side: fillSide, Timestamp: time.Now()}
	}

	signedOld := p.Amount
	if p.Side == venue.SideSell {
		signedOld = -signedOld
	}
	signedFill := filledDelta
	if fillSide == venue.SideSell {
		signedFill = -filledDelta
	}
	signedNew := signedOld + signedFill

	if math.Abs(signedNew) < flatThreshold {
		delete(m.positions, symbol)
		return
	}

	var newSide venue.Side
	if signedNew > 0 {
		newSide = venue.SideBuy
	} else {
		newSide = venue.SideSell
	}
	newAmount := math.Abs(signedNew)

	sameDirection := (signedOld >= 0) == (signedFill >= 0) || signedOld == 0
	switch {
	case sameDirection:
		oldNotional := math.Abs(signedOld) * p.EntryPrice
		addedNotional := filledDelta * fillPrice
		p.EntryPrice = (oldNotional + addedNotional) / newAmount
	case (signedOld >= 0) == (signedNew >= 0):
		// Still same side after netting down; entry price unchanged.
	default:
		// Crossed zero: flipped side, reset entry to the crossing
		// portion's fill price.
		p.EntryPrice = fillPrice
	}

	p.Side = newSide
	p.Amount = newAmount
	p.CurrentPrice = fillPrice
	p.Timestamp = time.Now()
	m.positions[symbol] = p
}

// MarshalSnapshot is a convenience wrapper for persisting Snapshot as
// JSON, per the external interfaces' crash-recovery document shape.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot parses a previously persisted document.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	err := json.Unmarshal(data, &s)
	return s, err
}
