// Package oms implements the per-venue Order Management System: it owns
// one venue's local orders and derived positions, issues orders through
// that venue's Gateway, and reconciles lifecycle state.
package oms

import (
	"time"

	"execplane/internal/venue"
)

// Order is the tracked order shape: OrderRequest plus local identity and
// lifecycle state.
type Order struct {
	ID           string
	VenueOrderID string
	Symbol       string
	Side         venue.Side
	Type         venue.OrderType
	Amount       float64
	Price        float64
	StopPrice    float64
	Status       venue.Status
	FilledAmount float64
	AvgFillPrice float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RemainingAmount returns the unfilled quantity.
func (o Order) RemainingAmount() float64 { return o.Amount - o.FilledAmount }

// Position is the derived per-symbol position within this OMS.
type Position struct {
	Symbol        string
	Side          venue.Side
	Amount        float64 // unsigned; Side carries direction
	EntryPrice    float64
	CurrentPrice  float64
	Timestamp     time.Time
}

// Cost is amount*entryPrice.
func (p Position) Cost() float64 { return p.Amount * p.EntryPrice }

// UnrealizedPnl is the mark-to-market PnL given CurrentPrice.
func (p Position) UnrealizedPnl() float64 {
	if p.Amount == 0 {
		return 0
	}
	diff := p.CurrentPrice - p.EntryPrice
	if p.Side == venue.SideSell {
		diff = -diff
	}
	return diff * p.Amount
}

// flatThreshold is the |amount| below which a position is treated as flat
// and removed, per the data model invariant.
const flatThreshold = 1e-6

// Filter selects orders for GetOrders.
type Filter struct {
	Symbol string // empty means all symbols
	Status venue.Status
	AnyStatus bool // when true, Status is ignored
}

// Snapshot is the OMS's optional crash-recovery persisted state: open
// orders and positions as a single JSON document.
type Snapshot struct {
	Orders     []Order    `json:"orders"`
	Positions  []Position `json:"positions"`
	LastSyncTs int64      `json:"lastSyncTs"`
}
