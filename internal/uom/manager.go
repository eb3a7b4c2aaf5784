package uom

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"execplane/internal/oms"
	"execplane/internal/venue"
)

// Manager is the Unified Order Manager. Infrequent registry writes
// (add/remove/activate) are guarded by mu; reads of the active set are
// frequent and cheap because the sorted index is recomputed only on
// mutation, not per createOrder call.
type Manager struct {
	mu        sync.RWMutex
	venues    map[string]*VenueRegistration
	sorted    []VenueRegistration // active set, ascending priority, insertion-order ties
	alloc     AllocationConfig
	rrCounter int
	log       *zap.SugaredLogger
}

// New builds a UOM with the given initial allocation config (defaulting
// to PRIORITY when unset).
func New(alloc AllocationConfig, log *zap.SugaredLogger) *Manager {
	if alloc.Strategy == "" {
		alloc.Strategy = StrategyPriority
	}
	return &Manager{
		venues: make(map[string]*VenueRegistration),
		alloc:  alloc,
		log:    log,
	}
}

// AddExchange registers a venue with its gateway and OMS. Default
// priority is 100 when priority <= 0.
func (m *Manager) AddExchange(id string, gw venue.Gateway, mgr *oms.Manager, priority int) bool {
	if priority <= 0 {
		priority = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.venues[id]; exists {
		return false
	}
	m.venues[id] = &VenueRegistration{ID: id, Gateway: gw, OMS: mgr, Active: true, Priority: priority}
	m.resort()
	return true
}

func (m *Manager) RemoveExchange(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.venues[id]; !exists {
		return false
	}
	delete(m.venues, id)
	m.resort()
	return true
}

func (m *Manager) SetExchangeActive(id string, active bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, exists := m.venues[id]
	if !exists {
		return false
	}
	v.Active = active
	m.resort()
	return true
}

// SetAllocationStrategy validates WEIGHTED requires a positive weight for
// every currently active venue, and CUSTOM requires a customRatios entry
// for every currently active venue, failing synchronously with
// InvalidAllocation on misconfiguration.
func (m *Manager) SetAllocationStrategy(cfg AllocationConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch cfg.Strategy {
	case StrategyWeighted:
		for _, v := range m.sorted {
			if cfg.Weights[v.ID] <= 0 {
				return fmt.Errorf("%w: missing positive weight for active venue %s", InvalidAllocation, v.ID)
			}
		}
	case StrategyCustom:
		for _, v := range m.sorted {
			if _, ok := cfg.CustomRatios[v.ID]; !ok {
				return fmt.Errorf("%w: missing customRatios entry for active venue %s", InvalidAllocation, v.ID)
			}
		}
	}
	m.alloc = cfg
	return nil
}

// resort recomputes the active, priority-sorted index. Must be called
// with mu held.
func (m *Manager) resort() {
	active := make([]VenueRegistration, 0, len(m.venues))
	for _, v := range m.venues {
		if v.Active {
			active = append(active, *v)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority < active[j].Priority })
	m.sorted = active
}

func (m *Manager) activeSet() ([]VenueRegistration, AllocationConfig) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]VenueRegistration, len(m.sorted))
	copy(out, m.sorted)
	return out, m.alloc
}

// CreateOrder allocates amount across the active set per the configured
// strategy, then issues each venue's OMS.CreateOrder concurrently.
// Partial failure is tolerated: successful venues appear in the result;
// failed ones are logged and omitted. Returns NoActiveVenue when nothing
// is registered/active.
func (m *Manager) CreateOrder(ctx context.Context, req venue.OrderRequest) (map[string]string, error) {
	active, cfg := m.activeSet()
	if len(active) == 0 {
		return nil, NoActiveVenue
	}

	m.mu.Lock()
	allocations := allocate(cfg, active, req.Amount, &m.rrCounter)
	m.mu.Unlock()

	if err := assertSumInvariant(allocations, req.Amount); err != nil {
		return nil, err
	}

	type outcome struct {
		venueID string
		orderID string
		err     error
	}
	results := make(chan outcome, len(allocations))
	var g errgroup.Group
	byID := make(map[string]VenueRegistration, len(active))
	for _, v := range active {
		byID[v.ID] = v
	}
	for venueID, amt := range allocations {
		venueID, amt := venueID, amt
		v, ok := byID[venueID]
		if !ok {
			continue
		}
		g.Go(func() error {
			venueReq := req
			venueReq.Amount = amt
			id, err := v.OMS.CreateOrder(ctx, venueReq)
			if err != nil && m.log != nil {
				m.log.Warnw("venue order creation failed", "venue", venueID, "err", err)
			}
			results <- outcome{venueID: venueID, orderID: id, err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	out := make(map[string]string)
	for r := range results {
		if r.err == nil {
			out[r.venueID] = r.orderID
		}
	}
	return out, nil
}

// assertSumInvariant checks the allocation sum-preservation invariant;
// violations are programming errors surfaced as InvalidAllocation.
func assertSumInvariant(allocations map[string]float64, amount float64) error {
	var sum float64
	for _, a := range allocations {
		sum += a
	}
	if math.Abs(sum-amount) > sumTolerance(amount)+1e-9 {
		return fmt.Errorf("%w: allocation sum %.10f != requested %.10f", InvalidAllocation, sum, amount)
	}
	return nil
}

func (m *Manager) CancelOrder(ctx context.Context, venueID, orderID string) (bool, error) {
	m.mu.RLock()
	v, ok := m.venues[venueID]
	m.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("uom: unknown venue %s", venueID)
	}
	return v.OMS.CancelOrder(ctx, orderID)
}

// CancelAllOrders cancels across one venue (if venueID is non-empty) or
// every registered venue, optionally filtered by symbol.
func (m *Manager) CancelAllOrders(ctx context.Context, venueID, symbol string) (int, error) {
	m.mu.RLock()
	var targets []*oms.Manager
	if venueID != "" {
		if v, ok := m.venues[venueID]; ok {
			targets = append(targets, v.OMS)
		}
	} else {
		for _, v := range m.venues {
			targets = append(targets, v.OMS)
		}
	}
	m.mu.RUnlock()

	total := 0
	for _, t := range targets {
		n, err := t.CancelAllOrders(ctx, symbol)
		if err != nil {
			continue
		}
		total += n
	}
	return total, nil
}

// GetAllPositions returns every venue's positions, keyed by venue id.
func (m *Manager) GetAllPositions(ctx context.Context, symbol string) (map[string][]oms.Position, error) {
	m.mu.RLock()
	venues := make([]*VenueRegistration, 0, len(m.venues))
	for _, v := range m.venues {
		venues = append(venues, v)
	}
	m.mu.RUnlock()

	out := make(map[string][]oms.Position, len(venues))
	for _, v := range venues {
		positions, err := v.OMS.GetPositions(ctx, symbol)
		if err != nil {
			continue
		}
		out[v.ID] = positions
	}
	return out, nil
}

// GetTotalPosition returns the consolidated position for one symbol, or
// nil if no venue holds one.
func (m *Manager) GetTotalPosition(ctx context.Context, symbol string) (*oms.Position, error) {
	all, err := m.GetAllPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	var flat []oms.Position
	for _, ps := range all {
		flat = append(flat, ps...)
	}
	consolidated := consolidate(flat)
	p, ok := consolidated[symbol]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// GetConsolidatedPositions sums positions by symbol across every venue.
// Entry price = sum(cost)/|sum(amount)|. Positions with |amount| < 1e-6
// are dropped.
func (m *Manager) GetConsolidatedPositions(ctx context.Context) ([]oms.Position, error) {
	all, err := m.GetAllPositions(ctx, "")
	if err != nil {
		return nil, err
	}
	var flat []oms.Position
	for _, ps := range all {
		flat = append(flat, ps...)
	}
	consolidated := consolidate(flat)
	out := make([]oms.Position, 0, len(consolidated))
	for _, p := range consolidated {
		out = append(out, p)
	}
	return out, nil
}

// consolidate sums signed amount and cost per symbol across venues and
// derives the consolidated entry price and side.
func consolidate(positions []oms.Position) map[string]oms.Position {
	type acc struct {
		signedAmount float64
		cost         float64
		currentPrice float64
		symbol       string
	}
	accs := make(map[string]*acc)
	for _, p := range positions {
		a, ok := accs[p.Symbol]
		if !ok {
			a = &acc{symbol: p.Symbol}
			accs[p.Symbol] = a
		}
		signed := p.Amount
		if p.Side == venue.SideSell {
			signed = -signed
		}
		a.signedAmount += signed
		a.cost += p.Cost()
		a.currentPrice = p.CurrentPrice
	}
	out := make(map[string]oms.Position)
	for sym, a := range accs {
		if math.Abs(a.signedAmount) < 1e-6 {
			continue
		}
		side := venue.SideBuy
		if a.signedAmount < 0 {
			side = venue.SideSell
		}
		out[sym] = oms.Position{
			Symbol:       sym,
			Side:         side,
			Amount:       math.Abs(a.signedAmount),
			EntryPrice:   a.cost / math.Abs(a.signedAmount),
			CurrentPrice: a.currentPrice,
		}
	}
	return out
}

// SyncAllOrders reconciles every active venue's OMS in parallel, catching
// per-venue errors independently.
func (m *Manager) SyncAllOrders(ctx context.Context) {
	m.mu.RLock()
	venues := make([]*VenueRegistration, 0, len(m.venues))
	for _, v := range m.venues {
		if v.Active {
			venues = append(venues, v)
		}
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, v := range venues {
		v := v
		g.Go(func() error {
			if err := v.OMS.SyncOrderStatus(ctx); err != nil && m.log != nil {
				m.log.Warnw("sync failed for venue", "venue", v.ID, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
