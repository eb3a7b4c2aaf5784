// Package tradingengine implements the Symbol Trading Engine: for one
// symbol, it feeds candles to a configured strategy, filters the
// resulting order requests through a per-symbol risk cap and system
// mode, submits survivors through the Unified Order Manager, and tracks
// equity from cash plus mark-to-market position value.
package tradingengine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"execplane/internal/events"
	"execplane/internal/oms"
	"execplane/internal/strategy"
	"execplane/internal/uom"
	"execplane/internal/venue"
)

// Mode gates signal submission and sizing.
type Mode string

const (
	ModeNormal        Mode = "NORMAL"
	ModeRiskReduction  Mode = "RISK_REDUCTION"
	ModeEmergency      Mode = "EMERGENCY"
)

// Sizer computes a venue-valid order size from account balance, stop
// distance, risk fraction, and market constraints — the Order Sizing
// service's interface, so this package does not import it directly.
type Sizer interface {
	CalculateOrderSize(ctx context.Context, symbol string, accountBalance, stopDistance, currentPrice, riskPercentage float64) (float64, error)
}

// Config configures one symbol engine.
type Config struct {
	Symbol              string
	Strategy            strategy.Strategy
	InitialCash         float64
	PerSymbolRiskCap    float64 // max fraction of equity one signal's notional may represent; 0 disables the cap
	RiskReductionFactor float64 // amount multiplier while in RISK_REDUCTION; defaults to 0.5 if unset

	// Sizer, when set, recomputes every signal's amount from current
	// equity and a risk budget instead of trusting the strategy's raw
	// amount. RiskPercentage and AtrPercentage parameterize that call;
	// AtrPercentage approximates stop distance as currentPrice*AtrPercentage
	// absent a strategy-supplied stop.
	Sizer          Sizer
	RiskPercentage float64
	AtrPercentage  float64
}

// Engine is the Symbol Trading Engine for one symbol.
type Engine struct {
	mu      sync.RWMutex
	symbol  string
	strat   strategy.Strategy
	state   strategy.State
	uom     *uom.Manager
	bus     *events.Bus
	log     *zap.SugaredLogger

	mode            Mode
	riskCap         float64
	reductionFactor float64
	sizer           Sizer
	riskPercentage  float64
	atrPercentage   float64

	cash          float64
	currentPrice  float64
	recentSignals []venue.OrderRequest
}

// New builds a Symbol Trading Engine wired to the given UOM and event bus.
func New(cfg Config, u *uom.Manager, bus *events.Bus, log *zap.SugaredLogger) *Engine {
	factor := cfg.RiskReductionFactor
	if factor <= 0 {
		factor = 0.5
	}
	atr := cfg.AtrPercentage
	if atr <= 0 {
		atr = 0.02
	}
	return &Engine{
		symbol:          cfg.Symbol,
		strat:           cfg.Strategy,
		uom:             u,
		bus:             bus,
		log:             log,
		mode:            ModeNormal,
		riskCap:         cfg.PerSymbolRiskCap,
		reductionFactor: factor,
		sizer:           cfg.Sizer,
		riskPercentage:  cfg.RiskPercentage,
		atrPercentage:   atr,
		cash:            cfg.InitialCash,
	}
}

// Update feeds one candle through the strategy and filters the resulting
// signals (sizing, RISK_REDUCTION scaling, per-symbol risk cap), storing
// survivors for the caller to retrieve via GetRecentSignals and dispatch
// via ProcessSignals. Update itself never submits an order: a portfolio
// risk cap may run between the two symbol's worth of engines, so
// submission is always driven by the caller (the Coordinator for
// multi-symbol runs, or the caller directly for a single engine) once it
// has decided which signals survive. EMERGENCY mode is the one exception:
// it flattens immediately, bypassing the signal pipeline entirely.
func (e *Engine) Update(ctx context.Context, candle venue.Candle) error {
	e.mu.Lock()
	mode := e.mode
	e.currentPrice = candle.Close
	e.mu.Unlock()

	if mode == ModeEmergency {
		e.mu.Lock()
		e.recentSignals = nil
		e.mu.Unlock()
		return e.flatten(ctx)
	}

	e.mu.RLock()
	state := e.state
	e.mu.RUnlock()

	orders, nextState, err := e.strat.OnCandle(candle, state)
	if err != nil {
		return fmt.Errorf("tradingengine: strategy %s: %w", e.strat.ID(), err)
	}

	e.mu.Lock()
	e.state = nextState
	e.mu.Unlock()

	filtered := e.filterSignals(ctx, orders)

	e.mu.Lock()
	e.recentSignals = filtered
	e.mu.Unlock()

	if e.bus != nil {
		for _, o := range filtered {
			e.bus.Publish(events.TopicSignal, o)
		}
	}
	return nil
}

// filterSignals resizes via the configured Sizer (if any), then applies
// RISK_REDUCTION scaling and the per-symbol risk cap, in that order.
func (e *Engine) filterSignals(ctx context.Context, orders []venue.OrderRequest) []venue.OrderRequest {
	e.mu.RLock()
	mode := e.mode
	cap := e.riskCap
	factor := e.reductionFactor
	price := e.currentPrice
	equity := e.equityLocked()
	sizer := e.sizer
	riskPct := e.riskPercentage
	atrPct := e.atrPercentage
	e.mu.RUnlock()

	out := make([]venue.OrderRequest, 0, len(orders))
	for _, o := range orders {
		amount := o.Amount
		if sizer != nil && riskPct > 0 && equity > 0 && price > 0 {
			stopDistance := price * atrPct
			if sized, err := sizer.CalculateOrderSize(ctx, o.Symbol, equity, stopDistance, price, riskPct); err == nil {
				amount = sized
			} else if e.log != nil {
				e.log.Warnw("order sizing failed, keeping strategy-supplied amount", "symbol", o.Symbol, "err", err)
			}
		}
		if mode == ModeRiskReduction {
			amount *= factor
		}
		if cap > 0 && equity > 0 && price > 0 {
			notional := amount * price
			if notional/equity > cap {
				amount = (cap * equity) / price
			}
		}
		if amount <= 0 {
			continue
		}
		o.Amount = amount
		out = append(out, o)
	}
	return out
}

// ProcessSignals submits the given order requests to the UOM, updating
// cash by the filled notional's best-known estimate (actual fills
// reconcile through the OMS sync loop and the position views it feeds).
func (e *Engine) ProcessSignals(ctx context.Context, orders []venue.OrderRequest) {
	for _, o := range orders {
		if e.uom == nil {
			continue
		}
		results, err := e.uom.CreateOrder(ctx, o)
		if err != nil {
			if e.log != nil {
				e.log.Warnw("order submission failed", "symbol", e.symbol, "err", err)
			}
			if e.bus != nil {
				e.bus.Publish(events.TopicOrderRejected, o)
			}
			continue
		}
		if len(results) > 0 {
			e.mu.Lock()
			notional := o.Amount * e.currentPrice
			if o.Side == venue.SideSell {
				notional = -notional
			}
			e.cash -= notional
			e.mu.Unlock()
		}
		if e.bus != nil {
			e.bus.Publish(events.TopicOrderSubmitted, results)
		}
	}
}

// flatten submits market orders closing every open position, used when
// entering EMERGENCY mode.
func (e *Engine) flatten(ctx context.Context) error {
	if e.uom == nil {
		return nil
	}
	positions, err := e.uom.GetTotalPosition(ctx, e.symbol)
	if err != nil {
		return err
	}
	if positions == nil || positions.Amount <= 0 {
		return nil
	}
	side := venue.SideSell
	if positions.Side == venue.SideSell {
		side = venue.SideBuy
	}
	_, err = e.uom.CreateOrder(ctx, venue.OrderRequest{
		Symbol: e.symbol,
		Side:   side,
		Type:   venue.TypeMarket,
		Amount: positions.Amount,
	})
	return err
}

// SetSystemMode transitions the engine's operating mode.
func (e *Engine) SetSystemMode(mode Mode) {
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()
	if e.bus != nil {
		e.bus.Publish(events.TopicSystemModeChange, mode)
	}
}

// GetPositions returns this symbol's consolidated position across venues.
func (e *Engine) GetPositions(ctx context.Context) ([]oms.Position, error) {
	if e.uom == nil {
		return nil, nil
	}
	p, err := e.uom.GetTotalPosition(ctx, e.symbol)
	if err != nil || p == nil {
		return nil, err
	}
	return []oms.Position{*p}, nil
}

// GetEquity returns cash plus mark-to-market position value.
func (e *Engine) GetEquity(ctx context.Context) float64 {
	e.mu.RLock()
	cash := e.cash
	price := e.currentPrice
	e.mu.RUnlock()
	return cash + e.positionValue(ctx, price)
}

func (e *Engine) positionValue(ctx context.Context, price float64) float64 {
	if e.uom == nil || price <= 0 {
		return 0
	}
	p, err := e.uom.GetTotalPosition(ctx, e.symbol)
	if err != nil || p == nil {
		return 0
	}
	signed := p.Amount
	if p.Side == venue.SideSell {
		signed = -signed
	}
	return signed * price
}

// equityLocked is an in-lock approximation (cash only) used by the
// per-signal risk cap, which must not perform I/O while holding mu.
func (e *Engine) equityLocked() float64 {
	return e.cash
}

func (e *Engine) GetCurrentPrice() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentPrice
}

func (e *Engine) GetRecentSignals() []venue.OrderRequest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]venue.OrderRequest, len(e.recentSignals))
	copy(out, e.recentSignals)
	return out
}
