// Package coordinator implements the Multi-Symbol Coordinator: it fans a
// candle bundle out to one Symbol Trading Engine per symbol, aggregates
// their equity and positions, maintains a rolling correlation window, and
// runs the configured portfolio risk cap and analysis.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"execplane/internal/indicators"
	"execplane/internal/oms"
	"execplane/internal/risk"
	"execplane/internal/tradingengine"
	"execplane/internal/venue"
)

// CapitalStrategy names how initial capital is split across symbols.
type CapitalStrategy string

const (
	CapitalEqual  CapitalStrategy = "EQUAL"
	CapitalCustom CapitalStrategy = "CUSTOM"
)

// EquityPoint is one entry of the append-only equity history.
type EquityPoint struct {
	Timestamp int64
	PerSymbol map[string]float64
	Total     float64
}

// Config configures the coordinator.
type Config struct {
	TotalCapital       float64
	CapitalStrategy    CapitalStrategy
	CapitalWeights     map[string]float64 // used when CapitalStrategy == CUSTOM
	PortfolioRiskLimit float64            // 0 disables the cap
	CorrelationWindow  int                // default 20
	StressScenarios    []risk.StressScenario
}

// Coordinator owns one Engine per symbol plus the portfolio-wide views.
type Coordinator struct {
	mu      sync.RWMutex
	cfg     Config
	engines map[string]*tradingengine.Engine
	corr    *indicators.CorrelationWindow
	history []EquityPoint
	mode    tradingengine.Mode
	log     *zap.SugaredLogger
}

// New builds a coordinator. Engines must be registered via AddEngine
// before Initialize is called.
func New(cfg Config, log *zap.SugaredLogger) *Coordinator {
	window := cfg.CorrelationWindow
	if window <= 0 {
		window = 20
	}
	return &Coordinator{
		cfg:     cfg,
		engines: make(map[string]*tradingengine.Engine),
		corr:    indicators.NewCorrelationWindow(window),
		mode:    tradingengine.ModeNormal,
		log:     log,
	}
}

// AddEngine registers the engine that owns one symbol.
func (c *Coordinator) AddEngine(symbol string, e *tradingengine.Engine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engines[symbol] = e
}

// Initialize computes and returns the per-symbol capital split over the
// registered symbols. It does not seed cash: each Engine receives its
// share as InitialCash when it is constructed.
func (c *Coordinator) Initialize() map[string]float64 {
	c.mu.RLock()
	symbols := make([]string, 0, len(c.engines))
	for s := range c.engines {
		symbols = append(symbols, s)
	}
	c.mu.RUnlock()
	sort.Strings(symbols)

	return CapitalSplit(c.cfg.TotalCapital, symbols, c.cfg.CapitalStrategy, c.cfg.CapitalWeights)
}

// CapitalSplit computes each symbol's capital share under the configured
// strategy. EQUAL splits totalCapital/N; CUSTOM splits
// totalCapital*weights[s]/Σweights with missing weights defaulting to 0 —
// a symbol so allocated is still registered but starts flat.
func CapitalSplit(totalCapital float64, symbols []string, strategy CapitalStrategy, weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return out
	}
	if strategy != CapitalCustom {
		share := totalCapital / float64(len(symbols))
		for _, s := range symbols {
			out[s] = share
		}
		return out
	}

	var total float64
	for _, s := range symbols {
		total += weights[s]
	}
	for _, s := range symbols {
		if total <= 0 {
			out[s] = 0
			continue
		}
		out[s] = totalCapital * weights[s] / total
	}
	return out
}

// Update dispatches one candle bundle to every symbol's engine in
// parallel via Engine.Update, which runs the strategy and per-symbol
// filtering but stops short of submitting anything. Once every engine's
// tick has settled, the resulting signals are collected, pruned by
// ApplyPortfolioRiskCap against the configured PortfolioRiskLimit, and
// only the survivors are dispatched via each engine's ProcessSignals —
// matching the collect -> prune -> dispatch protocol. Per-symbol engine
// errors are logged and skipped rather than failing the tick.
func (c *Coordinator) Update(ctx context.Context, candles map[string]venue.Candle) error {
	c.mu.RLock()
	engines := make(map[string]*tradingengine.Engine, len(c.engines))
	for s, e := range c.engines {
		engines[s] = e
	}
	c.mu.RUnlock()

	var maxTs int64
	var mu sync.Mutex
	signalsBySymbol := make(map[string][]venue.OrderRequest)

	var g errgroup.Group
	for symbol, candle := range candles {
		symbol, candle := symbol, candle
		e, ok := engines[symbol]
		if !ok {
			continue
		}
		if candle.Timestamp > maxTs {
			maxTs = candle.Timestamp
		}
		c.corr.Update(symbol, candle.Close)
		g.Go(func() error {
			if err := e.Update(ctx, candle); err != nil {
				if c.log != nil {
					c.log.Warnw("symbol engine update failed, skipping this tick", "symbol", symbol, "err", err)
				}
				return nil
			}
			if signals := e.GetRecentSignals(); len(signals) > 0 {
				mu.Lock()
				signalsBySymbol[symbol] = signals
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	c.dispatchSignals(ctx, engines, signalsBySymbol)
	c.appendEquityHistory(ctx, maxTs, engines)
	return nil
}

// dispatchSignals prunes the collected per-symbol signals against the
// portfolio risk limit and submits the survivors through each owning
// engine's ProcessSignals.
func (c *Coordinator) dispatchSignals(ctx context.Context, engines map[string]*tradingengine.Engine, signalsBySymbol map[string][]venue.OrderRequest) {
	if len(signalsBySymbol) == 0 {
		return
	}

	symbols := make([]string, 0, len(signalsBySymbol))
	for s := range signalsBySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	equity := c.GetPortfolioEquity(ctx)
	pending := make([]SymbolSignal, 0, len(symbols))
	for _, symbol := range symbols {
		price := engines[symbol].GetCurrentPrice()
		var notional float64
		for _, o := range signalsBySymbol[symbol] {
			v := o.Amount * price
			if o.Side == venue.SideSell {
				v = -v
			}
			notional += v
		}
		pending = append(pending, SymbolSignal{Symbol: symbol, NotionalValue: notional})
	}

	c.mu.RLock()
	limit := c.cfg.PortfolioRiskLimit
	c.mu.RUnlock()

	survivors := ApplyPortfolioRiskCap(pending, equity, limit)
	for _, s := range survivors {
		engines[s.Symbol].ProcessSignals(ctx, signalsBySymbol[s.Symbol])
	}
}

// MultiSymbolResult is the outcome of a Run backtest replay: the final
// portfolio equity, the full equity history accumulated along the way,
// and the final consolidated positions.
type MultiSymbolResult struct {
	FinalEquity    float64
	EquityHistory  []EquityPoint
	FinalPositions []oms.Position
}

// Run replays a historical candle series per symbol tick by tick through
// Update, in timestamp order, and returns the resulting equity curve and
// final positions. This is a plain sequential replay of the same Update
// protocol a live poll loop drives — not a parameter-search/optimization
// loop, which remains out of scope. Symbols whose series is shorter than
// the tick index are simply omitted from that tick's bundle rather than
// padded or repeated. Run returns a partial result (rather than an error)
// if ctx is canceled mid-replay, since a backtest is expected to be
// resumable from the equity history it already accumulated.
func (c *Coordinator) Run(ctx context.Context, candleSeries map[string][]venue.Candle) (MultiSymbolResult, error) {
	maxLen := 0
	for _, series := range candleSeries {
		if len(series) > maxLen {
			maxLen = len(series)
		}
	}

	for i := 0; i < maxLen; i++ {
		select {
		case <-ctx.Done():
			return c.snapshotResult(ctx)
		default:
		}

		bundle := make(map[string]venue.Candle, len(candleSeries))
		for symbol, series := range candleSeries {
			if i < len(series) {
				bundle[symbol] = series[i]
			}
		}
		if len(bundle) == 0 {
			continue
		}
		if err := c.Update(ctx, bundle); err != nil {
			result, _ := c.snapshotResult(ctx)
			return result, err
		}
	}

	return c.snapshotResult(ctx)
}

func (c *Coordinator) snapshotResult(ctx context.Context) (MultiSymbolResult, error) {
	positions, err := c.GetAllPositions(ctx)
	if err != nil {
		return MultiSymbolResult{}, err
	}
	return MultiSymbolResult{
		FinalEquity:    c.GetPortfolioEquity(ctx),
		EquityHistory:  c.GetEquityHistory(),
		FinalPositions: positions,
	}, nil
}

func (c *Coordinator) appendEquityHistory(ctx context.Context, timestamp int64, engines map[string]*tradingengine.Engine) {
	perSymbol := make(map[string]float64, len(engines))
	var total float64
	for symbol, e := range engines {
		eq := e.GetEquity(ctx)
		perSymbol[symbol] = eq
		total += eq
	}

	c.mu.Lock()
	c.history = append(c.history, EquityPoint{Timestamp: timestamp, PerSymbol: perSymbol, Total: total})
	c.mu.Unlock()
}

// SetSystemMode propagates the mode to every registered engine.
func (c *Coordinator) SetSystemMode(mode tradingengine.Mode) {
	c.mu.Lock()
	c.mode = mode
	engines := make([]*tradingengine.Engine, 0, len(c.engines))
	for _, e := range c.engines {
		engines = append(engines, e)
	}
	c.mu.Unlock()
	for _, e := range engines {
		e.SetSystemMode(mode)
	}
}

// GetPortfolioEquity sums current equity across every engine.
func (c *Coordinator) GetPortfolioEquity(ctx context.Context) float64 {
	c.mu.RLock()
	engines := make([]*tradingengine.Engine, 0, len(c.engines))
	for _, e := range c.engines {
		engines = append(engines, e)
	}
	c.mu.RUnlock()

	var total float64
	for _, e := range engines {
		total += e.GetEquity(ctx)
	}
	return total
}

// GetEquityHistory returns a snapshot of the append-only equity history.
func (c *Coordinator) GetEquityHistory() []EquityPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]EquityPoint, len(c.history))
	copy(out, c.history)
	return out
}

// GetAllPositions returns one consolidated position per symbol with an
// open position.
func (c *Coordinator) GetAllPositions(ctx context.Context) ([]oms.Position, error) {
	c.mu.RLock()
	engines := make(map[string]*tradingengine.Engine, len(c.engines))
	for s, e := range c.engines {
		engines[s] = e
	}
	c.mu.RUnlock()

	var out []oms.Position
	for _, e := range engines {
		positions, err := e.GetPositions(ctx)
		if err != nil {
			return nil, fmt.Errorf("coordinator: get positions: %w", err)
		}
		out = append(out, positions...)
	}
	return out, nil
}

// GetCorrelationMatrix returns the rolling-window Pearson correlation
// across every registered symbol. The diagonal is always exactly 1.0;
// insufficient-history pairs default to 0.
func (c *Coordinator) GetCorrelationMatrix() map[string]map[string]float64 {
	c.mu.RLock()
	symbols := make([]string, 0, len(c.engines))
	for s := range c.engines {
		symbols = append(symbols, s)
	}
	c.mu.RUnlock()
	sort.Strings(symbols)
	return c.corr.Matrix(symbols)
}

// GetPortfolioRiskAnalysis computes VaR, concentration, and the
// configured stress scenarios over current mark-to-market positions.
func (c *Coordinator) GetPortfolioRiskAnalysis(ctx context.Context) (risk.Report, error) {
	c.mu.RLock()
	engines := make(map[string]*tradingengine.Engine, len(c.engines))
	for s, e := range c.engines {
		engines[s] = e
	}
	c.mu.RUnlock()

	equity := c.GetPortfolioEquity(ctx)
	symbols := make([]string, 0, len(engines))
	for s := range engines {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	matrix := c.corr.Matrix(symbols)

	var positions []risk.PositionValue
	for symbol, e := range engines {
		ps, err := e.GetPositions(ctx)
		if err != nil || len(ps) == 0 {
			continue
		}
		p := ps[0]
		value := p.Amount * p.CurrentPrice
		if p.Side == venue.SideSell {
			value = -value
		}
		positions = append(positions, risk.PositionValue{
			Symbol:     symbol,
			Value:      value,
			Volatility: c.corr.Volatility(symbol),
		})
	}

	return risk.Analyze(positions, matrix, equity, c.cfg.StressScenarios), nil
}

// ApplyPortfolioRiskCap prunes the given signals (keyed by symbol, in
// arrival order) so that |Σ new-position-value| / portfolioEquity does
// not exceed the configured limit: walking the signals in the order
// given, it skips each one that would push the running total over the
// limit and keeps evaluating the rest. A zero limit disables the cap.
func ApplyPortfolioRiskCap(signals []SymbolSignal, portfolioEquity, limit float64) []SymbolSignal {
	if limit <= 0 || portfolioEquity <= 0 {
		return signals
	}
	var runningValue float64
	out := make([]SymbolSignal, 0, len(signals))
	for _, s := range signals {
		candidate := runningValue + s.NotionalValue
		if abs(candidate)/portfolioEquity > limit {
			continue
		}
		runningValue = candidate
		out = append(out, s)
	}
	return out
}

// SymbolSignal is the minimal view ApplyPortfolioRiskCap needs: a
// signal's symbol and its signed notional value.
type SymbolSignal struct {
	Symbol        string
	NotionalValue float64
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
