// Package sizing computes venue-valid order sizes from account balance,
// stop distance, a risk fraction, and the Symbol Info Cache's market
// constraints.
package sizing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"execplane/internal/symbolinfo"
	"execplane/internal/venue"
)

// SizingFailed is returned when a size cannot be produced for a symbol.
var SizingFailed = errors.New("sizing: could not compute order size")

// MinStopDistancePercentage is the fraction of current price substituted
// as the stop distance when the caller's stop distance is missing or
// implausibly tight.
const MinStopDistancePercentage = 0.01

// TickerFetcher fetches the latest price when the caller omits one.
type TickerFetcher func(ctx context.Context, symbol string) (float64, error)

// Calculator computes order sizes bounded by C1 market constraints.
type Calculator struct {
	cache   *symbolinfo.Cache
	gateway venue.Gateway
	ticker  TickerFetcher
	log     *zap.SugaredLogger
}

// New builds a Calculator resolving symbol metadata for one venue's
// gateway through cache.
func New(cache *symbolinfo.Cache, gateway venue.Gateway, ticker TickerFetcher, log *zap.SugaredLogger) *Calculator {
	return &Calculator{cache: cache, gateway: gateway, ticker: ticker, log: log}
}

// CalculateOrderSize implements the algorithm in component design: resolve
// symbol info, fall back to a fetched ticker for current price, clamp the
// stop distance to a sane floor, compute the raw risk-budget size, then
// apply minAmount / minCost / maxAmount constraints in that priority
// order, and finally round down to amountPrecision decimals.
func (c *Calculator) CalculateOrderSize(ctx context.Context, symbol string, accountBalance, stopDistance, currentPrice, riskPercentage float64) (float64, error) {
	info, err := c.cache.GetSymbolInfo(ctx, c.gateway.ID(), symbol, c.gateway, symbolinfo.Options{})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", SizingFailed, err)
	}

	if currentPrice <= 0 {
		if c.ticker == nil {
			return 0, fmt.Errorf("%w: no current price and no ticker fetcher configured", SizingFailed)
		}
		currentPrice, err = c.ticker(ctx, symbol)
		if err != nil || currentPrice <= 0 {
			return 0, fmt.Errorf("%w: could not resolve current price", SizingFailed)
		}
	}

	if stopDistance <= 0 || stopDistance < currentPrice*1e-4 {
		if c.log != nil {
			c.log.Infow("stop distance too tight, substituting floor", "symbol", symbol, "stopDistance", stopDistance, "floor", currentPrice*MinStopDistancePercentage)
		}
		stopDistance = currentPrice * MinStopDistancePercentage
	}

	rawSize := (accountBalance * riskPercentage) / stopDistance

	size := applyConstraints(rawSize, currentPrice, info)
	return roundDown(size, info.AmountPrecision), nil
}

// applyConstraints applies the (a) minAmount floor (terminal — no further
// minCost enlargement once hit), (b) minCost floor, (c) maxAmount clamp,
// in that exact priority order.
func applyConstraints(rawSize, currentPrice float64, info symbolinfo.Info) float64 {
	size := rawSize
	if info.MinAmount > 0 && size < info.MinAmount {
		return clampMax(info.MinAmount, info.MaxAmount)
	}
	if info.MinCost > 0 && size*currentPrice < info.MinCost {
		size = info.MinCost / currentPrice
	}
	return clampMax(size, info.MaxAmount)
}

func clampMax(size, maxAmount float64) float64 {
	if maxAmount > 0 && size > maxAmount {
		return maxAmount
	}
	return size
}

// roundDown truncates size to precision decimals, never rounding up, so
// the risk cap is never exceeded by rounding.
func roundDown(size float64, precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	d := decimal.NewFromFloat(size)
	f, _ := d.Truncate(int32(precision)).Float64()
	return f
}

// RoundPriceToTickSize floors price to the nearest tickSize multiple; if
// no tickSize is known it falls back to rounding to pricePrecision.
func (c *Calculator) RoundPriceToTickSize(ctx context.Context, symbol string, price float64) (float64, error) {
	info, err := c.cache.GetSymbolInfo(ctx, c.gateway.ID(), symbol, c.gateway, symbolinfo.Options{})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", SizingFailed, err)
	}
	if info.TickSize > 0 {
		return math.Floor(price/info.TickSize) * info.TickSize, nil
	}
	return roundDown(price, info.PricePrecision), nil
}

// SizeInput bundles one symbol's parameters for CalculateMultiple.
type SizeInput struct {
	Symbol         string
	StopDistance   float64
	CurrentPrice   float64
	RiskPercentage float64
}

// CalculateMultiple runs CalculateOrderSize per symbol in parallel,
// tolerating per-symbol failure by omitting it from the result.
func (c *Calculator) CalculateMultiple(ctx context.Context, accountBalance float64, inputs []SizeInput) map[string]float64 {
	results := make(map[string]float64, len(inputs))
	var mu sync.Mutex

	var g errgroup.Group
	for _, in := range inputs {
		in := in
		g.Go(func() error {
			size, err := c.CalculateOrderSize(ctx, in.Symbol, accountBalance, in.StopDistance, in.CurrentPrice, in.RiskPercentage)
			if err != nil {
				if c.log != nil {
					c.log.Warnw("sizing failed for symbol, omitting from batch", "symbol", in.Symbol, "err", err)
				}
				return nil
			}
			mu.Lock()
			results[in.Symbol] = size
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
