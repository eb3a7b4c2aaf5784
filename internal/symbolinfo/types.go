// Package symbolinfo implements the Symbol Info Cache: per-(venue,symbol)
// market metadata with TTL expiry and single-flight fetch deduplication.
package symbolinfo

import "time"

// Info is the unified symbol metadata shape, normalized from whatever
// filter structure the venue gateway reports (e.g. Binance's
// PRICE_FILTER.tickSize / LOT_SIZE.stepSize).
type Info struct {
	Symbol          string
	Base            string
	Quote           string
	Active          bool
	PricePrecision  int
	AmountPrecision int
	CostPrecision   int
	MinPrice        float64
	MaxPrice        float64
	MinAmount       float64
	MaxAmount       float64
	MinCost         float64
	TickSize        float64
	StepSize        float64
	MakerFee        float64
	TakerFee        float64
	FetchTimestamp  time.Time
	Raw             map[string]any
}

// Valid reports whether the entry is still within ttl of now.
func (i Info) Valid(ttl time.Duration, now time.Time) bool {
	return now.Sub(i.FetchTimestamp) < ttl
}
