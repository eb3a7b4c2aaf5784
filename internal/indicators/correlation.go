package indicators

import (
	"math"
	"sync"
)

// CorrelationWindow maintains a rolling per-symbol return history and
// computes a pairwise Pearson correlation matrix on demand. It locks its
// own state internally, since the coordinator both writes it from the
// per-tick update path and reads it concurrently from risk-analysis and
// correlation-matrix accessors.
type CorrelationWindow struct {
	mu      sync.Mutex
	window  int
	prices  map[string][]float64
	returns map[string][]float64
}

// NewCorrelationWindow builds a rolling correlation tracker over the last
// window return observations per symbol.
func NewCorrelationWindow(window int) *CorrelationWindow {
	if window < 2 {
		window = 2
	}
	return &CorrelationWindow{
		window:  window,
		prices:  make(map[string][]float64),
		returns: make(map[string][]float64),
	}
}

// Update ingests a new price for symbol, appending a log return once a
// prior price exists.
func (c *CorrelationWindow) Update(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prior, ok := c.prices[symbol]
	if ok && len(prior) > 0 && prior[len(prior)-1] > 0 && price > 0 {
		ret := math.Log(price / prior[len(prior)-1])
		rs := append(c.returns[symbol], ret)
		if len(rs) > c.window {
			rs = rs[len(rs)-c.window:]
		}
		c.returns[symbol] = rs
	}
	ps := append(c.prices[symbol], price)
	if len(ps) > c.window+1 {
		ps = ps[len(ps)-(c.window+1):]
	}
	c.prices[symbol] = ps
}

// Volatility returns the sample standard deviation of symbol's return
// history, or 0 if fewer than two observations are available.
func (c *CorrelationWindow) Volatility(symbol string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	rs := c.returns[symbol]
	if len(rs) < 2 {
		return 0
	}
	return stdev(rs)
}

// Matrix computes the pairwise Pearson correlation across every tracked
// symbol. The diagonal is always exactly 1.0. Pairs with insufficient
// overlapping history correlate at 0.
func (c *CorrelationWindow) Matrix(symbols []string) map[string]map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]map[string]float64, len(symbols))
	for _, a := range symbols {
		out[a] = make(map[string]float64, len(symbols))
		for _, b := range symbols {
			if a == b {
				out[a][b] = 1.0
				continue
			}
			out[a][b] = pearson(c.returns[a], c.returns[b])
		}
	}
	return out
}

func stdev(values []float64) float64 {
	n := float64(len(values))
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= n
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	if n < 2 {
		return 0
	}
	return math.Sqrt(sumSq / (n - 1))
}

func pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
