// Package risk holds the portfolio-level risk analytics the Multi-Symbol
// Coordinator reports: value-at-risk, concentration, and configured
// stress scenarios. It reports these figures only; it has no per-trade
// or per-strategy thresholds and approves or rejects nothing.
package risk

import "math"

// StressScenario is one configured symbol-shock vector: each entry is a
// fractional price move applied linearly to that symbol's mark-to-market
// position value.
type StressScenario struct {
	Name   string
	Shocks map[string]float64 // symbol -> fractional price change, e.g. -0.2
}

// StressResult is one scenario's computed portfolio impact.
type StressResult struct {
	Scenario        string
	PortfolioImpact float64 // signed fraction of portfolio equity
}

// Report is the Coordinator's getPortfolioRiskAnalysis() return shape.
type Report struct {
	ValueAtRisk       float64
	ConcentrationRisk float64
	StressResults     []StressResult
}

// PositionValue is the minimal view Analyze needs per symbol: its
// mark-to-market value and the daily log-return volatility used for VaR.
type PositionValue struct {
	Symbol     string
	Value      float64 // signed: positive for long exposure, negative for short
	Volatility float64 // daily stdev of log returns
}

// zScore95 is the one-tailed 95% confidence z-score used for the
// parametric VaR approximation.
const zScore95 = 1.645

// Analyze computes concentration, a parametric 1-day 95% VaR using the
// correlation matrix and per-symbol volatilities, and applies each
// configured stress scenario linearly.
func Analyze(positions []PositionValue, correlation map[string]map[string]float64, portfolioEquity float64, scenarios []StressScenario) Report {
	report := Report{}
	if portfolioEquity <= 0 {
		return report
	}

	report.ConcentrationRisk = concentration(positions, portfolioEquity)
	report.ValueAtRisk = parametricVaR(positions, correlation, portfolioEquity)

	for _, sc := range scenarios {
		report.StressResults = append(report.StressResults, StressResult{
			Scenario:        sc.Name,
			PortfolioImpact: stressImpact(positions, sc, portfolioEquity),
		})
	}
	return report
}

func concentration(positions []PositionValue, equity float64) float64 {
	var max float64
	for _, p := range positions {
		ratio := math.Abs(p.Value) / equity
		if ratio > max {
			max = ratio
		}
	}
	return max
}

// parametricVaR computes sigma_p = sqrt(w^T Σ w) where w is each
// position's value-weighted exposure and Σ is built from per-symbol
// volatilities and the correlation matrix, then VaR = z * sigma_p *
// portfolioEquity.
func parametricVaR(positions []PositionValue, correlation map[string]map[string]float64, equity float64) float64 {
	var variance float64
	for _, a := range positions {
		wa := a.Value / equity
		for _, b := range positions {
			wb := b.Value / equity
			corr := 1.0
			if a.Symbol != b.Symbol {
				if row, ok := correlation[a.Symbol]; ok {
					if c, ok := row[b.Symbol]; ok {
						corr = c
					} else {
						corr = 0
					}
				} else {
					corr = 0
				}
			}
			variance += wa * wb * a.Volatility * b.Volatility * corr
		}
	}
	if variance < 0 {
		variance = 0
	}
	sigma := math.Sqrt(variance)
	return zScore95 * sigma * equity
}

func stressImpact(positions []PositionValue, sc StressScenario, equity float64) float64 {
	var impact float64
	for _, p := range positions {
		shock, ok := sc.Shocks[p.Symbol]
		if !ok {
			continue
		}
		impact += p.Value * shock
	}
	return impact / equity
}
