package strategy

import (
	"encoding/json"
	"fmt"
	"math"

	"execplane/internal/venue"
)

// BollingerStrategy emits a BUY when price breaks below the lower band
// (oversold) and a SELL when it breaks above the upper band (overbought),
// suppressing repeats of the same action until the opposite fires.
type BollingerStrategy struct {
	id        string
	symbol    string
	period    int
	numStdDev float64
	size      float64
}

func NewBollingerStrategy(id, symbol string, period int, numStdDev, size float64) *BollingerStrategy {
	return &BollingerStrategy{id: id, symbol: symbol, period: period, numStdDev: numStdDev, size: size}
}

func (s *BollingerStrategy) ID() string   { return s.id }
func (s *BollingerStrategy) Name() string { return fmt.Sprintf("Bollinger_%d_%.1f", s.period, s.numStdDev) }

type bollingerState struct {
	Prices     []float64 `json:"prices"`
	PrevSignal string    `json:"prev_signal"`
}

func (s *BollingerStrategy) OnCandle(candle venue.Candle, state State) ([]venue.OrderRequest, State, error) {
	var st bollingerState
	if len(state.Data) > 0 {
		if err := json.Unmarshal(state.Data, &st); err != nil {
			return nil, state, err
		}
	}
	if st.PrevSignal == "" {
		st.PrevSignal = "HOLD"
	}

	st.Prices = append(st.Prices, candle.Close)
	if len(st.Prices) > s.period {
		st.Prices = st.Prices[len(st.Prices)-s.period:]
	}

	next, err := marshalState(st)
	if err != nil {
		return nil, state, err
	}
	if len(st.Prices) < s.period {
		return nil, next, nil
	}

	middle, upper, lower := bollingerBands(st.Prices, s.numStdDev)

	var action string
	switch {
	case candle.Close <= lower:
		action = "BUY"
	case candle.Close >= upper:
		action = "SELL"
	default:
		return nil, next, nil
	}
	if action == st.PrevSignal {
		return nil, next, nil
	}
	st.PrevSignal = action
	next, err = marshalState(st)
	if err != nil {
		return nil, state, err
	}

	side := venue.SideBuy
	if action == "SELL" {
		side = venue.SideSell
	}
	_ = middle
	return []venue.OrderRequest{{
		Symbol: s.symbol,
		Side:   side,
		Type:   venue.TypeMarket,
		Amount: s.size,
	}}, next, nil
}

func bollingerBands(prices []float64, numStdDev float64) (middle, upper, lower float64) {
	var sum float64
	for _, p := range prices {
		sum += p
	}
	middle = sum / float64(len(prices))

	var variance float64
	for _, p := range prices {
		diff := p - middle
		variance += diff * diff
	}
	dev := math.Sqrt(variance / float64(len(prices)))
	upper = middle + numStdDev*dev
	lower = middle - numStdDev*dev
	return middle, upper, lower
}
