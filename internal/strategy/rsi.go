package strategy

import (
	"encoding/json"
	"fmt"

	"execplane/internal/indicators"
	"execplane/internal/venue"
)

// RSIStrategy emits a BUY when RSI drops below oversold and a SELL when
// it rises above overbought, each suppressed until the opposite
// threshold fires.
type RSIStrategy struct {
	id        string
	symbol    string
	period    int
	oversold  float64
	overbought float64
	size      float64
}

func NewRSIStrategy(id, symbol string, period int, oversold, overbought, size float64) *RSIStrategy {
	return &RSIStrategy{id: id, symbol: symbol, period: period, oversold: oversold, overbought: overbought, size: size}
}

func (s *RSIStrategy) ID() string   { return s.id }
func (s *RSIStrategy) Name() string { return fmt.Sprintf("RSI_%d", s.period) }

type rsiState struct {
	Prices     []float64 `json:"prices"`
	PrevSignal string    `json:"prev_signal"`
}

func (s *RSIStrategy) OnCandle(candle venue.Candle, state State) ([]venue.OrderRequest, State, error) {
	var st rsiState
	if len(state.Data) > 0 {
		if err := json.Unmarshal(state.Data, &st); err != nil {
			return nil, state, err
		}
	}
	if st.PrevSignal == "" {
		st.PrevSignal = "HOLD"
	}

	st.Prices = append(st.Prices, candle.Close)
	maxLen := s.period + 1
	if len(st.Prices) > maxLen {
		st.Prices = st.Prices[len(st.Prices)-maxLen:]
	}

	next, err := marshalState(st)
	if err != nil {
		return nil, state, err
	}
	if len(st.Prices) < maxLen {
		return nil, next, nil
	}

	rsi := indicators.RSI(st.Prices, s.period)

	var action string
	switch {
	case rsi <= s.oversold:
		action = "BUY"
	case rsi >= s.overbought:
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
	return []venue.OrderRequest{{
		Symbol: s.symbol,
		Side:   side,
		Type:   venue.TypeMarket,
		Amount: s.size,
	}}, next, nil
}
