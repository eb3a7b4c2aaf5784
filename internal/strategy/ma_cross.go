package strategy

import (
	"encoding/json"
	"fmt"

	"execplane/internal/indicators"
	"execplane/internal/venue"
)

// MACrossStrategy emits a BUY on a golden cross (fast MA crosses above
// slow MA) and a SELL on a death cross, repeating neither signal until
// the other fires. Configuration (periods, size) is immutable per
// instance; price history and the last-emitted signal live in the
// engine-owned State so the strategy itself holds no call-to-call state.
type MACrossStrategy struct {
	id         string
	symbol     string
	fastPeriod int
	slowPeriod int
	size       float64
}

// NewMACrossStrategy builds an MA-cross strategy for one symbol.
func NewMACrossStrategy(id, symbol string, fastPeriod, slowPeriod int, size float64) *MACrossStrategy {
	return &MACrossStrategy{id: id, symbol: symbol, fastPeriod: fastPeriod, slowPeriod: slowPeriod, size: size}
}

func (s *MACrossStrategy) ID() string   { return s.id }
func (s *MACrossStrategy) Name() string { return fmt.Sprintf("MA_Cross_%d_%d", s.fastPeriod, s.slowPeriod) }

type maCrossState struct {
	Prices     []float64 `json:"prices"`
	PrevSignal string    `json:"prev_signal"`
}

func (s *MACrossStrategy) OnCandle(candle venue.Candle, state State) ([]venue.OrderRequest, State, error) {
	var st maCrossState
	if len(state.Data) > 0 {
		if err := json.Unmarshal(state.Data, &st); err != nil {
			return nil, state, err
		}
	}
	if st.PrevSignal == "" {
		st.PrevSignal = "HOLD"
	}

	oldFast := indicators.SMA(st.Prices, s.fastPeriod)
	oldSlow := indicators.SMA(st.Prices, s.slowPeriod)
	// A cross needs a full prior window; before that the old MAs are 0.
	hadPrior := len(st.Prices) >= s.slowPeriod

	st.Prices = append(st.Prices, candle.Close)
	if len(st.Prices) > s.slowPeriod {
		st.Prices = st.Prices[len(st.Prices)-s.slowPeriod:]
	}

	next, err := marshalState(st)
	if err != nil {
		return nil, state, err
	}
	if !hadPrior || len(st.Prices) < s.slowPeriod {
		return nil, next, nil
	}

	fastMA := indicators.SMA(st.Prices, s.fastPeriod)
	slowMA := indicators.SMA(st.Prices, s.slowPeriod)

	var action string
	switch {
	case oldFast <= oldSlow && fastMA > slowMA:
		action = "BUY"
	case oldFast >= oldSlow && fastMA < slowMA:
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

func marshalState(v any) (State, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return State{}, err
	}
	return State{Data: data}, nil
}
