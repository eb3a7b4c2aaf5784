// Package strategy defines the external collaborator contract the Symbol
// Trading Engine calls on every candle, plus a handful of concrete
// strategies adapted from simple single-symbol signal generators into
// one producing OrderRequest batches against engine-owned state.
package strategy

import (
	"encoding/json"

	"execplane/internal/venue"
)

// State is engine-owned, strategy-opaque storage: strategies persist
// their working set (moving averages, last-signal, band width) into it
// across calls and restore from it, so the engine — not the strategy —
// controls lifetime and snapshotting.
type State struct {
	Data json.RawMessage
}

// Strategy produces order requests from one candle and the engine-owned
// state blob. It must not hold engine-lifetime-scoped state itself;
// everything round-trips through the State that OnCandle receives and
// returns.
type Strategy interface {
	ID() string
	Name() string
	OnCandle(candle venue.Candle, state State) ([]venue.OrderRequest, State, error)
}
