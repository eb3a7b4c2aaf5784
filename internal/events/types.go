// Package events is a lightweight in-process pub/sub broker connecting
// the Symbol Trading Engine and Multi-Symbol Coordinator: signal
// generation, order lifecycle, and risk-mode transitions all flow
// through it rather than direct calls between components.
package events

// Topic enumerates the broker's event channels.
type Topic string

const (
	TopicCandle              Topic = "candle"
	TopicSignal              Topic = "strategy.signal"
	TopicOrderSubmitted      Topic = "order.submitted"
	TopicOrderFilled         Topic = "order.filled"
	TopicOrderRejected       Topic = "order.rejected"
	TopicPositionChange      Topic = "position.change"
	TopicRiskAlert           Topic = "risk.alert"
	TopicSystemModeChange    Topic = "system.mode_change"
	TopicReconciliationDrift Topic = "reconciliation.drift"
)
