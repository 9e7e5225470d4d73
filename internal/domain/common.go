package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// SignalAction is the decision produced by a signal source for a symbol.
type SignalAction string

const (
	ActionLong  SignalAction = "LONG"
	ActionShort SignalAction = "SHORT"
	ActionWait  SignalAction = "WAIT"
)

// MarginType selects the futures margin mode for a symbol.
type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCrossed  MarginType = "CROSSED"
)

// SizingMode selects how position notional is derived from account state.
type SizingMode string

const (
	SizingFixed     SizingMode = "FIXED"
	SizingRiskBased SizingMode = "RISK_BASED"
	SizingDynamic   SizingMode = "DYNAMIC"
)

// TradeEventKind labels an entry in the trade ledger.
type TradeEventKind string

const (
	TradeOpen         TradeEventKind = "OPEN"
	TradeClose        TradeEventKind = "CLOSE"
	TradePartialClose TradeEventKind = "PARTIAL_CLOSE"
	TradeManualOpen   TradeEventKind = "MANUAL_OPEN"
	TradeManualClose  TradeEventKind = "MANUAL_CLOSE"
)

// IsClose reports whether the event reduces or removes exposure.
func (k TradeEventKind) IsClose() bool {
	return k == TradeClose || k == TradePartialClose || k == TradeManualClose
}
