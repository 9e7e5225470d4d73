package domain

import "time"

// TradeRecord is one append-only entry in the trade ledger. Open events carry
// a zero PNL; manual closes carry a zero PNL as well because the fill price is
// not observable after the fact.
type TradeRecord struct {
	ID       int64          // Assigned by the repository
	Symbol   string         // Trading symbol (e.g., "ETHUSDT")
	Side     OrderSide      // Side of the order that produced the event
	Kind     TradeEventKind // OPEN, CLOSE, PARTIAL_CLOSE, MANUAL_OPEN, MANUAL_CLOSE
	Price    float64        // Fill or reference price (0 when unknown)
	Quantity float64        // Base-asset quantity affected
	Leverage int            // Leverage in effect (0 when unknown)
	PNL      float64        // Realized profit for close events
	Time     time.Time      // When the event happened
}

// DailyStats aggregates ledger activity for one calendar day.
type DailyStats struct {
	Day        time.Time
	TotalPNL   float64
	TradeCount int // Close events only; opens do not count as trades
	WinCount   int
	LossCount  int
}

// WinRate returns wins over closed trades as a percentage, 0 when no trades.
func (s *DailyStats) WinRate() float64 {
	closed := s.WinCount + s.LossCount
	if closed == 0 {
		return 0
	}
	return float64(s.WinCount) / float64(closed) * 100
}
