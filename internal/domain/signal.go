package domain

import "time"

// Signal is a trade instruction produced by an external signal source.
// Price and StopLoss are optional hints; zero means "not provided" and the
// consumer falls back to mark price and the static stop percentage.
type Signal struct {
	Symbol   string       // Trading symbol (e.g., "ETHUSDT")
	Action   SignalAction // LONG, SHORT or WAIT
	Strength float64      // Confidence in [0, 100]
	Price    float64      // Suggested entry price (0 if unset)
	StopLoss float64      // Suggested stop level (0 if unset)
	Reasons  []string     // Human-readable justification, for the activity log
	Time     time.Time    // When the signal was generated
}

// IsActionable reports whether the signal asks for a position.
func (s *Signal) IsActionable() bool {
	return s != nil && (s.Action == ActionLong || s.Action == ActionShort)
}

// Side maps the signal action to the order side that opens the position.
func (s *Signal) Side() OrderSide {
	if s.Action == ActionShort {
		return Sell
	}
	return Buy
}
