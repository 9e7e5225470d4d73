package domain

import "time"

// MarketState is the aggregate market picture used by the risk layer.
// It is produced by an external market analysis source and refreshed
// periodically by the orchestrator.
type MarketState struct {
	BTCChange24h    float64   // BTC 24h price change percent
	BTCVolatility   float64   // BTC volatility score (0 = calm)
	ExtremeMovement bool      // Set when the source flags an abnormal move
	RiskLevel       string    // Free-form label (e.g., "LOW", "HIGH")
	UpdatedAt       time.Time // When the snapshot was taken
}

// TechnicalSnapshot is a per-symbol technical picture from an external
// indicator source, blended into opportunity scores.
type TechnicalSnapshot struct {
	Symbol     string
	Score      float64 // Technical sub-score in [0, 100]
	Volatility float64 // Symbol volatility score
	UpdatedAt  time.Time
}
