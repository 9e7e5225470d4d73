package ports

import (
	"context"

	"github.com/berkekorucu/tradebot/internal/domain"
)

// SignalSource produces trade signals for a symbol. An Action of WAIT means
// no trade; a nil signal with nil error is treated the same way.
type SignalSource interface {
	Signal(ctx context.Context, symbol string) (*domain.Signal, error)
}

// MarketStateSource produces the aggregate market picture consumed by the
// risk layer (BTC volatility, extreme movement flags).
type MarketStateSource interface {
	MarketState(ctx context.Context) (*domain.MarketState, error)
}

// IndicatorSource produces per-symbol technical snapshots used by the
// opportunity pool when refreshing scores.
type IndicatorSource interface {
	TechnicalSnapshot(ctx context.Context, symbol string) (*domain.TechnicalSnapshot, error)
}

// PresenterStats is the summary pushed to a presenter on each update.
type PresenterStats struct {
	Balance        float64
	AvailableUSDT  float64
	DrawdownPct    float64
	DailyPNL       float64
	OpenPositions  int
	PoolSize       int
	ProtectionMode bool
}

// Presenter is an optional UI/notification sink. The engine never depends on
// one being present: callers must tolerate a nil Presenter, and adapters must
// not panic into the core (the engine guards calls with a recover).
type Presenter interface {
	// Update pushes a full state snapshot.
	Update(positions []*PositionRisk, stats PresenterStats, market *domain.MarketState)
	// LogActivity reports a discrete event (entry, exit, risk trip).
	LogActivity(kind, msg string, fields map[string]interface{})
}
