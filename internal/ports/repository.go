package ports

import (
	"context"
	"time"

	"github.com/berkekorucu/tradebot/internal/domain"
)

// TradeRepository persists the append-only trade ledger.
type TradeRepository interface {
	// CreateTrade saves a new ledger entry and returns its assigned ID.
	CreateTrade(ctx context.Context, rec *domain.TradeRecord) (int64, error)
	// FindRecent retrieves the most recent entries, newest first, up to limit.
	FindRecent(ctx context.Context, limit int) ([]*domain.TradeRecord, error)
	// FindBySymbol retrieves the most recent entries for a symbol, up to limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.TradeRecord, error)
	// CountCloseEventsOn counts close-type events on the given calendar day (UTC).
	CountCloseEventsOn(ctx context.Context, day time.Time) (int, error)
	// DailyStats aggregates close-type events for the given calendar day (UTC).
	DailyStats(ctx context.Context, day time.Time) (*domain.DailyStats, error)
}
