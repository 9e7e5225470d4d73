package signals

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/ports"
)

const (
	btcSymbol          = "BTCUSDT"
	marketKlineWindow  = 24 // Hourly candles
	extremeChange24h   = 10.0
	extremeHourlyMove  = 3.0
	elevatedVolatility = 2.0
	highVolatility     = 3.0
)

// MarketSource derives the aggregate market picture from BTC, the asset the
// rest of the market keys off. It implements ports.MarketStateSource.
type MarketSource struct {
	exchange ports.ExchangeClient
	logger   ports.Logger
}

func NewMarketSource(exchange ports.ExchangeClient, logger ports.Logger) (*MarketSource, error) {
	if exchange == nil {
		return nil, fmt.Errorf("exchange client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &MarketSource{exchange: exchange, logger: logger}, nil
}

// MarketState samples BTC's 24h ticker and hourly candles. Volatility is the
// standard deviation of hourly returns in percent.
func (m *MarketSource) MarketState(ctx context.Context) (*domain.MarketState, error) {
	ticker, err := m.exchange.Get24hTicker(ctx, btcSymbol)
	if err != nil {
		return nil, fmt.Errorf("btc ticker: %w", err)
	}

	klines, err := m.exchange.GetKlines(ctx, btcSymbol, "1h", marketKlineWindow)
	if err != nil {
		return nil, fmt.Errorf("btc klines: %w", err)
	}

	vol := stddevReturns(klines)
	maxHourly := maxAbsReturn(klines)

	state := &domain.MarketState{
		BTCChange24h:    ticker.PriceChangePercent,
		BTCVolatility:   vol,
		ExtremeMovement: math.Abs(ticker.PriceChangePercent) >= extremeChange24h || maxHourly >= extremeHourlyMove,
		RiskLevel:       riskLevel(vol, ticker.PriceChangePercent),
		UpdatedAt:       time.Now(),
	}

	m.logger.Debug(ctx, "market state sampled", map[string]interface{}{
		"btcChange24h": state.BTCChange24h,
		"btcVol":       state.BTCVolatility,
		"extreme":      state.ExtremeMovement,
		"riskLevel":    state.RiskLevel,
	})
	return state, nil
}

func maxAbsReturn(klines []*domain.Kline) float64 {
	var maxMove float64
	for i := 1; i < len(klines); i++ {
		if klines[i-1].Close == 0 {
			continue
		}
		move := math.Abs((klines[i].Close - klines[i-1].Close) / klines[i-1].Close * 100)
		if move > maxMove {
			maxMove = move
		}
	}
	return maxMove
}

func riskLevel(vol, change24h float64) string {
	switch {
	case vol > highVolatility || math.Abs(change24h) >= extremeChange24h:
		return "HIGH"
	case vol > elevatedVolatility:
		return "ELEVATED"
	default:
		return "LOW"
	}
}
