package signals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// klineExchange serves canned klines and tickers; everything else is unused
// by this package.
type klineExchange struct {
	klines map[string][]*domain.Kline
	ticker *ports.Ticker24h
}

func (m *klineExchange) Ping(ctx context.Context) error                       { return nil }
func (m *klineExchange) GetServerTime(ctx context.Context) (time.Time, error) { return time.Now(), nil }
func (m *klineExchange) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}
func (m *klineExchange) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}
func (m *klineExchange) Get24hTicker(ctx context.Context, symbol string) (*ports.Ticker24h, error) {
	if m.ticker != nil {
		return m.ticker, nil
	}
	return &ports.Ticker24h{Symbol: symbol}, nil
}
func (m *klineExchange) Get24hTickers(ctx context.Context) ([]*ports.Ticker24h, error) {
	return nil, nil
}
func (m *klineExchange) GetTopVolumeSymbols(ctx context.Context, quoteAsset string, minQuoteVolume float64, limit int) ([]string, error) {
	return nil, nil
}
func (m *klineExchange) GetAccountBalances(ctx context.Context) ([]*ports.AssetBalance, error) {
	return nil, nil
}
func (m *klineExchange) GetAvailableBalance(ctx context.Context, asset string) (float64, error) {
	return 0, nil
}
func (m *klineExchange) GetOpenPositions(ctx context.Context) ([]*ports.PositionRisk, error) {
	return nil, nil
}
func (m *klineExchange) GetPositionRisk(ctx context.Context, symbol string) (*ports.PositionRisk, error) {
	return nil, nil
}
func (m *klineExchange) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	return nil, nil
}
func (m *klineExchange) GetMaxLeverage(ctx context.Context, symbol string) (int, error) {
	return 20, nil
}
func (m *klineExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}
func (m *klineExchange) SetMarginType(ctx context.Context, symbol string, margin domain.MarginType) error {
	return nil
}
func (m *klineExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, reduceOnly bool) (*ports.OrderResponse, error) {
	return nil, nil
}
func (m *klineExchange) PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, stopPrice float64, reduceOnly bool) (*ports.OrderResponse, error) {
	return nil, nil
}
func (m *klineExchange) PlaceTakeProfitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, stopPrice float64, reduceOnly bool) (*ports.OrderResponse, error) {
	return nil, nil
}
func (m *klineExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	return nil, nil
}
func (m *klineExchange) CancelAllOpenOrders(ctx context.Context, symbol string) error { return nil }
func (m *klineExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	return m.klines[symbol], nil
}

// trendKlines generates count candles starting at base with a constant step
// per candle. A positive step produces a clean uptrend.
func trendKlines(symbol string, count int, base, step float64) []*domain.Kline {
	klines := make([]*domain.Kline, count)
	t := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range klines {
		c := base + float64(i)*step
		klines[i] = &domain.Kline{
			OpenTime:  t.Add(time.Duration(i) * time.Minute),
			CloseTime: t.Add(time.Duration(i+1) * time.Minute),
			Symbol:    symbol,
			Open:      c - step,
			High:      c + 0.5,
			Low:       c - step - 0.5,
			Close:     c,
			Volume:    1000,
		}
	}
	return klines
}

// zigzagKlines generates a trending series with periodic pullbacks so RSI
// stays out of the extreme zones. dir +1 trends up, -1 trends down.
func zigzagKlines(symbol string, count int, base, dir float64) []*domain.Kline {
	klines := trendKlines(symbol, count, base, 0)
	price := base
	for i := 1; i < count; i++ {
		step := dir
		if i%3 == 1 {
			step = -dir
		}
		price += step
		klines[i].Open = klines[i-1].Close
		klines[i].Close = price
		if klines[i].Open > price {
			klines[i].High = klines[i].Open + 0.5
			klines[i].Low = price - 0.5
		} else {
			klines[i].High = price + 0.5
			klines[i].Low = klines[i].Open - 0.5
		}
	}
	return klines
}

// flatKlines generates candles oscillating tightly around base.
func flatKlines(symbol string, count int, base float64) []*domain.Kline {
	klines := trendKlines(symbol, count, base, 0)
	for i := range klines {
		if i%2 == 0 {
			klines[i].Close = base + 0.01
		} else {
			klines[i].Close = base - 0.01
		}
	}
	return klines
}

func newSource(t *testing.T, ex *klineExchange) *Source {
	t.Helper()
	s, err := NewSource(DefaultConfig(), ex, &mockLogger{})
	require.NoError(t, err)
	return s
}

func TestNewSourceValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FastMAPeriod = 60 // Not below the slow period
	_, err := NewSource(cfg, &klineExchange{}, &mockLogger{})
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.KlineLimit = 10
	_, err = NewSource(cfg, &klineExchange{}, &mockLogger{})
	require.Error(t, err)
}

func TestSignalUptrendGoesLong(t *testing.T) {
	ex := &klineExchange{klines: map[string][]*domain.Kline{
		"ETHUSDT": zigzagKlines("ETHUSDT", 100, 100, 1),
	}}
	s := newSource(t, ex)

	sig, err := s.Signal(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionLong, sig.Action)
	assert.Greater(t, sig.Strength, 50.0)
	assert.Less(t, sig.StopLoss, sig.Price)
	assert.NotEmpty(t, sig.Reasons)
}

func TestSignalDowntrendGoesShort(t *testing.T) {
	ex := &klineExchange{klines: map[string][]*domain.Kline{
		"ETHUSDT": zigzagKlines("ETHUSDT", 100, 200, -1),
	}}
	s := newSource(t, ex)

	sig, err := s.Signal(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionShort, sig.Action)
	assert.Greater(t, sig.StopLoss, sig.Price)
}

func TestSignalFlatMarketWaits(t *testing.T) {
	ex := &klineExchange{klines: map[string][]*domain.Kline{
		"ETHUSDT": flatKlines("ETHUSDT", 100, 100),
	}}
	s := newSource(t, ex)

	sig, err := s.Signal(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionWait, sig.Action)
	assert.False(t, sig.IsActionable())
}

func TestSignalInsufficientDataErrors(t *testing.T) {
	ex := &klineExchange{klines: map[string][]*domain.Kline{
		"ETHUSDT": trendKlines("ETHUSDT", 10, 100, 0.5),
	}}
	s := newSource(t, ex)

	_, err := s.Signal(context.Background(), "ETHUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough klines")
}

func TestTechnicalSnapshotScoresTrend(t *testing.T) {
	ex := &klineExchange{klines: map[string][]*domain.Kline{
		"UPUSDT":   trendKlines("UPUSDT", 100, 100, 0.5),
		"FLATUSDT": flatKlines("FLATUSDT", 100, 100),
	}}
	s := newSource(t, ex)

	up, err := s.TechnicalSnapshot(context.Background(), "UPUSDT")
	require.NoError(t, err)
	flat, err := s.TechnicalSnapshot(context.Background(), "FLATUSDT")
	require.NoError(t, err)

	assert.Greater(t, up.Score, flat.Score)
	assert.GreaterOrEqual(t, up.Score, 0.0)
	assert.LessOrEqual(t, up.Score, 100.0)
}

func TestIndicatorMath(t *testing.T) {
	klines := trendKlines("X", 10, 100, 1) // Closes 100..109

	v, err := sma(klines, 5)
	require.NoError(t, err)
	assert.InDelta(t, 107.0, v, 1e-9) // (105+...+109)/5

	_, err = sma(klines, 11)
	require.Error(t, err)

	r, err := rsi(klines, 5)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, r, 1e-9) // Only gains

	e, err := ema(klines, 5)
	require.NoError(t, err)
	assert.Greater(t, e, 102.0) // Weighted towards recent closes
	assert.Less(t, e, 109.0)
}

func TestMarketStateVolatilityAndExtremes(t *testing.T) {
	// Calm market: tight hourly oscillation, small 24h change.
	calm := &klineExchange{
		klines: map[string][]*domain.Kline{btcSymbol: flatKlines(btcSymbol, 24, 50_000)},
		ticker: &ports.Ticker24h{Symbol: btcSymbol, PriceChangePercent: 1.0},
	}
	ms, err := NewMarketSource(calm, &mockLogger{})
	require.NoError(t, err)
	state, err := ms.MarketState(context.Background())
	require.NoError(t, err)
	assert.False(t, state.ExtremeMovement)
	assert.Equal(t, "LOW", state.RiskLevel)
	assert.Less(t, state.BTCVolatility, 1.0)

	// Crash: -12% on the day trips the extreme flag and HIGH risk.
	crash := &klineExchange{
		klines: map[string][]*domain.Kline{btcSymbol: trendKlines(btcSymbol, 24, 50_000, -300)},
		ticker: &ports.Ticker24h{Symbol: btcSymbol, PriceChangePercent: -12.0},
	}
	ms, err = NewMarketSource(crash, &mockLogger{})
	require.NoError(t, err)
	state, err = ms.MarketState(context.Background())
	require.NoError(t, err)
	assert.True(t, state.ExtremeMovement)
	assert.Equal(t, "HIGH", state.RiskLevel)
}
