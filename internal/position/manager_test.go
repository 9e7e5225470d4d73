package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/ports"
	"github.com/berkekorucu/tradebot/internal/risk"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type placedOrder struct {
	kind       string // MARKET, STOP, TP
	symbol     string
	side       domain.OrderSide
	quantity   float64
	stopPrice  float64
	reduceOnly bool
}

// mockExchange records order flow and answers account queries with canned
// values.
type mockExchange struct {
	available   float64
	markPrice   float64
	fillPrice   float64 // AvgPrice reported for market orders
	stopErr     error   // Forced failure for stop-market placement
	nextOrderID int64

	orders      []placedOrder
	canceled    []int64
	canceledAll []string
	leverageSet map[string]int
	marginSet   map[string]domain.MarginType
}

func (m *mockExchange) id() int64 {
	m.nextOrderID++
	return m.nextOrderID
}

func (m *mockExchange) Ping(ctx context.Context) error                       { return nil }
func (m *mockExchange) GetServerTime(ctx context.Context) (time.Time, error) { return time.Now(), nil }
func (m *mockExchange) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return m.markPrice, nil
}
func (m *mockExchange) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}
func (m *mockExchange) Get24hTicker(ctx context.Context, symbol string) (*ports.Ticker24h, error) {
	return &ports.Ticker24h{Symbol: symbol}, nil
}
func (m *mockExchange) Get24hTickers(ctx context.Context) ([]*ports.Ticker24h, error) {
	return nil, nil
}
func (m *mockExchange) GetTopVolumeSymbols(ctx context.Context, quoteAsset string, minQuoteVolume float64, limit int) ([]string, error) {
	return nil, nil
}
func (m *mockExchange) GetAccountBalances(ctx context.Context) ([]*ports.AssetBalance, error) {
	return []*ports.AssetBalance{{Asset: "USDT", WalletBalance: m.available, MarginBalance: m.available, AvailableBalance: m.available}}, nil
}
func (m *mockExchange) GetAvailableBalance(ctx context.Context, asset string) (float64, error) {
	return m.available, nil
}
func (m *mockExchange) GetOpenPositions(ctx context.Context) ([]*ports.PositionRisk, error) {
	return nil, nil
}
func (m *mockExchange) GetPositionRisk(ctx context.Context, symbol string) (*ports.PositionRisk, error) {
	return nil, nil
}
func (m *mockExchange) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	return &ports.SymbolFilters{Symbol: symbol, PricePrecision: 2, QuantityPrecision: 3, TickSize: 0.01, StepSize: 0.001, MinQty: 0.001, MinNotional: 20}, nil
}
func (m *mockExchange) GetMaxLeverage(ctx context.Context, symbol string) (int, error) {
	return 20, nil
}
func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if m.leverageSet == nil {
		m.leverageSet = make(map[string]int)
	}
	m.leverageSet[symbol] = leverage
	return nil
}
func (m *mockExchange) SetMarginType(ctx context.Context, symbol string, margin domain.MarginType) error {
	if m.marginSet == nil {
		m.marginSet = make(map[string]domain.MarginType)
	}
	m.marginSet[symbol] = margin
	return nil
}
func (m *mockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, reduceOnly bool) (*ports.OrderResponse, error) {
	m.orders = append(m.orders, placedOrder{kind: "MARKET", symbol: symbol, side: side, quantity: quantity, reduceOnly: reduceOnly})
	return &ports.OrderResponse{OrderID: m.id(), Symbol: symbol, AvgPrice: m.fillPrice, ExecutedQty: quantity, Status: "FILLED"}, nil
}
func (m *mockExchange) PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, stopPrice float64, reduceOnly bool) (*ports.OrderResponse, error) {
	if m.stopErr != nil {
		return nil, m.stopErr
	}
	m.orders = append(m.orders, placedOrder{kind: "STOP", symbol: symbol, side: side, quantity: quantity, stopPrice: stopPrice, reduceOnly: reduceOnly})
	return &ports.OrderResponse{OrderID: m.id(), Symbol: symbol, Status: "NEW"}, nil
}
func (m *mockExchange) PlaceTakeProfitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, stopPrice float64, reduceOnly bool) (*ports.OrderResponse, error) {
	m.orders = append(m.orders, placedOrder{kind: "TP", symbol: symbol, side: side, quantity: quantity, stopPrice: stopPrice, reduceOnly: reduceOnly})
	return &ports.OrderResponse{OrderID: m.id(), Symbol: symbol, Status: "NEW"}, nil
}
func (m *mockExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	m.canceled = append(m.canceled, orderID)
	return &ports.OrderResponse{OrderID: orderID, Symbol: symbol, Status: "CANCELED"}, nil
}
func (m *mockExchange) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	m.canceledAll = append(m.canceledAll, symbol)
	return nil
}
func (m *mockExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	return nil, nil
}

func (m *mockExchange) ordersOfKind(kind string) []placedOrder {
	var out []placedOrder
	for _, o := range m.orders {
		if o.kind == kind {
			out = append(out, o)
		}
	}
	return out
}

func riskConfig() risk.Config {
	return risk.Config{
		QuoteAsset:           "USDT",
		AccountRiskPerTrade:  1.0,
		MaxAccountRisk:       5.0,
		MaxDrawdown:          10.0,
		MaxOpenPositions:     5,
		MaxDailyTrades:       20,
		ProfitThresholdDaily: 50.0,
		LossThresholdDaily:   50.0,
		DefaultLeverage:      3,
		MaxLeverage:          10,
		AutoLeverage:         true,
		SizingMode:           domain.SizingRiskBased,
		FixedPositionSize:    100,
		StaticSLPercent:      2.0,
		TPTargets:            []float64{1.5, 3.0, 5.0},
		TPQuantities:         []float64{30, 30, 40},
	}
}

func positionConfig() Config {
	return Config{
		MarginType:            domain.MarginIsolated,
		TrailingEnabled:       true,
		TrailingDistance:      1.0,
		TrailingInterval:      0.5,
		PartialCloseEnabled:   true,
		PartialCloseThreshold: 2.0,
		PartialClosePct:       50,
	}
}

func newTestManager(t *testing.T, ex *mockExchange) (*Manager, *risk.Manager) {
	t.Helper()
	rm, err := risk.New(riskConfig(), ex, nil, &mockLogger{})
	require.NoError(t, err)
	require.NoError(t, rm.RefreshAccount(context.Background()))
	pm, err := New(positionConfig(), ex, rm, &mockLogger{}, nil)
	require.NoError(t, err)
	return pm, rm
}

func longSignal(strength, entry, stop float64) *domain.Signal {
	return &domain.Signal{Symbol: "ETHUSDT", Action: domain.ActionLong, Strength: strength, Price: entry, StopLoss: stop}
}

func TestOpenPlacesEntryStopAndLadder(t *testing.T) {
	ex := &mockExchange{available: 10_000, markPrice: 100, fillPrice: 100}
	pm, rm := newTestManager(t, ex)

	opened, err := pm.Open(context.Background(), longSignal(80, 100, 98))
	require.NoError(t, err)
	assert.True(t, opened)

	// Sizing: 2% stop, leverage 5, notional capped at 2.5k, quantity 125.
	markets := ex.ordersOfKind("MARKET")
	require.Len(t, markets, 1)
	assert.Equal(t, domain.Buy, markets[0].side)
	assert.InDelta(t, 125.0, markets[0].quantity, 1e-9)
	assert.False(t, markets[0].reduceOnly)

	stops := ex.ordersOfKind("STOP")
	require.Len(t, stops, 1)
	assert.Equal(t, domain.Sell, stops[0].side)
	assert.InDelta(t, 98.0, stops[0].stopPrice, 1e-9)
	assert.True(t, stops[0].reduceOnly)

	tps := ex.ordersOfKind("TP")
	require.Len(t, tps, 3)
	assert.InDelta(t, 101.5, tps[0].stopPrice, 1e-9)
	assert.InDelta(t, 103.0, tps[1].stopPrice, 1e-9)
	assert.InDelta(t, 105.0, tps[2].stopPrice, 1e-9)
	assert.InDelta(t, 37.5, tps[0].quantity, 1e-9)
	assert.InDelta(t, 37.5, tps[1].quantity, 1e-9)
	assert.InDelta(t, 50.0, tps[2].quantity, 1e-9)
	for _, tp := range tps {
		assert.True(t, tp.reduceOnly)
		assert.Equal(t, domain.Sell, tp.side)
	}

	assert.Equal(t, 5, ex.leverageSet["ETHUSDT"])
	assert.Equal(t, domain.MarginIsolated, ex.marginSet["ETHUSDT"])

	snap := pm.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, PhaseOpen, snap[0].Phase)
	assert.InDelta(t, 98.0, snap[0].StopPrice, 1e-9)

	ledger := rm.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, domain.TradeOpen, ledger[0].Kind)
}

func TestOpenSameDirectionIsNoOp(t *testing.T) {
	ex := &mockExchange{available: 10_000, markPrice: 100, fillPrice: 100}
	pm, _ := newTestManager(t, ex)

	opened, err := pm.Open(context.Background(), longSignal(80, 100, 98))
	require.NoError(t, err)
	require.True(t, opened)
	before := len(ex.orders)

	opened, err = pm.Open(context.Background(), longSignal(90, 100, 98))
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Len(t, ex.orders, before)
}

func TestReversalClosesThenReopens(t *testing.T) {
	ex := &mockExchange{available: 10_000, markPrice: 100, fillPrice: 100}
	pm, rm := newTestManager(t, ex)

	_, err := pm.Open(context.Background(), longSignal(80, 100, 98))
	require.NoError(t, err)

	short := &domain.Signal{Symbol: "ETHUSDT", Action: domain.ActionShort, Strength: 80, Price: 100, StopLoss: 102}
	changed, err := pm.ProcessSignal(context.Background(), short)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Contains(t, ex.canceledAll, "ETHUSDT")

	markets := ex.ordersOfKind("MARKET")
	require.Len(t, markets, 3) // open long, reduce-only close, open short
	assert.Equal(t, domain.Sell, markets[1].side)
	assert.True(t, markets[1].reduceOnly)
	assert.Equal(t, domain.Sell, markets[2].side)
	assert.False(t, markets[2].reduceOnly)

	snap := pm.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, domain.Sell, snap[0].Side)

	kinds := make([]domain.TradeEventKind, 0, 3)
	for _, rec := range rm.Ledger() {
		kinds = append(kinds, rec.Kind)
	}
	assert.Equal(t, []domain.TradeEventKind{domain.TradeOpen, domain.TradeClose, domain.TradeOpen}, kinds)
}

func TestTrailingStopAdvancesWithAntiChatter(t *testing.T) {
	ex := &mockExchange{available: 10_000, markPrice: 100, fillPrice: 100}
	pm, _ := newTestManager(t, ex)
	_, err := pm.Open(context.Background(), longSignal(80, 100, 98))
	require.NoError(t, err)

	// Candidate 99.0 clears 98 * 1.005 = 98.49, so the stop moves.
	moved, err := pm.UpdateTrailingStop(context.Background(), "ETHUSDT", 100)
	require.NoError(t, err)
	assert.True(t, moved)
	stops := ex.ordersOfKind("STOP")
	require.Len(t, stops, 2)
	assert.InDelta(t, 99.0, stops[1].stopPrice, 1e-9)
	require.Len(t, ex.canceled, 1)

	// Candidate 99.198 does not clear 99 * 1.005 = 99.495.
	moved, err = pm.UpdateTrailingStop(context.Background(), "ETHUSDT", 100.2)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Len(t, ex.ordersOfKind("STOP"), 2)

	// Candidate 99.99 clears 99.495.
	moved, err = pm.UpdateTrailingStop(context.Background(), "ETHUSDT", 101)
	require.NoError(t, err)
	assert.True(t, moved)
	stops = ex.ordersOfKind("STOP")
	require.Len(t, stops, 3)
	assert.InDelta(t, 99.99, stops[2].stopPrice, 1e-9)
}

func TestTrailingShortMirrors(t *testing.T) {
	ex := &mockExchange{available: 10_000, markPrice: 100, fillPrice: 100}
	pm, _ := newTestManager(t, ex)
	short := &domain.Signal{Symbol: "ETHUSDT", Action: domain.ActionShort, Strength: 80, Price: 100, StopLoss: 102}
	_, err := pm.Open(context.Background(), short)
	require.NoError(t, err)

	// Candidate 97.97 must be under 102 * 0.995 = 101.49; it is, so it moves down.
	moved, err := pm.UpdateTrailingStop(context.Background(), "ETHUSDT", 97)
	require.NoError(t, err)
	assert.True(t, moved)
	stops := ex.ordersOfKind("STOP")
	assert.InDelta(t, 97*1.01, stops[len(stops)-1].stopPrice, 1e-9)

	// Price moving back up never loosens the stop.
	moved, err = pm.UpdateTrailingStop(context.Background(), "ETHUSDT", 99)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestPartialCloseFiresOnce(t *testing.T) {
	ex := &mockExchange{available: 10_000, markPrice: 100, fillPrice: 100}
	pm, rm := newTestManager(t, ex)
	_, err := pm.Open(context.Background(), longSignal(80, 100, 98))
	require.NoError(t, err)

	// ROE at 100.5 with 5x leverage is 2.5%, above the 2% threshold.
	ex.fillPrice = 100.5
	fired, err := pm.CheckPartialClose(context.Background(), "ETHUSDT", 100.5)
	require.NoError(t, err)
	assert.True(t, fired)

	markets := ex.ordersOfKind("MARKET")
	require.Len(t, markets, 2)
	assert.True(t, markets[1].reduceOnly)
	assert.InDelta(t, 62.5, markets[1].quantity, 1e-9)

	snap := pm.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, PhasePartiallyClosed, snap[0].Phase)
	assert.InDelta(t, 62.5, snap[0].Quantity, 1e-9)

	// Even deeper in profit, the second check must not fire again.
	fired, err = pm.CheckPartialClose(context.Background(), "ETHUSDT", 103)
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Len(t, ex.ordersOfKind("MARKET"), 2)

	var partials int
	for _, rec := range rm.Ledger() {
		if rec.Kind == domain.TradePartialClose {
			partials++
			assert.InDelta(t, 31.25, rec.PNL, 1e-9) // 0.5 * 62.5
		}
	}
	assert.Equal(t, 1, partials)
}

func TestPartialCloseBelowThresholdDoesNothing(t *testing.T) {
	ex := &mockExchange{available: 10_000, markPrice: 100, fillPrice: 100}
	pm, _ := newTestManager(t, ex)
	_, err := pm.Open(context.Background(), longSignal(80, 100, 98))
	require.NoError(t, err)

	// ROE at 100.2 is 1%, under the 2% threshold.
	fired, err := pm.CheckPartialClose(context.Background(), "ETHUSDT", 100.2)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestCloseRealizesPNL(t *testing.T) {
	ex := &mockExchange{available: 10_000, markPrice: 100, fillPrice: 100}
	pm, rm := newTestManager(t, ex)
	_, err := pm.Open(context.Background(), longSignal(80, 100, 98))
	require.NoError(t, err)

	ex.fillPrice = 102
	pnl, err := pm.Close(context.Background(), "ETHUSDT", "test exit")
	require.NoError(t, err)
	assert.InDelta(t, 250.0, pnl, 1e-9) // (102-100) * 125

	assert.False(t, pm.Has("ETHUSDT"))
	assert.Contains(t, ex.canceledAll, "ETHUSDT")

	ledger := rm.Ledger()
	require.Len(t, ledger, 2)
	assert.Equal(t, domain.TradeClose, ledger[1].Kind)
	assert.InDelta(t, 250.0, ledger[1].PNL, 1e-9)
}

func TestCloseNotifiesOutcomeHook(t *testing.T) {
	ex := &mockExchange{available: 10_000, markPrice: 100, fillPrice: 100}
	rm, err := risk.New(riskConfig(), ex, nil, &mockLogger{})
	require.NoError(t, err)
	require.NoError(t, rm.RefreshAccount(context.Background()))

	var gotSymbol string
	var gotPNL float64
	cfg := positionConfig()
	cfg.OnClose = func(symbol string, pnl float64) {
		gotSymbol = symbol
		gotPNL = pnl
	}
	pm, err := New(cfg, ex, rm, &mockLogger{}, nil)
	require.NoError(t, err)

	_, err = pm.Open(context.Background(), longSignal(80, 100, 98))
	require.NoError(t, err)

	ex.fillPrice = 99
	_, err = pm.Close(context.Background(), "ETHUSDT", "test exit")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", gotSymbol)
	assert.InDelta(t, -125.0, gotPNL, 1e-9) // (99-100) * 125
}

func TestProtectionModeBlocksEntry(t *testing.T) {
	ex := &mockExchange{available: 10_000, markPrice: 100, fillPrice: 100}
	pm, rm := newTestManager(t, ex)

	rm.SetMarketState(&domain.MarketState{BTCVolatility: 3.5, UpdatedAt: time.Now()})
	rm.UpdateProtection(context.Background())
	require.True(t, rm.ProtectionActive())

	opened, err := pm.Open(context.Background(), longSignal(80, 100, 98))
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Empty(t, ex.orders)
}

func TestTightenStopsPullsStopsIn(t *testing.T) {
	ex := &mockExchange{available: 10_000, markPrice: 100, fillPrice: 100}
	pm, _ := newTestManager(t, ex)
	_, err := pm.Open(context.Background(), longSignal(80, 100, 98))
	require.NoError(t, err)

	// Half the 1% trailing distance from mark price 100 is 99.5, above the
	// resting 98 stop, so the stop is replaced.
	pm.TightenStops(context.Background())

	stops := ex.ordersOfKind("STOP")
	require.Len(t, stops, 2)
	assert.InDelta(t, 99.5, stops[1].stopPrice, 1e-9)

	snap := pm.Snapshot()
	require.Len(t, snap, 1)
	assert.InDelta(t, 99.5, snap[0].StopPrice, 1e-9)

	// A second tighten at the same price finds nothing favorable.
	pm.TightenStops(context.Background())
	assert.Len(t, ex.ordersOfKind("STOP"), 2)
}

func TestStopPlacementFailureKeepsPositionTracked(t *testing.T) {
	ex := &mockExchange{available: 10_000, markPrice: 100, fillPrice: 100, stopErr: errors.New("venue down")}
	pm, rm := newTestManager(t, ex)

	opened, err := pm.Open(context.Background(), longSignal(80, 100, 98))
	require.Error(t, err)
	assert.True(t, opened)
	assert.True(t, pm.Has("ETHUSDT"))

	// The entry fill is on the ledger even though protection failed.
	ledger := rm.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, domain.TradeOpen, ledger[0].Kind)
}

func TestProcessSignalWaitRunsMaintenanceOnly(t *testing.T) {
	ex := &mockExchange{available: 10_000, markPrice: 100, fillPrice: 100}
	pm, _ := newTestManager(t, ex)
	_, err := pm.Open(context.Background(), longSignal(80, 100, 98))
	require.NoError(t, err)
	entryOrders := len(ex.orders)

	// At 99 the trailing candidate (98.01) does not clear 98 * 1.005 and the
	// position is under water, so nothing happens.
	wait := &domain.Signal{Symbol: "ETHUSDT", Action: domain.ActionWait, Price: 99}
	changed, err := pm.ProcessSignal(context.Background(), wait)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, ex.orders, entryOrders)

	wait.Price = 101
	changed, err = pm.ProcessSignal(context.Background(), wait)
	require.NoError(t, err)
	assert.True(t, changed) // Trailing advanced (and the winner was partially banked)
}

func TestProcessSignalWaitWithoutPositionIsNoOp(t *testing.T) {
	ex := &mockExchange{available: 10_000, markPrice: 100, fillPrice: 100}
	pm, _ := newTestManager(t, ex)

	wait := &domain.Signal{Symbol: "ETHUSDT", Action: domain.ActionWait}
	changed, err := pm.ProcessSignal(context.Background(), wait)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, ex.orders)
}
