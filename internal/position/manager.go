// Package position owns the per-symbol order lifecycle: entries, stops and
// take-profit ladders, trailing-stop replacement, partial closes, and the
// signal reducer. All mutations run under one process-wide lock.
package position

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/ports"
	"github.com/berkekorucu/tradebot/internal/risk"
)

// Phase is the explicit per-symbol lifecycle state.
type Phase int

const (
	PhaseFlat Phase = iota
	PhaseOpening
	PhaseOpen
	PhasePartiallyClosed
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseOpening:
		return "OPENING"
	case PhaseOpen:
		return "OPEN"
	case PhasePartiallyClosed:
		return "PARTIALLY_CLOSED"
	case PhaseClosing:
		return "CLOSING"
	default:
		return "FLAT"
	}
}

// Tracked is the in-memory bookkeeping for one managed position.
type Tracked struct {
	Symbol         string
	Side           domain.OrderSide
	Phase          Phase
	EntryPrice     float64
	Quantity       float64
	Leverage       int
	StopOrderID    int64
	StopPrice      float64
	TPOrderIDs     []int64
	OpenedAt       time.Time
	PartialCloseAt time.Time
}

func (t *Tracked) direction() float64 {
	if t.Side == domain.Sell {
		return -1
	}
	return 1
}

// roePct is the leveraged return on the position at the given price.
func (t *Tracked) roePct(price float64) float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	return (price - t.EntryPrice) / t.EntryPrice * 100 * t.direction() * float64(t.Leverage)
}

// Config carries the lifecycle knobs. Percentages are whole numbers.
type Config struct {
	MarginType            domain.MarginType
	TrailingEnabled       bool
	TrailingDistance      float64
	TrailingInterval      float64
	PartialCloseEnabled   bool
	PartialCloseThreshold float64 // ROE percent that triggers the partial close
	PartialClosePct       float64 // Share of the position closed

	// OnClose is notified with the realized PnL of every full close; the
	// engine wires it to the opportunity pool's outcome tracking.
	OnClose func(symbol string, pnl float64)
}

// Manager executes position lifecycle transitions. The single mutex
// serializes open/close/trailing/partial mutations across every symbol.
type Manager struct {
	cfg       Config
	exchange  ports.ExchangeClient
	risk      *risk.Manager
	logger    ports.Logger
	presenter ports.Presenter // Optional
	now       func() time.Time

	mu      sync.Mutex
	tracked map[string]*Tracked
}

// New creates a position manager and registers it as the risk layer's stop
// tightener.
func New(cfg Config, exchange ports.ExchangeClient, riskMgr *risk.Manager, logger ports.Logger, presenter ports.Presenter) (*Manager, error) {
	if exchange == nil {
		return nil, fmt.Errorf("exchange client is required")
	}
	if riskMgr == nil {
		return nil, fmt.Errorf("risk manager is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	m := &Manager{
		cfg:       cfg,
		exchange:  exchange,
		risk:      riskMgr,
		logger:    logger,
		presenter: presenter,
		now:       time.Now,
		tracked:   make(map[string]*Tracked),
	}
	riskMgr.SetStopTightener(m)
	return m, nil
}

// Snapshot returns a copy of every tracked position.
func (m *Manager) Snapshot() []Tracked {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Tracked, 0, len(m.tracked))
	for _, t := range m.tracked {
		out = append(out, *t)
	}
	return out
}

// Has reports whether the symbol is currently managed.
func (m *Manager) Has(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tracked[symbol]
	return ok
}

// Open enters a position for an actionable signal. An existing same-direction
// position is a no-op; an opposing one is closed first. Returns whether a new
// position was opened.
func (m *Manager) Open(ctx context.Context, signal *domain.Signal) (bool, error) {
	if !signal.IsActionable() {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tracked[signal.Symbol]; ok {
		if t.Side == signal.Side() {
			m.logger.Debug(ctx, "position already open in signal direction", map[string]interface{}{"symbol": signal.Symbol, "side": t.Side})
			return false, nil
		}
		if _, err := m.closeLocked(ctx, t, "reversal"); err != nil {
			return false, fmt.Errorf("close opposing position: %w", err)
		}
	}

	if err := m.risk.CheckRiskLimits(ctx); err != nil {
		m.logger.Info(ctx, "entry refused by risk gate", map[string]interface{}{"symbol": signal.Symbol, "reason": err.Error()})
		return false, nil
	}

	plan, err := m.risk.CalculatePositionSize(ctx, signal)
	if err != nil {
		return false, fmt.Errorf("sizing: %w", err)
	}
	return true, m.enterLocked(ctx, plan)
}

// enterLocked executes a sized plan: margin type, leverage, market entry,
// then the protective stop and the TP ladder.
func (m *Manager) enterLocked(ctx context.Context, plan *risk.PositionPlan) error {
	t := &Tracked{
		Symbol:   plan.Symbol,
		Side:     plan.Side,
		Phase:    PhaseOpening,
		Leverage: plan.Leverage,
	}
	m.tracked[plan.Symbol] = t

	fail := func(err error) error {
		delete(m.tracked, plan.Symbol)
		return err
	}

	if err := m.exchange.SetMarginType(ctx, plan.Symbol, m.cfg.MarginType); err != nil {
		return fail(fmt.Errorf("set margin type: %w", err))
	}
	if err := m.exchange.SetLeverage(ctx, plan.Symbol, plan.Leverage); err != nil {
		return fail(fmt.Errorf("set leverage: %w", err))
	}

	order, err := m.exchange.PlaceMarketOrder(ctx, plan.Symbol, plan.Side, plan.Quantity, false)
	if err != nil {
		return fail(fmt.Errorf("entry order: %w", err))
	}

	entryPrice := order.AvgPrice
	if entryPrice <= 0 {
		entryPrice = plan.EntryPrice
	}
	filled := order.ExecutedQty
	if filled <= 0 {
		filled = plan.Quantity
	}

	t.Phase = PhaseOpen
	t.EntryPrice = entryPrice
	t.Quantity = filled
	t.OpenedAt = m.now()

	m.risk.RecordTrade(ctx, &domain.TradeRecord{
		Symbol:   plan.Symbol,
		Side:     plan.Side,
		Kind:     domain.TradeOpen,
		Price:    entryPrice,
		Quantity: filled,
		Leverage: plan.Leverage,
		Time:     t.OpenedAt,
	})
	m.activity(ctx, "ENTRY", fmt.Sprintf("opened %s %s", plan.Side, plan.Symbol), map[string]interface{}{
		"symbol": plan.Symbol, "quantity": filled, "entryPrice": entryPrice, "leverage": plan.Leverage,
	})

	// Protective orders after the fill. A failure here leaves live exposure;
	// it is surfaced, not rolled back, and the monitor loop keeps working the
	// position with whatever orders did land.
	exitSide := opposite(plan.Side)
	stopOrder, err := m.exchange.PlaceStopMarketOrder(ctx, plan.Symbol, exitSide, filled, plan.StopPrice, true)
	if err != nil {
		m.logger.Error(ctx, err, "stop order placement failed, position unprotected", map[string]interface{}{"symbol": plan.Symbol, "stopPrice": plan.StopPrice})
		return fmt.Errorf("stop order: %w", err)
	}
	t.StopOrderID = stopOrder.OrderID
	t.StopPrice = plan.StopPrice

	for i, level := range plan.TakeProfits {
		qty := filled * level.QuantityPct / 100
		tpOrder, err := m.exchange.PlaceTakeProfitMarketOrder(ctx, plan.Symbol, exitSide, qty, level.Price, true)
		if err != nil {
			m.logger.Error(ctx, err, "take profit placement failed", map[string]interface{}{"symbol": plan.Symbol, "level": i + 1, "price": level.Price})
			return fmt.Errorf("take profit level %d: %w", i+1, err)
		}
		t.TPOrderIDs = append(t.TPOrderIDs, tpOrder.OrderID)
	}
	return nil
}

// Close exits the full remaining position and returns the realized PnL.
func (m *Manager) Close(ctx context.Context, symbol, reason string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracked[symbol]
	if !ok {
		return 0, fmt.Errorf("no tracked position for %s", symbol)
	}
	return m.closeLocked(ctx, t, reason)
}

func (m *Manager) closeLocked(ctx context.Context, t *Tracked, reason string) (float64, error) {
	t.Phase = PhaseClosing

	if err := m.exchange.CancelAllOpenOrders(ctx, t.Symbol); err != nil {
		m.logger.Warn(ctx, "cancel open orders before close failed", map[string]interface{}{"symbol": t.Symbol, "error": err.Error()})
	}

	order, err := m.exchange.PlaceMarketOrder(ctx, t.Symbol, opposite(t.Side), t.Quantity, true)
	if err != nil {
		// Exposure persists; stay tracked so the monitor keeps working it.
		t.Phase = PhaseOpen
		return 0, fmt.Errorf("close order for %s: %w", t.Symbol, err)
	}

	exit := order.AvgPrice
	pnl := (exit - t.EntryPrice) * t.Quantity * t.direction()
	m.risk.RecordTrade(ctx, &domain.TradeRecord{
		Symbol:   t.Symbol,
		Side:     opposite(t.Side),
		Kind:     domain.TradeClose,
		Price:    exit,
		Quantity: t.Quantity,
		Leverage: t.Leverage,
		PNL:      pnl,
		Time:     m.now(),
	})
	m.activity(ctx, "EXIT", fmt.Sprintf("closed %s (%s)", t.Symbol, reason), map[string]interface{}{
		"symbol": t.Symbol, "pnl": pnl, "exitPrice": exit, "reason": reason,
	})

	delete(m.tracked, t.Symbol)
	if m.cfg.OnClose != nil {
		m.cfg.OnClose(t.Symbol, pnl)
	}
	return pnl, nil
}

// UpdateTrailingStop ratchets the stop in the favorable direction once price
// has moved past the anti-chatter interval. Returns whether the stop moved.
func (m *Manager) UpdateTrailingStop(ctx context.Context, symbol string, currentPrice float64) (bool, error) {
	if !m.cfg.TrailingEnabled {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracked[symbol]
	if !ok || t.StopOrderID == 0 || (t.Phase != PhaseOpen && t.Phase != PhasePartiallyClosed) {
		return false, nil
	}

	var candidate float64
	var accepted bool
	if t.Side == domain.Buy {
		candidate = currentPrice * (1 - m.cfg.TrailingDistance/100)
		accepted = candidate > t.StopPrice*(1+m.cfg.TrailingInterval/100)
	} else {
		candidate = currentPrice * (1 + m.cfg.TrailingDistance/100)
		accepted = candidate < t.StopPrice*(1-m.cfg.TrailingInterval/100)
	}
	if !accepted {
		return false, nil
	}
	if err := m.replaceStopLocked(ctx, t, candidate); err != nil {
		return false, err
	}
	m.logger.Info(ctx, "trailing stop advanced", map[string]interface{}{"symbol": symbol, "stopPrice": t.StopPrice, "price": currentPrice})
	return true, nil
}

// replaceStopLocked cancels the live stop order and places one at newStop.
// The venue has no in-place trigger edits.
func (m *Manager) replaceStopLocked(ctx context.Context, t *Tracked, newStop float64) error {
	if t.StopOrderID != 0 {
		if _, err := m.exchange.CancelOrder(ctx, t.Symbol, t.StopOrderID); err != nil {
			return fmt.Errorf("cancel stop for %s: %w", t.Symbol, err)
		}
	}
	order, err := m.exchange.PlaceStopMarketOrder(ctx, t.Symbol, opposite(t.Side), t.Quantity, newStop, true)
	if err != nil {
		t.StopOrderID = 0 // The old stop is gone; next cycle must re-place
		return fmt.Errorf("place stop for %s: %w", t.Symbol, err)
	}
	t.StopOrderID = order.OrderID
	t.StopPrice = newStop
	return nil
}

// CheckPartialClose banks part of a winner once ROE clears the threshold.
// At most one partial close happens per position. Returns whether it fired.
func (m *Manager) CheckPartialClose(ctx context.Context, symbol string, currentPrice float64) (bool, error) {
	if !m.cfg.PartialCloseEnabled {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracked[symbol]
	if !ok || t.Phase != PhaseOpen {
		return false, nil
	}
	if t.roePct(currentPrice) < m.cfg.PartialCloseThreshold {
		return false, nil
	}

	closeQty := t.Quantity * m.cfg.PartialClosePct / 100
	order, err := m.exchange.PlaceMarketOrder(ctx, t.Symbol, opposite(t.Side), closeQty, true)
	if err != nil {
		return false, fmt.Errorf("partial close for %s: %w", symbol, err)
	}

	exit := order.AvgPrice
	if exit <= 0 {
		exit = currentPrice
	}
	pnl := (exit - t.EntryPrice) * closeQty * t.direction()
	t.Quantity -= closeQty
	t.Phase = PhasePartiallyClosed
	t.PartialCloseAt = m.now()

	m.risk.RecordTrade(ctx, &domain.TradeRecord{
		Symbol:   t.Symbol,
		Side:     opposite(t.Side),
		Kind:     domain.TradePartialClose,
		Price:    exit,
		Quantity: closeQty,
		Leverage: t.Leverage,
		PNL:      pnl,
		Time:     m.now(),
	})
	m.activity(ctx, "PARTIAL_CLOSE", fmt.Sprintf("banked %.0f%% of %s", m.cfg.PartialClosePct, t.Symbol), map[string]interface{}{
		"symbol": t.Symbol, "pnl": pnl, "closedQuantity": closeQty, "remaining": t.Quantity,
	})
	return true, nil
}

// ProcessSignal is the top-level reducer: open on a fresh tradable signal,
// close-and-reopen on a reversal, otherwise run the trailing and partial
// checks. Returns whether any state changed.
func (m *Manager) ProcessSignal(ctx context.Context, signal *domain.Signal) (bool, error) {
	m.mu.Lock()
	t, exists := m.tracked[signal.Symbol]
	var side domain.OrderSide
	if exists {
		side = t.Side
	}
	m.mu.Unlock()

	if !exists {
		if !signal.IsActionable() {
			return false, nil
		}
		return m.Open(ctx, signal)
	}

	if signal.IsActionable() && signal.Side() != side {
		if _, err := m.Close(ctx, signal.Symbol, "signal reversal"); err != nil {
			return false, err
		}
		_, err := m.Open(ctx, signal)
		return true, err
	}

	price := signal.Price
	if price <= 0 {
		var err error
		price, err = m.exchange.GetMarkPrice(ctx, signal.Symbol)
		if err != nil {
			return false, err
		}
	}
	moved, err := m.UpdateTrailingStop(ctx, signal.Symbol, price)
	if err != nil {
		return moved, err
	}
	partial, err := m.CheckPartialClose(ctx, signal.Symbol, price)
	return moved || partial, err
}

// TightenStops pulls every live stop to half the trailing distance from the
// current price. Called by the risk layer when protection mode engages; only
// favorable moves are applied.
func (m *Manager) TightenStops(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	halfDist := m.cfg.TrailingDistance / 2
	if halfDist <= 0 {
		halfDist = 0.5
	}
	for _, t := range m.tracked {
		if t.StopOrderID == 0 || (t.Phase != PhaseOpen && t.Phase != PhasePartiallyClosed) {
			continue
		}
		price, err := m.exchange.GetMarkPrice(ctx, t.Symbol)
		if err != nil {
			m.logger.Warn(ctx, "tighten stops: mark price unavailable", map[string]interface{}{"symbol": t.Symbol, "error": err.Error()})
			continue
		}
		var candidate float64
		var favorable bool
		if t.Side == domain.Buy {
			candidate = price * (1 - halfDist/100)
			favorable = candidate > t.StopPrice
		} else {
			candidate = price * (1 + halfDist/100)
			favorable = candidate < t.StopPrice
		}
		if !favorable {
			continue
		}
		if err := m.replaceStopLocked(ctx, t, candidate); err != nil {
			m.logger.Error(ctx, err, "tighten stops: replacement failed", map[string]interface{}{"symbol": t.Symbol})
			continue
		}
		m.logger.Warn(ctx, "stop tightened under protection mode", map[string]interface{}{"symbol": t.Symbol, "stopPrice": candidate})
	}
}

// Monitor runs the trailing and partial checks for one tracked symbol from
// fresh mark price; used by the position monitor loop.
func (m *Manager) Monitor(ctx context.Context, symbol string) error {
	m.mu.Lock()
	_, ok := m.tracked[symbol]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	price, err := m.exchange.GetMarkPrice(ctx, symbol)
	if err != nil {
		return err
	}
	if _, err := m.UpdateTrailingStop(ctx, symbol, price); err != nil {
		return err
	}
	_, err = m.CheckPartialClose(ctx, symbol, price)
	return err
}

// activity reports a discrete event to the presenter when one is attached.
// Presenter faults must never reach the trading core.
func (m *Manager) activity(ctx context.Context, kind, msg string, fields map[string]interface{}) {
	m.logger.Info(ctx, msg, fields)
	if m.presenter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn(ctx, "presenter panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
		}
	}()
	m.presenter.LogActivity(kind, msg, fields)
}

func opposite(side domain.OrderSide) domain.OrderSide {
	if side == domain.Buy {
		return domain.Sell
	}
	return domain.Buy
}

// Exposure returns the total absolute notional of tracked positions at the
// given price lookup, for status reporting.
func (m *Manager) Exposure(prices map[string]float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, t := range m.tracked {
		p, ok := prices[t.Symbol]
		if !ok {
			p = t.EntryPrice
		}
		total += math.Abs(t.Quantity * p)
	}
	return total
}
