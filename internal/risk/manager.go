// Package risk owns the account snapshot, the drawdown and protection-mode
// circuit breaker, the hard entry gate, and position sizing.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/metrics"
	"github.com/berkekorucu/tradebot/internal/ports"
)

// Config carries the risk parameters. Percentages are whole numbers (1.0 == 1%).
type Config struct {
	QuoteAsset           string
	AccountRiskPerTrade  float64
	MaxAccountRisk       float64
	MaxDrawdown          float64
	MaxOpenPositions     int
	MaxDailyTrades       int
	ProfitThresholdDaily float64
	LossThresholdDaily   float64
	DefaultLeverage      int
	MaxLeverage          int
	AutoLeverage         bool
	SizingMode           domain.SizingMode
	FixedPositionSize    float64
	StaticSLPercent      float64
	TPTargets            []float64
	TPQuantities         []float64
}

// Manager guards the account. All mutable state sits behind one mutex and is
// replaced wholesale on refresh so readers always see a consistent snapshot.
type Manager struct {
	cfg      Config
	exchange ports.ExchangeClient
	repo     ports.TradeRepository // Optional ledger persistence
	logger   ports.Logger
	now      func() time.Time

	mu               sync.Mutex
	balance          float64
	available        float64
	prevBalance      float64
	initialBalance   float64
	peakBalance      float64
	positions        []*ports.PositionRisk
	known            map[string]*ports.PositionRisk // Positions we have accounted for
	openTimes        map[string]time.Time
	protection       ProtectionState
	protectionReason string
	protectionSince  time.Time
	market           *domain.MarketState
	tightener        StopTightener
	ledger           []*domain.TradeRecord
	dayKey           string
	dayStart         float64
	daily            *domain.DailyStats
}

// New creates a risk manager. repo may be nil; persistence is best-effort.
func New(cfg Config, exchange ports.ExchangeClient, repo ports.TradeRepository, logger ports.Logger) (*Manager, error) {
	if exchange == nil {
		return nil, fmt.Errorf("exchange client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if len(cfg.TPTargets) != len(cfg.TPQuantities) {
		return nil, fmt.Errorf("TP targets and quantities must align")
	}
	return &Manager{
		cfg:       cfg,
		exchange:  exchange,
		repo:      repo,
		logger:    logger,
		now:       time.Now,
		known:     make(map[string]*ports.PositionRisk),
		openTimes: make(map[string]time.Time),
	}, nil
}

// SetStopTightener wires the delegate notified when protection engages.
func (m *Manager) SetStopTightener(t StopTightener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tightener = t
}

// SetMarketState replaces the market snapshot consumed by protection triggers
// and stop-loss widening.
func (m *Manager) SetMarketState(ms *domain.MarketState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.market = ms
}

// RefreshAccount pulls balances and open positions, advances the balance
// peak, rolls the daily stats window, and reconciles manual exchange-side
// position changes into the ledger.
func (m *Manager) RefreshAccount(ctx context.Context) error {
	available, err := m.exchange.GetAvailableBalance(ctx, m.cfg.QuoteAsset)
	if err != nil {
		return fmt.Errorf("refresh account: %w", err)
	}
	balances, err := m.exchange.GetAccountBalances(ctx)
	if err != nil {
		return fmt.Errorf("refresh account: %w", err)
	}
	positions, err := m.exchange.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("refresh account: %w", err)
	}

	var wallet float64
	for _, b := range balances {
		if b.Asset == m.cfg.QuoteAsset {
			wallet = b.MarginBalance
			break
		}
	}

	var manualRecords []*domain.TradeRecord

	m.mu.Lock()
	m.prevBalance = m.balance
	m.balance = wallet
	m.available = available
	if m.initialBalance == 0 {
		m.initialBalance = wallet
	}
	if wallet > m.peakBalance {
		m.peakBalance = wallet
	}
	m.positions = positions
	m.rollDayLocked()

	// Reconcile: exchange state is the truth, the known set is what the bot
	// has accounted for. Differences mean someone acted on the venue directly.
	current := make(map[string]*ports.PositionRisk, len(positions))
	for _, p := range positions {
		current[p.Symbol] = p
	}
	for sym, p := range current {
		if _, ok := m.known[sym]; ok {
			m.known[sym] = p
			continue
		}
		m.known[sym] = p
		m.openTimes[sym] = m.now()
		manualRecords = append(manualRecords, &domain.TradeRecord{
			Symbol:   sym,
			Side:     sideOf(p.PositionAmt),
			Kind:     domain.TradeManualOpen,
			Price:    p.EntryPrice,
			Quantity: math.Abs(p.PositionAmt),
			Leverage: p.Leverage,
			Time:     m.now(),
		})
	}
	for sym, p := range m.known {
		if _, ok := current[sym]; ok {
			continue
		}
		delete(m.known, sym)
		// Fill price is unobservable after the fact; PnL stays zero.
		manualRecords = append(manualRecords, &domain.TradeRecord{
			Symbol:   sym,
			Side:     opposite(sideOf(p.PositionAmt)),
			Kind:     domain.TradeManualClose,
			Quantity: math.Abs(p.PositionAmt),
			Leverage: p.Leverage,
			Time:     m.now(),
		})
	}

	metrics.OpenPositions.Set(float64(len(positions)))
	metrics.DrawdownPercent.Set(m.drawdownLocked())
	m.mu.Unlock()

	for _, rec := range manualRecords {
		m.logger.Warn(ctx, "manual position change detected", map[string]interface{}{
			"symbol": rec.Symbol, "kind": string(rec.Kind), "quantity": rec.Quantity,
		})
		m.RecordTrade(ctx, rec)
	}
	return nil
}

// rollDayLocked starts a fresh daily window at the first refresh of each UTC day.
func (m *Manager) rollDayLocked() {
	key := m.now().UTC().Format("2006-01-02")
	if key == m.dayKey {
		return
	}
	m.dayKey = key
	m.dayStart = m.balance
	day, _ := time.Parse("2006-01-02", key)
	m.daily = &domain.DailyStats{Day: day}
}

func sideOf(positionAmt float64) domain.OrderSide {
	if positionAmt < 0 {
		return domain.Sell
	}
	return domain.Buy
}

func opposite(side domain.OrderSide) domain.OrderSide {
	if side == domain.Buy {
		return domain.Sell
	}
	return domain.Buy
}

// Balance returns the latest margin balance in the quote asset.
func (m *Manager) Balance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// AvailableBalance returns the latest free balance in the quote asset.
func (m *Manager) AvailableBalance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// OpenPositions returns the latest open-position snapshot.
func (m *Manager) OpenPositions() []*ports.PositionRisk {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ports.PositionRisk, len(m.positions))
	copy(out, m.positions)
	return out
}

// Drawdown returns the percentage decline from the balance peak.
func (m *Manager) Drawdown() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drawdownLocked()
}

func (m *Manager) drawdownLocked() float64 {
	if m.peakBalance <= 0 {
		return 0
	}
	return (m.peakBalance - m.balance) / m.peakBalance * 100
}

// DailyStats returns a copy of today's aggregates.
func (m *Manager) DailyStats() domain.DailyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.daily == nil {
		return domain.DailyStats{}
	}
	return *m.daily
}

func (m *Manager) dailyPnLPctLocked() float64 {
	if m.daily == nil || m.dayStart <= 0 {
		return 0
	}
	return m.daily.TotalPNL / m.dayStart * 100
}

// aggregateRiskLocked sums each open position's notional relative to the
// leveraged balance, as a percentage.
func (m *Manager) aggregateRiskLocked() float64 {
	if m.balance <= 0 {
		return 0
	}
	var total float64
	for _, p := range m.positions {
		lev := p.Leverage
		if lev <= 0 {
			lev = 1
		}
		notional := math.Abs(p.PositionAmt) * p.MarkPrice
		total += notional / (m.balance * float64(lev)) * 100
	}
	return total
}

// CheckRiskLimits is the hard entry gate, consulted before any new position.
// A nil return allows the entry; otherwise the error names the tripped limit.
// The gate fails closed: an unrefreshed account refuses entries.
func (m *Manager) CheckRiskLimits(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.protection == ProtectionOn {
		return fmt.Errorf("protection mode active: %s", m.protectionReason)
	}
	if m.balance <= 0 {
		return fmt.Errorf("account snapshot not available")
	}
	if dd := m.drawdownLocked(); dd > m.cfg.MaxDrawdown {
		return fmt.Errorf("drawdown %.2f%% exceeds maximum %.2f%%", dd, m.cfg.MaxDrawdown)
	}
	if len(m.positions) >= m.cfg.MaxOpenPositions {
		return fmt.Errorf("open positions %d at maximum %d", len(m.positions), m.cfg.MaxOpenPositions)
	}
	if m.daily != nil && m.daily.TradeCount >= m.cfg.MaxDailyTrades {
		return fmt.Errorf("daily trade count %d at maximum %d", m.daily.TradeCount, m.cfg.MaxDailyTrades)
	}
	if pct := m.dailyPnLPctLocked(); pct >= m.cfg.ProfitThresholdDaily {
		return fmt.Errorf("daily profit %.2f%% reached lock threshold %.2f%%", pct, m.cfg.ProfitThresholdDaily)
	} else if pct <= -m.cfg.LossThresholdDaily {
		return fmt.Errorf("daily loss %.2f%% reached halt threshold %.2f%%", pct, m.cfg.LossThresholdDaily)
	}
	if agg := m.aggregateRiskLocked(); agg > m.cfg.MaxAccountRisk {
		return fmt.Errorf("aggregate account risk %.2f%% exceeds maximum %.2f%%", agg, m.cfg.MaxAccountRisk)
	}
	return nil
}

// RecordTrade appends to the ledger, updates daily aggregates and metrics,
// and persists when a repository is wired. Persistence failure is logged,
// never fatal: the in-memory ledger remains authoritative for the session.
func (m *Manager) RecordTrade(ctx context.Context, rec *domain.TradeRecord) {
	if rec.Time.IsZero() {
		rec.Time = m.now()
	}

	m.mu.Lock()
	m.ledger = append(m.ledger, rec)
	m.rollDayLocked()
	switch rec.Kind {
	case domain.TradeOpen:
		m.known[rec.Symbol] = &ports.PositionRisk{Symbol: rec.Symbol, EntryPrice: rec.Price, Leverage: rec.Leverage}
		m.openTimes[rec.Symbol] = rec.Time
	case domain.TradeClose:
		delete(m.known, rec.Symbol)
	}
	if rec.Kind.IsClose() && m.daily != nil {
		m.daily.TotalPNL += rec.PNL
		m.daily.TradeCount++
		if rec.PNL > 0 {
			m.daily.WinCount++
		} else if rec.PNL < 0 {
			m.daily.LossCount++
		}
	}
	m.mu.Unlock()

	if rec.Kind.IsClose() {
		result := "win"
		if rec.PNL < 0 {
			result = "loss"
		}
		metrics.TradesClosed.WithLabelValues(result).Inc()
		metrics.RealizedPNL.Add(rec.PNL)
	}

	if m.repo != nil {
		if _, err := m.repo.CreateTrade(ctx, rec); err != nil {
			m.logger.Error(ctx, err, "failed to persist trade record", map[string]interface{}{"symbol": rec.Symbol, "kind": string(rec.Kind)})
		}
	}
}

// Ledger returns a copy of the in-memory trade ledger.
func (m *Manager) Ledger() []*domain.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.TradeRecord, len(m.ledger))
	copy(out, m.ledger)
	return out
}

// ShouldClosePosition reports whether the signal reverses the open position.
func (m *Manager) ShouldClosePosition(pos *ports.PositionRisk, signal *domain.Signal) bool {
	if pos == nil || !signal.IsActionable() {
		return false
	}
	if pos.PositionAmt > 0 && signal.Action == domain.ActionShort {
		return true
	}
	if pos.PositionAmt < 0 && signal.Action == domain.ActionLong {
		return true
	}
	return false
}
