package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/ports"
)

// TPLevel is one take-profit rung: trigger price and the percentage of the
// position closed when it fires.
type TPLevel struct {
	Price       float64
	QuantityPct float64
}

// PositionPlan is a fully sized, priced entry ready for the position manager
// to execute.
type PositionPlan struct {
	Symbol      string
	Side        domain.OrderSide
	Quantity    float64
	Notional    float64
	Leverage    int
	EntryPrice  float64
	StopPrice   float64
	SLPercent   float64
	TakeProfits []TPLevel
}

const (
	slPctFloor       = 0.5
	slPctCeil        = 10.0
	strengthBoost    = 1.5
	notionalCapShare = 0.25 // Of available balance
)

// CalculatePositionSize turns a signal into an executable plan. A nil plan
// with a non-nil error means the entry is refused (too small, protection on).
func (m *Manager) CalculatePositionSize(ctx context.Context, signal *domain.Signal) (*PositionPlan, error) {
	if !signal.IsActionable() {
		return nil, fmt.Errorf("signal for %s is not actionable", signal.Symbol)
	}
	if m.ProtectionActive() {
		return nil, fmt.Errorf("protection mode active, sizing refused")
	}

	entry := signal.Price
	if entry <= 0 {
		mark, err := m.exchange.GetMarkPrice(ctx, signal.Symbol)
		if err != nil {
			return nil, fmt.Errorf("sizing %s: %w", signal.Symbol, err)
		}
		entry = mark
	}
	filters, err := m.exchange.GetSymbolFilters(ctx, signal.Symbol)
	if err != nil {
		return nil, fmt.Errorf("sizing %s: %w", signal.Symbol, err)
	}

	m.mu.Lock()
	available := m.available
	openCount := len(m.positions)
	volMult := m.volatilityMultiplierLocked()
	m.mu.Unlock()

	slPct := m.cfg.StaticSLPercent
	if signal.StopLoss > 0 && entry > 0 {
		slPct = math.Abs(entry-signal.StopLoss) / entry * 100
	}
	if slPct <= 0 {
		return nil, fmt.Errorf("sizing %s: stop distance is zero", signal.Symbol)
	}

	leverage := m.cfg.DefaultLeverage
	if m.cfg.AutoLeverage {
		leverage = int(math.Floor(10 / slPct))
		if leverage < 1 {
			leverage = 1
		}
		if leverage > m.cfg.MaxLeverage {
			leverage = m.cfg.MaxLeverage
		}
	}

	var notional float64
	switch m.cfg.SizingMode {
	case domain.SizingFixed:
		notional = m.cfg.FixedPositionSize
	default: // RISK_BASED and DYNAMIC
		adjustedRisk := math.Min(m.cfg.AccountRiskPerTrade, m.cfg.AccountRiskPerTrade*(signal.Strength/100)*strengthBoost)
		riskAmount := available * adjustedRisk / 100
		notional = riskAmount * float64(leverage) / (slPct / 100)
		if m.cfg.SizingMode == domain.SizingDynamic {
			notional *= math.Max(0.2, 1-0.2*float64(openCount))
		}
	}

	if notional < filters.MinNotional {
		return nil, fmt.Errorf("sizing %s: notional %.2f below venue minimum %.2f", signal.Symbol, notional, filters.MinNotional)
	}
	if ceiling := available * notionalCapShare; notional > ceiling {
		notional = ceiling
	}

	quantity := notional / entry * float64(leverage)
	if filters.StepSize > 0 {
		quantity = math.Floor(quantity/filters.StepSize) * filters.StepSize
	}
	quantity = roundTo(quantity, filters.QuantityPrecision)
	if quantity < filters.MinQty || quantity <= 0 {
		return nil, fmt.Errorf("sizing %s: quantity %.8f below venue minimum %.8f", signal.Symbol, quantity, filters.MinQty)
	}

	stop := signal.StopLoss
	if stop <= 0 {
		stop = m.stopPrice(signal.Side(), entry, volMult)
	}
	stop = roundTo(stop, filters.PricePrecision)

	plan := &PositionPlan{
		Symbol:      signal.Symbol,
		Side:        signal.Side(),
		Quantity:    quantity,
		Notional:    notional,
		Leverage:    leverage,
		EntryPrice:  entry,
		StopPrice:   stop,
		SLPercent:   slPct,
		TakeProfits: m.takeProfits(signal.Side(), entry, filters),
	}
	return plan, nil
}

// stopPrice derives the static stop level, widened by market volatility and
// clamped to a sane percentage band.
func (m *Manager) stopPrice(side domain.OrderSide, entry, volMult float64) float64 {
	adjusted := m.cfg.StaticSLPercent * volMult
	if adjusted < slPctFloor {
		adjusted = slPctFloor
	}
	if adjusted > slPctCeil {
		adjusted = slPctCeil
	}
	if side == domain.Sell {
		return entry * (1 + adjusted/100)
	}
	return entry * (1 - adjusted/100)
}

// CalculateStopLoss exposes the stop math for callers that resize stops after
// entry (trailing replacement, protection tightening).
func (m *Manager) CalculateStopLoss(side domain.OrderSide, entry float64) float64 {
	m.mu.Lock()
	volMult := m.volatilityMultiplierLocked()
	m.mu.Unlock()
	return m.stopPrice(side, entry, volMult)
}

// takeProfits expands the configured target ladder around the entry price.
func (m *Manager) takeProfits(side domain.OrderSide, entry float64, filters *ports.SymbolFilters) []TPLevel {
	levels := make([]TPLevel, 0, len(m.cfg.TPTargets))
	for i, targetPct := range m.cfg.TPTargets {
		var price float64
		if side == domain.Sell {
			price = entry * (1 - targetPct/100)
		} else {
			price = entry * (1 + targetPct/100)
		}
		levels = append(levels, TPLevel{
			Price:       roundTo(price, filters.PricePrecision),
			QuantityPct: m.cfg.TPQuantities[i],
		})
	}
	return levels
}

// volatilityMultiplierLocked widens stops in rough markets. Callers hold m.mu.
func (m *Manager) volatilityMultiplierLocked() float64 {
	if m.market == nil {
		return 1.0
	}
	switch {
	case m.market.BTCVolatility > 3:
		return 1.5
	case m.market.BTCVolatility > 2:
		return 1.25
	default:
		return 1.0
	}
}

func roundTo(v float64, precision int) float64 {
	p := math.Pow10(precision)
	return math.Round(v*p) / p
}
