package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/berkekorucu/tradebot/internal/metrics"
)

// ProtectionState is the circuit-breaker state. While ProtectionOn, no new
// entries pass the risk gate; risk-reduction actions stay allowed.
type ProtectionState int

const (
	ProtectionOff ProtectionState = iota
	ProtectionOn
)

func (s ProtectionState) String() string {
	if s == ProtectionOn {
		return "ON"
	}
	return "OFF"
}

const (
	protectionVolThreshold    = 3.0
	protectionGrowthThreshold = 300.0 // Percent of the hourly average
	protectionDrawdownEnter   = 5.0
	protectionDrawdownExit    = 3.0
	protectionMinDuration     = 2 * time.Hour
)

// StopTightener is notified when protection mode engages so every open stop
// can be pulled closer. PositionManager implements it.
type StopTightener interface {
	TightenStops(ctx context.Context)
}

// UpdateProtection evaluates the circuit-breaker triggers against the current
// account and market snapshot and performs at most one transition.
func (m *Manager) UpdateProtection(ctx context.Context) {
	m.mu.Lock()

	var reason string
	switch m.protection {
	case ProtectionOff:
		reason = m.protectionTriggerLocked()
		if reason == "" {
			m.mu.Unlock()
			return
		}
		m.protection = ProtectionOn
		m.protectionReason = reason
		m.protectionSince = m.now()
		metrics.ProtectionMode.Set(1)
		tightener := m.tightener
		m.mu.Unlock()

		m.logger.Warn(ctx, "protection mode engaged", map[string]interface{}{"reason": reason})
		if tightener != nil {
			tightener.TightenStops(ctx)
		}
		return

	case ProtectionOn:
		elapsed := m.now().Sub(m.protectionSince)
		dd := m.drawdownLocked()
		if elapsed < protectionMinDuration && dd >= protectionDrawdownExit {
			m.mu.Unlock()
			return
		}
		m.protection = ProtectionOff
		m.protectionReason = ""
		metrics.ProtectionMode.Set(0)
		m.mu.Unlock()

		m.logger.Info(ctx, "protection mode released", map[string]interface{}{
			"elapsed":  elapsed.String(),
			"drawdown": fmt.Sprintf("%.2f%%", dd),
		})
	}
}

// protectionTriggerLocked returns a non-empty reason when any entry trigger
// fires. Callers hold m.mu.
func (m *Manager) protectionTriggerLocked() string {
	if m.market != nil {
		if m.market.ExtremeMovement {
			return "extreme price movement flagged"
		}
		if m.market.BTCVolatility > protectionVolThreshold {
			return fmt.Sprintf("market volatility %.2f above %.2f", m.market.BTCVolatility, protectionVolThreshold)
		}
	}
	if rate := m.positionGrowthRateLocked(); rate > protectionGrowthThreshold {
		return fmt.Sprintf("position growth rate %.0f%% of hourly average", rate)
	}
	if dd := m.drawdownLocked(); dd > protectionDrawdownEnter && m.rapidDrawdownLocked() {
		return fmt.Sprintf("rapid drawdown %.2f%%", dd)
	}
	return ""
}

// positionGrowthRateLocked compares opens in the last hour against the hourly
// average over the trailing day, as a percentage. 0 when there is no history.
// Entries past the trailing day are pruned here so the map stays bounded over
// a long-running process.
func (m *Manager) positionGrowthRateLocked() float64 {
	now := m.now()
	var lastHour, lastDay int
	for sym, t := range m.openTimes {
		age := now.Sub(t)
		if age > 24*time.Hour {
			delete(m.openTimes, sym)
			continue
		}
		lastDay++
		if age <= time.Hour {
			lastHour++
		}
	}
	if lastDay == 0 {
		return 0
	}
	hourlyAvg := float64(lastDay) / 24
	return float64(lastHour) / hourlyAvg * 100
}

// rapidDrawdownLocked reports whether the balance dropped noticeably since
// the previous refresh, marking the drawdown as fast rather than grinding.
func (m *Manager) rapidDrawdownLocked() bool {
	if m.prevBalance <= 0 {
		return false
	}
	return (m.prevBalance-m.balance)/m.prevBalance*100 > 1.0
}

// ProtectionActive reports whether the circuit breaker is engaged.
func (m *Manager) ProtectionActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.protection == ProtectionOn
}

// ProtectionReason returns why protection engaged, "" when off.
func (m *Manager) ProtectionReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.protectionReason
}
