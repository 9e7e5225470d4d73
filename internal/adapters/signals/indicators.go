// Package signals is the built-in signal, indicator, and market-state source.
// It derives everything from klines and tickers pulled through the gateway,
// so deployments without an external signal feed still trade.
package signals

import (
	"fmt"
	"math"

	"github.com/berkekorucu/tradebot/internal/domain"
)

// sma computes the Simple Moving Average of the last period closes.
func sma(klines []*domain.Kline, period int) (float64, error) {
	if len(klines) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(klines), period)
	}
	total := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		total += klines[i].Close
	}
	return total / float64(period), nil
}

// ema computes the Exponential Moving Average, seeded with the SMA of the
// first period closes.
func ema(klines []*domain.Kline, period int) (float64, error) {
	if len(klines) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate EMA for period %d", len(klines), period)
	}
	multiplier := 2.0 / float64(period+1)
	seed, err := sma(klines[:period], period)
	if err != nil {
		return 0, fmt.Errorf("failed to calculate EMA seed: %w", err)
	}
	out := seed
	for i := period; i < len(klines); i++ {
		out = (klines[i].Close-out)*multiplier + out
	}
	return out, nil
}

// rsi computes the Relative Strength Index using Wilder's smoothing.
func rsi(klines []*domain.Kline, period int) (float64, error) {
	if len(klines) <= period {
		return 0, fmt.Errorf("not enough data (%d) to calculate RSI for period %d", len(klines), period)
	}

	changes := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		changes = append(changes, klines[i].Close-klines[i-1].Close)
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period; i < len(changes); i++ {
		if changes[i] > 0 {
			avgGain = (avgGain*float64(period-1) + changes[i]) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) - changes[i]) / float64(period)
		}
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil // Neutral if no change
		}
		return 100, nil
	}
	rs := avgGain / avgLoss
	value := 100 - (100 / (1 + rs))
	if value > 100 {
		value = 100
	} else if value < 0 {
		value = 0
	}
	return value, nil
}

// atr computes the Average True Range using Wilder's smoothing.
func atr(klines []*domain.Kline, period int) (float64, error) {
	if len(klines) < period+1 {
		return 0, fmt.Errorf("not enough data points for ATR: need %d, got %d", period+1, len(klines))
	}

	trueRanges := make([]float64, len(klines))
	trueRanges[0] = klines[0].High - klines[0].Low
	for i := 1; i < len(klines); i++ {
		high, low, prevClose := klines[i].High, klines[i].Low, klines[i-1].Close
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trueRanges[i] = tr
	}

	value := 0.0
	for i := 0; i < period; i++ {
		value += trueRanges[i]
	}
	value /= float64(period)
	for i := period; i < len(klines); i++ {
		value = (value*float64(period-1) + trueRanges[i]) / float64(period)
	}
	return value, nil
}

// stddevReturns computes the standard deviation of close-to-close returns,
// in percent.
func stddevReturns(klines []*domain.Kline) float64 {
	if len(klines) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		if klines[i-1].Close == 0 {
			continue
		}
		returns = append(returns, (klines[i].Close-klines[i-1].Close)/klines[i-1].Close*100)
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
