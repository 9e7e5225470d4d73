package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/ports"
)

// Config holds the trend-following parameters.
type Config struct {
	Interval      string // Kline interval, e.g., "15m"
	KlineLimit    int    // Klines pulled per evaluation
	FastMAPeriod  int    // e.g., 20
	SlowMAPeriod  int    // e.g., 50
	EMAPeriod     int    // e.g., 20
	RSIPeriod     int    // e.g., 14
	RSIOverbought float64
	RSIOversold   float64
	ATRPeriod     int     // e.g., 14
	ATRStopMult   float64 // Stop distance in ATR multiples
}

// DefaultConfig returns the parameters used when nothing is tuned.
func DefaultConfig() Config {
	return Config{
		Interval:      "15m",
		KlineLimit:    100,
		FastMAPeriod:  20,
		SlowMAPeriod:  50,
		EMAPeriod:     20,
		RSIPeriod:     14,
		RSIOverbought: 70,
		RSIOversold:   30,
		ATRPeriod:     14,
		ATRStopMult:   2.0,
	}
}

// Source generates trend-following signals and technical snapshots from
// klines. It implements ports.SignalSource and ports.IndicatorSource.
type Source struct {
	cfg      Config
	exchange ports.ExchangeClient
	logger   ports.Logger
}

// NewSource validates the configuration and builds the source.
func NewSource(cfg Config, exchange ports.ExchangeClient, logger ports.Logger) (*Source, error) {
	if exchange == nil {
		return nil, fmt.Errorf("exchange client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.FastMAPeriod <= 0 || cfg.SlowMAPeriod <= 0 || cfg.EMAPeriod <= 0 || cfg.RSIPeriod <= 0 || cfg.ATRPeriod <= 0 {
		return nil, fmt.Errorf("indicator periods must be positive")
	}
	if cfg.FastMAPeriod >= cfg.SlowMAPeriod {
		return nil, fmt.Errorf("fast MA period must be less than slow MA period")
	}
	if cfg.KlineLimit <= cfg.SlowMAPeriod {
		return nil, fmt.Errorf("kline limit must exceed the slow MA period")
	}
	return &Source{cfg: cfg, exchange: exchange, logger: logger}, nil
}

type reading struct {
	price   float64
	fast    float64
	slow    float64
	ema     float64
	rsi     float64
	atr     float64
	stddev  float64
	samples int
}

func (s *Source) read(ctx context.Context, symbol string) (*reading, error) {
	klines, err := s.exchange.GetKlines(ctx, symbol, s.cfg.Interval, s.cfg.KlineLimit)
	if err != nil {
		return nil, fmt.Errorf("klines for %s: %w", symbol, err)
	}
	if len(klines) <= s.cfg.SlowMAPeriod {
		return nil, fmt.Errorf("not enough klines for %s: have %d, need more than %d", symbol, len(klines), s.cfg.SlowMAPeriod)
	}

	r := &reading{price: klines[len(klines)-1].Close, samples: len(klines)}
	if r.fast, err = sma(klines, s.cfg.FastMAPeriod); err != nil {
		return nil, err
	}
	if r.slow, err = sma(klines, s.cfg.SlowMAPeriod); err != nil {
		return nil, err
	}
	if r.ema, err = ema(klines, s.cfg.EMAPeriod); err != nil {
		return nil, err
	}
	if r.rsi, err = rsi(klines, s.cfg.RSIPeriod); err != nil {
		return nil, err
	}
	if r.atr, err = atr(klines, s.cfg.ATRPeriod); err != nil {
		return nil, err
	}
	r.stddev = stddevReturns(klines)
	return r, nil
}

// Signal evaluates the trend for one symbol. A symbol without a clear trend
// yields a WAIT signal, never an error.
func (s *Source) Signal(ctx context.Context, symbol string) (*domain.Signal, error) {
	r, err := s.read(ctx, symbol)
	if err != nil {
		return nil, err
	}

	sig := &domain.Signal{Symbol: symbol, Action: domain.ActionWait, Price: r.price, Time: time.Now()}

	uptrend := r.price > r.fast && r.price > r.slow && r.fast > r.slow && r.price > r.ema
	downtrend := r.price < r.fast && r.price < r.slow && r.fast < r.slow && r.price < r.ema

	switch {
	case uptrend && r.rsi < s.cfg.RSIOverbought:
		sig.Action = domain.ActionLong
		sig.Strength = s.strength(r, true)
		sig.StopLoss = r.price - s.cfg.ATRStopMult*r.atr
		sig.Reasons = []string{
			fmt.Sprintf("uptrend: price %.4f above fast %.4f and slow %.4f", r.price, r.fast, r.slow),
			fmt.Sprintf("rsi %.1f below %.0f", r.rsi, s.cfg.RSIOverbought),
		}
	case downtrend && r.rsi > s.cfg.RSIOversold:
		sig.Action = domain.ActionShort
		sig.Strength = s.strength(r, false)
		sig.StopLoss = r.price + s.cfg.ATRStopMult*r.atr
		sig.Reasons = []string{
			fmt.Sprintf("downtrend: price %.4f below fast %.4f and slow %.4f", r.price, r.fast, r.slow),
			fmt.Sprintf("rsi %.1f above %.0f", r.rsi, s.cfg.RSIOversold),
		}
	default:
		s.logger.Debug(ctx, "no trend signal", map[string]interface{}{
			"symbol": symbol, "price": r.price, "fastMA": r.fast, "slowMA": r.slow, "rsi": r.rsi,
		})
	}
	return sig, nil
}

// strength maps trend separation and RSI headroom onto [0, 100].
func (s *Source) strength(r *reading, long bool) float64 {
	if r.slow == 0 {
		return 50
	}
	sep := (r.fast - r.slow) / r.slow * 100
	if !long {
		sep = -sep
	}
	headroom := s.cfg.RSIOverbought - r.rsi
	if !long {
		headroom = r.rsi - s.cfg.RSIOversold
	}
	return clamp(50+clamp(sep*10, 0, 30)+clamp(headroom/2, 0, 20), 0, 100)
}

// TechnicalSnapshot scores a symbol for the opportunity pool: trend quality
// on a 0-100 scale plus the volatility of recent returns.
func (s *Source) TechnicalSnapshot(ctx context.Context, symbol string) (*domain.TechnicalSnapshot, error) {
	r, err := s.read(ctx, symbol)
	if err != nil {
		return nil, err
	}
	score := 50.0
	if r.slow != 0 {
		score += clamp((r.fast-r.slow)/r.slow*100*10, -25, 25)
	}
	score += clamp((r.rsi-50)/2, -12.5, 12.5)
	return &domain.TechnicalSnapshot{
		Symbol:     symbol,
		Score:      clamp(score, 0, 100),
		Volatility: r.stddev,
		UpdatedAt:  time.Now(),
	}, nil
}
