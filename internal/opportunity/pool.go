// Package opportunity maintains the bounded, scored pool of tradable symbols
// the signal loop draws its targets from. Symbols that keep failing are
// cooled down and decayed; symbols that pay off get boosted.
package opportunity

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/berkekorucu/tradebot/internal/metrics"
	"github.com/berkekorucu/tradebot/internal/ports"
)

const (
	defaultCapacity    = 100
	fullRefreshEvery   = 10 * time.Minute
	cooldownPerFailure = 5 * time.Minute
	cooldownMax        = time.Hour
)

// Entry is one tracked symbol with its scoring state. The technical sub-score
// is cached so ticker-driven rescores between indicator recomputes can reuse it.
type Entry struct {
	Symbol        string
	Score         float64
	FailureCount  int
	SuccessCount  int
	LastFailureAt time.Time
	LastSuccessAt time.Time
	AddedAt       time.Time
	ScoredAt      time.Time

	techScore float64
	techVol   float64
	techOK    bool
}

// Config wires the pool's collaborators.
type Config struct {
	Capacity   int
	Exchange   ports.ExchangeClient
	Indicators ports.IndicatorSource // Optional; scores degrade gracefully without it
	Logger     ports.Logger
	Now        func() time.Time // Injectable clock, defaults to time.Now
}

// Pool is safe for concurrent use.
type Pool struct {
	mu          sync.Mutex
	entries     map[string]*Entry
	capacity    int
	lastRefresh time.Time
	exchange    ports.ExchangeClient
	indicators  ports.IndicatorSource
	logger      ports.Logger
	now         func() time.Time
}

// New creates an empty pool.
func New(cfg Config) *Pool {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pool{
		entries:    make(map[string]*Entry),
		capacity:   capacity,
		exchange:   cfg.Exchange,
		indicators: cfg.Indicators,
		logger:     cfg.Logger,
		now:        now,
	}
}

// Size returns the number of tracked symbols.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Contains reports whether the symbol is tracked, in cooldown or not.
func (p *Pool) Contains(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[symbol]
	return ok
}

// cooldownFor returns how long a symbol sits out after its latest failure.
func cooldownFor(failures int) time.Duration {
	d := time.Duration(failures) * cooldownPerFailure
	if d > cooldownMax {
		return cooldownMax
	}
	return d
}

// InCooldown reports whether the symbol is inside its failure cooldown window.
func (p *Pool) InCooldown(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[symbol]
	if !ok {
		return false
	}
	return p.inCooldownLocked(e)
}

func (p *Pool) inCooldownLocked(e *Entry) bool {
	if e.FailureCount == 0 || e.LastFailureAt.IsZero() {
		return false
	}
	return p.now().Before(e.LastFailureAt.Add(cooldownFor(e.FailureCount)))
}

// score computes the composite score for a symbol from its 24h ticker, the
// optional technical snapshot, and the entry's failure/success history.
func (p *Pool) score(ticker *ports.Ticker24h, techScore, volScore float64, haveTech bool, e *Entry) float64 {
	base := 50.0
	move := math.Abs(ticker.PriceChangePercent)
	switch {
	case move >= 10:
		base += 20
	case move >= 5:
		base += 15
	case move >= 2:
		base += 10
	default:
		base += 5
	}
	switch {
	case volScore > 3:
		base += 10
	case volScore > 2:
		base += 5
	}
	s := base
	if haveTech {
		s = base*0.5 + techScore*0.5
	}

	// Recent failures cool the score, sustained wins warm it.
	if e != nil && e.FailureCount > 0 && !e.LastFailureAt.IsZero() {
		since := p.now().Sub(e.LastFailureAt)
		switch {
		case since < time.Hour:
			s *= math.Max(0.3, 1-0.1*float64(e.FailureCount))
		case since < 2*time.Hour:
			s *= math.Max(0.6, 1-0.05*float64(e.FailureCount))
		}
	}
	if e != nil && e.SuccessCount > 0 {
		s *= math.Min(1.5, 1+0.05*float64(e.SuccessCount))
	}

	return math.Max(0, math.Min(100, s))
}

// Upsert adds or rescores a symbol from its ticker. When the pool is full the
// lowest-scored entry is evicted; the unique top entry always survives.
func (p *Pool) Upsert(ctx context.Context, symbol string, ticker *ports.Ticker24h) {
	techScore, volScore, haveTech := p.technical(ctx, symbol)

	p.mu.Lock()
	defer p.mu.Unlock()

	e, exists := p.entries[symbol]
	if !exists {
		if len(p.entries) >= p.capacity && !p.evictLowestLocked() {
			return
		}
		e = &Entry{Symbol: symbol, AddedAt: p.now()}
		p.entries[symbol] = e
	}
	e.techScore, e.techVol, e.techOK = techScore, volScore, haveTech
	p.rescoreLocked(e, ticker)
	metrics.PoolSize.Set(float64(len(p.entries)))
}

// rescoreLocked recomputes the entry's score from a fresh ticker and the
// cached technical sub-score.
func (p *Pool) rescoreLocked(e *Entry, ticker *ports.Ticker24h) {
	e.Score = p.score(ticker, e.techScore, e.techVol, e.techOK, e)
	e.ScoredAt = p.now()
}

func (p *Pool) technical(ctx context.Context, symbol string) (techScore, volScore float64, ok bool) {
	if p.indicators == nil {
		return 0, 0, false
	}
	snap, err := p.indicators.TechnicalSnapshot(ctx, symbol)
	if err != nil || snap == nil {
		if err != nil && p.logger != nil {
			p.logger.Debug(ctx, "technical snapshot unavailable", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		}
		return 0, 0, false
	}
	return snap.Score, snap.Volatility, true
}

// evictLowestLocked removes the lowest-scored entry. The unique top entry is
// never evicted; when every entry ties there is no unique top and one of them
// goes. Returns false only for a single-entry pool.
func (p *Pool) evictLowestLocked() bool {
	if len(p.entries) <= 1 {
		return false
	}
	var best, worst *Entry
	bestUnique := true
	for _, e := range p.entries {
		if best == nil || e.Score > best.Score {
			best, bestUnique = e, true
		} else if e.Score == best.Score {
			bestUnique = false
		}
		if worst == nil || e.Score < worst.Score || (e.Score == worst.Score && e.Symbol > worst.Symbol) {
			worst = e
		}
	}
	if worst == best && bestUnique {
		return false
	}
	delete(p.entries, worst.Symbol)
	metrics.PoolEvictions.Inc()
	return true
}

// RecordFailure registers a failed attempt on the symbol: the score takes an
// immediate penalty and the cooldown window restarts.
func (p *Pool) RecordFailure(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[symbol]
	if !ok {
		return
	}
	e.FailureCount++
	e.LastFailureAt = p.now()
	e.Score *= 1 - math.Min(0.5, 0.1*float64(e.FailureCount))
}

// RecordSuccess registers a profitable outcome on the symbol.
func (p *Pool) RecordSuccess(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[symbol]
	if !ok {
		return
	}
	e.SuccessCount++
	e.LastSuccessAt = p.now()
	e.Score *= 1 + math.Min(0.3, 0.05*float64(e.SuccessCount))
	if e.Score > 100 {
		e.Score = 100
	}
}

// TopTargets returns up to n symbols by descending score, skipping symbols
// still in cooldown.
func (p *Pool) TopTargets(n int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		if p.inCooldownLocked(e) {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})
	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]string, len(candidates))
	for i, e := range candidates {
		out[i] = e.Symbol
	}
	return out
}

// Snapshot returns a copy of every entry, for status reporting.
func (p *Pool) Snapshot() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Refresh rescores every tracked symbol from one batch ticker call. Tickers
// are pulled and scores recomputed on every call; only the indicator-derived
// technical recompute is throttled pool-wide.
func (p *Pool) Refresh(ctx context.Context) error {
	p.mu.Lock()
	recomputeTech := p.now().Sub(p.lastRefresh) >= fullRefreshEvery
	if recomputeTech {
		p.lastRefresh = p.now()
	}
	symbols := make([]string, 0, len(p.entries))
	for s := range p.entries {
		symbols = append(symbols, s)
	}
	p.mu.Unlock()

	if len(symbols) == 0 {
		return nil
	}

	tickers, err := p.exchange.Get24hTickers(ctx)
	if err != nil {
		return err
	}
	bySymbol := make(map[string]*ports.Ticker24h, len(tickers))
	for _, t := range tickers {
		bySymbol[t.Symbol] = t
	}

	refreshed := 0
	for _, s := range symbols {
		t, ok := bySymbol[s]
		if !ok {
			continue
		}
		if recomputeTech {
			p.Upsert(ctx, s, t)
		} else {
			p.mu.Lock()
			if e, ok := p.entries[s]; ok {
				p.rescoreLocked(e, t)
			}
			p.mu.Unlock()
		}
		refreshed++
	}
	if p.logger != nil {
		p.logger.Info(ctx, "opportunity pool refreshed", map[string]interface{}{"symbols": refreshed, "technical": recomputeTech, "poolSize": p.Size()})
	}
	return nil
}
