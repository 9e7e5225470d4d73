package opportunity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/ports"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type mockIndicators struct {
	snapshots map[string]*domain.TechnicalSnapshot
}

func (m *mockIndicators) TechnicalSnapshot(ctx context.Context, symbol string) (*domain.TechnicalSnapshot, error) {
	if s, ok := m.snapshots[symbol]; ok {
		return s, nil
	}
	return nil, nil
}

func newTestPool(capacity int) (*Pool, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	p := New(Config{Capacity: capacity, Now: clock.now})
	return p, clock
}

func ticker(symbol string, changePct float64) *ports.Ticker24h {
	return &ports.Ticker24h{Symbol: symbol, PriceChangePercent: changePct, LastPrice: 100, QuoteVolume: 10_000_000}
}

func TestUpsertScoresByPriceMove(t *testing.T) {
	p, _ := newTestPool(10)
	ctx := context.Background()

	p.Upsert(ctx, "AAAUSDT", ticker("AAAUSDT", 1.0))  // 50 + 5
	p.Upsert(ctx, "BBBUSDT", ticker("BBBUSDT", 3.0))  // 50 + 10
	p.Upsert(ctx, "CCCUSDT", ticker("CCCUSDT", 7.0))  // 50 + 15
	p.Upsert(ctx, "DDDUSDT", ticker("DDDUSDT", 12.0)) // 50 + 20

	snap := map[string]float64{}
	for _, e := range p.Snapshot() {
		snap[e.Symbol] = e.Score
	}
	assert.Equal(t, 55.0, snap["AAAUSDT"])
	assert.Equal(t, 60.0, snap["BBBUSDT"])
	assert.Equal(t, 65.0, snap["CCCUSDT"])
	assert.Equal(t, 70.0, snap["DDDUSDT"])
}

func TestUpsertBlendsTechnicalScore(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	p := New(Config{
		Capacity: 10,
		Now:      clock.now,
		Indicators: &mockIndicators{snapshots: map[string]*domain.TechnicalSnapshot{
			"ETHUSDT": {Symbol: "ETHUSDT", Score: 90, Volatility: 3.5},
		}},
	})
	p.Upsert(context.Background(), "ETHUSDT", ticker("ETHUSDT", 3.0))

	// Price component 50+10+10 (volatility > 3), blended 50/50 with 90.
	e := p.Snapshot()[0]
	assert.InDelta(t, 80.0, e.Score, 1e-9)
}

func TestCapacityEvictsLowestNeverBest(t *testing.T) {
	p, _ := newTestPool(3)
	ctx := context.Background()

	p.Upsert(ctx, "LOWUSDT", ticker("LOWUSDT", 1.0))   // 55
	p.Upsert(ctx, "MIDUSDT", ticker("MIDUSDT", 3.0))   // 60
	p.Upsert(ctx, "BESTUSDT", ticker("BESTUSDT", 12.0)) // 70
	require.Equal(t, 3, p.Size())

	p.Upsert(ctx, "NEWUSDT", ticker("NEWUSDT", 7.0))
	assert.Equal(t, 3, p.Size())

	symbols := map[string]bool{}
	for _, e := range p.Snapshot() {
		symbols[e.Symbol] = true
	}
	assert.False(t, symbols["LOWUSDT"], "lowest-scored entry should be evicted")
	assert.True(t, symbols["BESTUSDT"], "best entry must survive eviction")
	assert.True(t, symbols["NEWUSDT"])
}

func TestTieScoredPoolStillAdmitsBetterSymbol(t *testing.T) {
	p, _ := newTestPool(3)
	ctx := context.Background()

	p.Upsert(ctx, "AAAUSDT", ticker("AAAUSDT", 1.0)) // 55
	p.Upsert(ctx, "BBBUSDT", ticker("BBBUSDT", 1.0)) // 55
	p.Upsert(ctx, "CCCUSDT", ticker("CCCUSDT", 1.0)) // 55
	require.Equal(t, 3, p.Size())

	p.Upsert(ctx, "HOTUSDT", ticker("HOTUSDT", 7.0)) // 65
	assert.Equal(t, 3, p.Size())
	assert.True(t, p.Contains("HOTUSDT"), "a full pool of tied scores must still admit a better symbol")
}

func TestSingleEntryPoolNeverEvicts(t *testing.T) {
	p, _ := newTestPool(1)
	ctx := context.Background()

	p.Upsert(ctx, "AAAUSDT", ticker("AAAUSDT", 12.0)) // 70
	p.Upsert(ctx, "BBBUSDT", ticker("BBBUSDT", 1.0))  // 55, rejected
	assert.True(t, p.Contains("AAAUSDT"))
	assert.False(t, p.Contains("BBBUSDT"))
}

func TestCapacityBoundHolds(t *testing.T) {
	p, _ := newTestPool(5)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		p.Upsert(ctx, fmt.Sprintf("SYM%02dUSDT", i), ticker("X", float64(i)))
	}
	assert.Equal(t, 5, p.Size())
}

func TestRecordFailurePenaltyAndCooldown(t *testing.T) {
	p, clock := newTestPool(10)
	ctx := context.Background()
	p.Upsert(ctx, "ETHUSDT", ticker("ETHUSDT", 3.0)) // 60

	p.RecordFailure("ETHUSDT")
	e := p.Snapshot()[0]
	assert.InDelta(t, 54.0, e.Score, 1e-9, "first failure applies a 10% penalty")
	assert.True(t, p.InCooldown("ETHUSDT"))
	assert.Empty(t, p.TopTargets(5), "cooled-down symbols are not targets")

	// One failure cools the symbol for 5 minutes.
	clock.advance(4 * time.Minute)
	assert.True(t, p.InCooldown("ETHUSDT"))
	clock.advance(2 * time.Minute)
	assert.False(t, p.InCooldown("ETHUSDT"))
	assert.Equal(t, []string{"ETHUSDT"}, p.TopTargets(5))
}

func TestCooldownGrowsWithFailuresAndCaps(t *testing.T) {
	assert.Equal(t, 5*time.Minute, cooldownFor(1))
	assert.Equal(t, 30*time.Minute, cooldownFor(6))
	assert.Equal(t, time.Hour, cooldownFor(12))
	assert.Equal(t, time.Hour, cooldownFor(50), "cooldown is capped at one hour")
}

func TestRepeatedFailuresDeepenPenalty(t *testing.T) {
	p, clock := newTestPool(10)
	ctx := context.Background()
	p.Upsert(ctx, "ETHUSDT", ticker("ETHUSDT", 3.0)) // 60

	for i := 0; i < 10; i++ {
		p.RecordFailure("ETHUSDT")
		clock.advance(2 * time.Hour) // Step past each cooldown
	}
	// Penalty factor bottoms out at 0.5 per failure.
	e := p.Snapshot()[0]
	assert.Greater(t, e.Score, 0.0)
	assert.Less(t, e.Score, 5.0)
}

func TestRecordSuccessBoostsScore(t *testing.T) {
	p, _ := newTestPool(10)
	ctx := context.Background()
	p.Upsert(ctx, "ETHUSDT", ticker("ETHUSDT", 3.0)) // 60

	p.RecordSuccess("ETHUSDT")
	e := p.Snapshot()[0]
	assert.InDelta(t, 63.0, e.Score, 1e-9, "first success applies a 5% bonus")
	assert.False(t, p.InCooldown("ETHUSDT"))
}

func TestScoreClampedToHundred(t *testing.T) {
	p, _ := newTestPool(10)
	ctx := context.Background()
	p.Upsert(ctx, "ETHUSDT", ticker("ETHUSDT", 12.0)) // 70
	for i := 0; i < 20; i++ {
		p.RecordSuccess("ETHUSDT")
	}
	assert.LessOrEqual(t, p.Snapshot()[0].Score, 100.0)
}

func TestCoolingFactorOnRescore(t *testing.T) {
	p, clock := newTestPool(10)
	ctx := context.Background()
	p.Upsert(ctx, "ETHUSDT", ticker("ETHUSDT", 3.0))
	p.RecordFailure("ETHUSDT")
	p.RecordFailure("ETHUSDT")

	// Rescoring within an hour of the last failure applies the tight factor.
	clock.advance(30 * time.Minute)
	p.Upsert(ctx, "ETHUSDT", ticker("ETHUSDT", 3.0))
	assert.InDelta(t, 60.0*0.8, p.Snapshot()[0].Score, 1e-9)

	// Between one and two hours the factor relaxes.
	clock.advance(60 * time.Minute)
	p.Upsert(ctx, "ETHUSDT", ticker("ETHUSDT", 3.0))
	assert.InDelta(t, 60.0*0.9, p.Snapshot()[0].Score, 1e-9)

	// After two hours the failure history no longer dampens the score.
	clock.advance(60 * time.Minute)
	p.Upsert(ctx, "ETHUSDT", ticker("ETHUSDT", 3.0))
	assert.InDelta(t, 60.0, p.Snapshot()[0].Score, 1e-9)
}

type tickerExchange struct {
	ports.ExchangeClient
	tickers []*ports.Ticker24h
}

func (m *tickerExchange) Get24hTickers(ctx context.Context) ([]*ports.Ticker24h, error) {
	return m.tickers, nil
}

type countingIndicators struct {
	calls int
}

func (m *countingIndicators) TechnicalSnapshot(ctx context.Context, symbol string) (*domain.TechnicalSnapshot, error) {
	m.calls++
	return &domain.TechnicalSnapshot{Symbol: symbol, Score: 70}, nil
}

func TestRefreshRescoresTickersBetweenTechnicalRecomputes(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ex := &tickerExchange{tickers: []*ports.Ticker24h{ticker("ETHUSDT", 1.0)}}
	ind := &countingIndicators{}
	p := New(Config{Capacity: 10, Exchange: ex, Indicators: ind, Now: clock.now})
	ctx := context.Background()

	p.Upsert(ctx, "ETHUSDT", ticker("ETHUSDT", 1.0)) // price 55 blended with 70
	require.NoError(t, p.Refresh(ctx))
	recomputes := ind.calls

	// A bigger 24h move inside the throttle window must still move the score,
	// without a fresh indicator recompute.
	clock.advance(time.Minute)
	ex.tickers = []*ports.Ticker24h{ticker("ETHUSDT", 12.0)}
	require.NoError(t, p.Refresh(ctx))
	assert.Equal(t, recomputes, ind.calls, "indicator recompute stays throttled")
	assert.InDelta(t, 70.0, p.Snapshot()[0].Score, 1e-9) // price 70 blended with 70

	// Past the window the technical side recomputes again.
	clock.advance(10 * time.Minute)
	require.NoError(t, p.Refresh(ctx))
	assert.Greater(t, ind.calls, recomputes)
}

func TestTopTargetsOrdering(t *testing.T) {
	p, _ := newTestPool(10)
	ctx := context.Background()
	p.Upsert(ctx, "AUSDT", ticker("AUSDT", 1.0))
	p.Upsert(ctx, "BUSDT", ticker("BUSDT", 12.0))
	p.Upsert(ctx, "CUSDT", ticker("CUSDT", 7.0))

	assert.Equal(t, []string{"BUSDT", "CUSDT", "AUSDT"}, p.TopTargets(0))
	assert.Equal(t, []string{"BUSDT", "CUSDT"}, p.TopTargets(2))
}
