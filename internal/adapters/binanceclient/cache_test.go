package binanceclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/ports"
)

func TestDiskCacheFiltersRoundTrip(t *testing.T) {
	dc, err := newDiskCache(t.TempDir())
	require.NoError(t, err)

	filters := map[string]*ports.SymbolFilters{
		"ETHUSDT": {Symbol: "ETHUSDT", PricePrecision: 2, QuantityPrecision: 3, TickSize: 0.01, StepSize: 0.001, MinQty: 0.001, MinNotional: 20},
	}
	require.NoError(t, dc.storeFilters(filters))

	loaded := dc.loadFilters(time.Hour)
	require.NotNil(t, loaded)
	assert.Equal(t, filters["ETHUSDT"], loaded["ETHUSDT"])

	// Expired entries are treated as missing.
	assert.Nil(t, dc.loadFilters(-time.Second))
}

func TestDiskCacheKlinesRoundTrip(t *testing.T) {
	dc, err := newDiskCache(t.TempDir())
	require.NoError(t, err)

	klines := []*domain.Kline{
		{Symbol: "BTCUSDT", Interval: "1h", Open: 50000, High: 50500, Low: 49800, Close: 50200, Volume: 120},
	}
	require.NoError(t, dc.storeKlines("BTCUSDT", "1h", 100, klines))

	loaded := dc.loadKlines("BTCUSDT", "1h", 100, klineCacheTTL)
	require.Len(t, loaded, 1)
	assert.Equal(t, klines[0].Close, loaded[0].Close)

	// A different request shape misses.
	assert.Nil(t, dc.loadKlines("BTCUSDT", "1h", 200, klineCacheTTL))
}
