package binanceclient

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"context"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/ports"
)

type exchangeInfoCache struct {
	fetchedAt time.Time
}

// GetMarkPrice retrieves the current mark price for a given symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetMarkPrice"
	var tickers []*futures.PremiumIndex
	err := c.invoke(ctx, op, func() error {
		var err error
		tickers, err = c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(tickers) == 0 {
			return fmt.Errorf("no price data returned for symbol %s", symbol)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	price, perr := strconv.ParseFloat(tickers[0].MarkPrice, 64)
	if perr != nil {
		return 0, fmt.Errorf("%s failed: %w: could not parse price '%s': %w", op, ports.ErrInternal, tickers[0].MarkPrice, perr)
	}
	return price, nil
}

// GetFundingRate retrieves the last funding rate for a given symbol.
func (c *Client) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	op := "GetFundingRate"
	var tickers []*futures.PremiumIndex
	err := c.invoke(ctx, op, func() error {
		var err error
		tickers, err = c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(tickers) == 0 {
			return fmt.Errorf("no funding data returned for symbol %s", symbol)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	rate, perr := strconv.ParseFloat(tickers[0].LastFundingRate, 64)
	if perr != nil {
		return 0, fmt.Errorf("%s failed: %w: could not parse funding rate '%s': %w", op, ports.ErrInternal, tickers[0].LastFundingRate, perr)
	}
	return rate, nil
}

// Get24hTicker retrieves rolling 24h statistics for one symbol.
func (c *Client) Get24hTicker(ctx context.Context, symbol string) (*ports.Ticker24h, error) {
	op := "Get24hTicker"
	var stats []*futures.PriceChangeStats
	err := c.invoke(ctx, op, func() error {
		var err error
		stats, err = c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			return fmt.Errorf("no ticker data returned for symbol %s", symbol)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return translateTicker(stats[0]), nil
}

// Get24hTickers retrieves rolling 24h statistics for every symbol in one call.
// One batch request keeps the scan of a hundred symbols inside the weight
// budget that per-symbol calls would blow through.
func (c *Client) Get24hTickers(ctx context.Context) ([]*ports.Ticker24h, error) {
	op := "Get24hTickers"
	var stats []*futures.PriceChangeStats
	err := c.invoke(ctx, op, func() error {
		var err error
		stats, err = c.futuresClient.NewListPriceChangeStatsService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]*ports.Ticker24h, 0, len(stats))
	for _, s := range stats {
		out = append(out, translateTicker(s))
	}
	return out, nil
}

// GetTopVolumeSymbols lists symbols quoted in quoteAsset with at least
// minQuoteVolume of 24h turnover, ordered by volume descending, up to limit.
func (c *Client) GetTopVolumeSymbols(ctx context.Context, quoteAsset string, minQuoteVolume float64, limit int) ([]string, error) {
	tickers, err := c.Get24hTickers(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]*ports.Ticker24h, 0, len(tickers))
	for _, t := range tickers {
		if len(t.Symbol) <= len(quoteAsset) || t.Symbol[len(t.Symbol)-len(quoteAsset):] != quoteAsset {
			continue
		}
		if t.QuoteVolume < minQuoteVolume {
			continue
		}
		candidates = append(candidates, t)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].QuoteVolume > candidates[j].QuoteVolume
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	symbols := make([]string, len(candidates))
	for i, t := range candidates {
		symbols[i] = t.Symbol
	}
	return symbols, nil
}

// refreshFilters populates the symbol filter cache, from disk when fresh
// enough, otherwise from the exchange info endpoint. Callers hold cacheMu.
func (c *Client) refreshFilters(ctx context.Context) error {
	if c.exchangeInfo != nil && time.Since(c.exchangeInfo.fetchedAt) < exchangeInfoTTL && len(c.filters) > 0 {
		return nil
	}
	if c.diskCache != nil {
		if cached := c.diskCache.loadFilters(exchangeInfoTTL); cached != nil {
			c.filters = cached
			c.exchangeInfo = &exchangeInfoCache{fetchedAt: time.Now()}
			c.logger.Debug(ctx, "symbol filters loaded from disk cache", map[string]interface{}{"symbols": len(cached)})
			return nil
		}
	}

	op := "GetExchangeInfo"
	var info *futures.ExchangeInfo
	err := c.invoke(ctx, op, func() error {
		var err error
		info, err = c.futuresClient.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return err
	}

	filters := make(map[string]*ports.SymbolFilters, len(info.Symbols))
	for i := range info.Symbols {
		s := &info.Symbols[i]
		f := translateSymbolFilters(s)
		filters[s.Symbol] = f
	}
	c.filters = filters
	c.exchangeInfo = &exchangeInfoCache{fetchedAt: time.Now()}
	if c.diskCache != nil {
		if werr := c.diskCache.storeFilters(filters); werr != nil {
			c.logger.Warn(ctx, "failed to persist symbol filters", map[string]interface{}{"error": werr.Error()})
		}
	}
	c.logger.Info(ctx, "symbol filters refreshed", map[string]interface{}{"symbols": len(filters)})
	return nil
}

// GetSymbolFilters retrieves (and caches) tradability filters for a symbol.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if f, ok := c.filters[symbol]; ok {
		return f, nil
	}
	if err := c.refreshFilters(ctx); err != nil {
		return nil, err
	}
	f, ok := c.filters[symbol]
	if !ok {
		return nil, fmt.Errorf("GetSymbolFilters failed: %w: symbol %s not listed", ports.ErrInvalidInput, symbol)
	}
	return f, nil
}

// GetMaxLeverage retrieves the highest leverage the venue allows for a symbol.
func (c *Client) GetMaxLeverage(ctx context.Context, symbol string) (int, error) {
	op := "GetMaxLeverage"
	var brackets []*futures.LeverageBracket
	err := c.invoke(ctx, op, func() error {
		var err error
		brackets, err = c.futuresClient.NewGetLeverageBracketService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	maxLev := 0
	for _, b := range brackets {
		if b.Symbol != "" && b.Symbol != symbol {
			continue
		}
		for _, br := range b.Brackets {
			if br.InitialLeverage > maxLev {
				maxLev = br.InitialLeverage
			}
		}
	}
	if maxLev == 0 {
		return 0, fmt.Errorf("%s failed: %w: no brackets returned for %s", op, ports.ErrInternal, symbol)
	}
	return maxLev, nil
}

// GetKlines retrieves recent klines for the symbol, oldest first. Responses
// are cached on disk for a few minutes because the scan loop asks for the
// same window repeatedly.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	if c.diskCache != nil {
		if cached := c.diskCache.loadKlines(symbol, interval, limit, klineCacheTTL); cached != nil {
			return cached, nil
		}
	}

	op := "GetKlines"
	var binanceKlines []*futures.Kline
	err := c.invoke(ctx, op, func() error {
		var err error
		binanceKlines, err = c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, terr := translateKline(bk, symbol, interval)
		if terr != nil {
			return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrInternal, terr)
		}
		domainKlines = append(domainKlines, dk)
	}

	if c.diskCache != nil {
		if werr := c.diskCache.storeKlines(symbol, interval, limit, domainKlines); werr != nil {
			c.logger.Warn(ctx, "failed to persist kline cache", map[string]interface{}{"symbol": symbol, "error": werr.Error()})
		}
	}
	return domainKlines, nil
}
