package binanceclient

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/ports"
)

// GetAccountBalances retrieves all non-zero asset balances.
func (c *Client) GetAccountBalances(ctx context.Context) ([]*ports.AssetBalance, error) {
	op := "GetAccountBalances"
	var account *futures.Account
	err := c.invoke(ctx, op, func() error {
		var err error
		account, err = c.futuresClient.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]*ports.AssetBalance, 0, len(account.Assets))
	for _, a := range account.Assets {
		bal := translateAssetBalance(a)
		if bal.WalletBalance == 0 && bal.UnrealizedProfit == 0 {
			continue
		}
		out = append(out, bal)
	}
	return out, nil
}

// GetAvailableBalance retrieves the available balance for one asset.
func (c *Client) GetAvailableBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetAvailableBalance"
	var account *futures.Account
	err := c.invoke(ctx, op, func() error {
		var err error
		account, err = c.futuresClient.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, a := range account.Assets {
		if a.Asset == asset {
			return translateAssetBalance(a).AvailableBalance, nil
		}
	}
	return 0, fmt.Errorf("%s failed: %w: asset %s not found in account", op, ports.ErrNotFound, asset)
}

// GetOpenPositions retrieves every position with non-zero amount. Leverage is
// resolved from the response, falling back to the leverage cache and finally
// to the bracket endpoint's lowest tier.
func (c *Client) GetOpenPositions(ctx context.Context) ([]*ports.PositionRisk, error) {
	op := "GetOpenPositions"
	var positions []*futures.PositionRisk
	err := c.invoke(ctx, op, func() error {
		var err error
		positions, err = c.futuresClient.NewGetPositionRiskService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]*ports.PositionRisk, 0)
	for _, p := range positions {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		risk := translatePositionRisk(p)
		if risk.Leverage == 0 {
			risk.Leverage = c.resolveLeverage(ctx, risk.Symbol)
		}
		out = append(out, risk)
	}
	return out, nil
}

// GetPositionRisk retrieves the position for one symbol, nil if flat.
func (c *Client) GetPositionRisk(ctx context.Context, symbol string) (*ports.PositionRisk, error) {
	op := "GetPositionRisk"
	var positions []*futures.PositionRisk
	err := c.invoke(ctx, op, func() error {
		var err error
		positions, err = c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}
	amt, _ := strconv.ParseFloat(positions[0].PositionAmt, 64)
	if amt == 0 {
		return nil, nil
	}
	risk := translatePositionRisk(positions[0])
	if risk.Leverage == 0 {
		risk.Leverage = c.resolveLeverage(ctx, symbol)
	}
	return risk, nil
}

// resolveLeverage consults the cache, then the bracket endpoint. Defaults to
// 1 when nothing answers, which only ever under-states exposure.
func (c *Client) resolveLeverage(ctx context.Context, symbol string) int {
	c.cacheMu.Lock()
	lev, ok := c.leverage[symbol]
	c.cacheMu.Unlock()
	if ok && lev > 0 {
		return lev
	}
	maxLev, err := c.GetMaxLeverage(ctx, symbol)
	if err != nil {
		c.logger.Warn(ctx, "leverage resolution fell back to 1", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return 1
	}
	return maxLev
}

// SetLeverage sets the leverage for a symbol and refreshes the cache entry.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	err := c.invoke(ctx, op, func() error {
		_, err := c.futuresClient.NewChangeLeverageService().
			Symbol(symbol).
			Leverage(leverage).
			Do(ctx)
		return err
	})
	if err != nil {
		return err
	}
	c.cacheMu.Lock()
	c.leverage[symbol] = leverage
	c.cacheMu.Unlock()
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// SetMarginType sets the margin mode for a symbol. The venue rejects a no-op
// change with a dedicated code, which is treated as success.
func (c *Client) SetMarginType(ctx context.Context, symbol string, margin domain.MarginType) error {
	op := "SetMarginType"
	err := c.invoke(ctx, op, func() error {
		err := c.futuresClient.NewChangeMarginTypeService().
			Symbol(symbol).
			MarginType(futures.MarginType(margin)).
			Do(ctx)
		if isMarginUnchanged(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "marginType": margin})
	return nil
}
