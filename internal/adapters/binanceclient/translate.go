package binanceclient

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/ports"
)

// Translation helpers from go-binance response types to port DTOs. Numeric
// fields arrive as strings; unparseable optional fields default to zero.

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	stopPrice, _ := strconv.ParseFloat(order.StopPrice, 64)

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Type:          string(order.Type),
		Side:          string(order.Side),
		ReduceOnly:    order.ReduceOnly,
		StopPrice:     stopPrice,
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}

func translatePositionRisk(pos *futures.PositionRisk) *ports.PositionRisk {
	if pos == nil {
		return nil
	}
	posAmt, _ := strconv.ParseFloat(pos.PositionAmt, 64)
	entryPrice, _ := strconv.ParseFloat(pos.EntryPrice, 64)
	markPrice, _ := strconv.ParseFloat(pos.MarkPrice, 64)
	unProfit, _ := strconv.ParseFloat(pos.UnRealizedProfit, 64)
	liqPrice, _ := strconv.ParseFloat(pos.LiquidationPrice, 64)
	leverage, _ := strconv.Atoi(pos.Leverage)
	isoMargin, _ := strconv.ParseFloat(pos.IsolatedMargin, 64)
	maxNotional, _ := strconv.ParseFloat(pos.MaxNotionalValue, 64)

	return &ports.PositionRisk{
		Symbol:           pos.Symbol,
		PositionAmt:      posAmt,
		EntryPrice:       entryPrice,
		MarkPrice:        markPrice,
		UnRealizedProfit: unProfit,
		LiquidationPrice: liqPrice,
		Leverage:         leverage,
		IsolatedMargin:   isoMargin,
		MaxNotionalValue: maxNotional,
	}
}

func translateTicker(s *futures.PriceChangeStats) *ports.Ticker24h {
	if s == nil {
		return nil
	}
	last, _ := strconv.ParseFloat(s.LastPrice, 64)
	change, _ := strconv.ParseFloat(s.PriceChangePercent, 64)
	high, _ := strconv.ParseFloat(s.HighPrice, 64)
	low, _ := strconv.ParseFloat(s.LowPrice, 64)
	quoteVol, _ := strconv.ParseFloat(s.QuoteVolume, 64)

	return &ports.Ticker24h{
		Symbol:             s.Symbol,
		LastPrice:          last,
		PriceChangePercent: change,
		HighPrice:          high,
		LowPrice:           low,
		QuoteVolume:        quoteVol,
	}
}

func translateAssetBalance(a *futures.AccountAsset) *ports.AssetBalance {
	wallet, _ := strconv.ParseFloat(a.WalletBalance, 64)
	unrealized, _ := strconv.ParseFloat(a.UnrealizedProfit, 64)
	margin, _ := strconv.ParseFloat(a.MarginBalance, 64)
	available, _ := strconv.ParseFloat(a.AvailableBalance, 64)
	maxWithdraw, _ := strconv.ParseFloat(a.MaxWithdrawAmount, 64)

	return &ports.AssetBalance{
		Asset:            a.Asset,
		WalletBalance:    wallet,
		UnrealizedProfit: unrealized,
		MarginBalance:    margin,
		AvailableBalance: available,
		MaxWithdraw:      maxWithdraw,
	}
}

func translateSymbolFilters(s *futures.Symbol) *ports.SymbolFilters {
	f := &ports.SymbolFilters{
		Symbol:            s.Symbol,
		PricePrecision:    s.PricePrecision,
		QuantityPrecision: s.QuantityPrecision,
	}
	if pf := s.PriceFilter(); pf != nil {
		f.TickSize, _ = strconv.ParseFloat(pf.TickSize, 64)
	}
	if lf := s.LotSizeFilter(); lf != nil {
		f.StepSize, _ = strconv.ParseFloat(lf.StepSize, 64)
		f.MinQty, _ = strconv.ParseFloat(lf.MinQuantity, 64)
	}
	if nf := s.MinNotionalFilter(); nf != nil {
		f.MinNotional, _ = strconv.ParseFloat(nf.Notional, 64)
	}
	return f
}

func translateKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}
