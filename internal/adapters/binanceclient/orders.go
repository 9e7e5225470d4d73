package binanceclient

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/metrics"
	"github.com/berkekorucu/tradebot/internal/ports"
)

// formatQuantity floors the quantity to the symbol's lot step and renders it
// with the allowed number of decimals.
func (c *Client) formatQuantity(ctx context.Context, symbol string, quantity float64) (string, error) {
	f, err := c.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return "", err
	}
	q := quantity
	if f.StepSize > 0 {
		q = math.Floor(q/f.StepSize) * f.StepSize
	}
	if q < f.MinQty {
		return "", fmt.Errorf("quantity %v below minimum %v for %s: %w", quantity, f.MinQty, symbol, ports.ErrInvalidInput)
	}
	return strconv.FormatFloat(q, 'f', f.QuantityPrecision, 64), nil
}

// formatPrice rounds the price to the symbol's tick and renders it with the
// allowed number of decimals.
func (c *Client) formatPrice(ctx context.Context, symbol string, price float64) (string, error) {
	f, err := c.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return "", err
	}
	p := price
	if f.TickSize > 0 {
		p = math.Round(p/f.TickSize) * f.TickSize
	}
	return strconv.FormatFloat(p, 'f', f.PricePrecision, 64), nil
}

// PlaceMarketOrder places a market order.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, reduceOnly bool) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"
	qtyStr, err := c.formatQuantity(ctx, symbol, quantity)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	var order *futures.CreateOrderResponse
	err = c.invoke(ctx, op, func() error {
		svc := c.futuresClient.NewCreateOrderService().
			Symbol(symbol).
			Side(futures.SideType(side)).
			Type(futures.OrderTypeMarket).
			Quantity(qtyStr)
		if reduceOnly {
			svc = svc.ReduceOnly(true)
		}
		var err error
		order, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersPlaced.WithLabelValues("MARKET", string(side)).Inc()
	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "quantity": qtyStr, "reduceOnly": reduceOnly, "orderID": resp.OrderID, "avgPrice": resp.AvgPrice})
	return resp, nil
}

// PlaceStopMarketOrder places a stop-market order triggered at stopPrice.
func (c *Client) PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, stopPrice float64, reduceOnly bool) (*ports.OrderResponse, error) {
	op := "PlaceStopMarketOrder"
	return c.placeTriggerOrder(ctx, op, futures.OrderTypeStopMarket, symbol, side, quantity, stopPrice, reduceOnly)
}

// PlaceTakeProfitMarketOrder places a take-profit-market order triggered at stopPrice.
func (c *Client) PlaceTakeProfitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, stopPrice float64, reduceOnly bool) (*ports.OrderResponse, error) {
	op := "PlaceTakeProfitMarketOrder"
	return c.placeTriggerOrder(ctx, op, futures.OrderTypeTakeProfitMarket, symbol, side, quantity, stopPrice, reduceOnly)
}

func (c *Client) placeTriggerOrder(ctx context.Context, op string, orderType futures.OrderType, symbol string, side domain.OrderSide, quantity, stopPrice float64, reduceOnly bool) (*ports.OrderResponse, error) {
	qtyStr, err := c.formatQuantity(ctx, symbol, quantity)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	priceStr, err := c.formatPrice(ctx, symbol, stopPrice)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	var order *futures.CreateOrderResponse
	err = c.invoke(ctx, op, func() error {
		svc := c.futuresClient.NewCreateOrderService().
			Symbol(symbol).
			Side(futures.SideType(side)).
			Type(orderType).
			Quantity(qtyStr).
			StopPrice(priceStr)
		if reduceOnly {
			svc = svc.ReduceOnly(true)
		}
		var err error
		order, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersPlaced.WithLabelValues(string(orderType), string(side)).Inc()
	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "quantity": qtyStr, "stopPrice": priceStr, "reduceOnly": reduceOnly, "orderID": resp.OrderID})
	return resp, nil
}

// CancelOrder cancels one open order by ID.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	var res *futures.CancelOrderResponse
	err := c.invoke(ctx, op, func() error {
		var err error
		res, err = c.futuresClient.NewCancelOrderService().
			Symbol(symbol).
			OrderID(orderID).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	// CancelOrderResponse lacks fill fields; map what exists.
	resp := translateOrderResponse(&futures.CreateOrderResponse{
		OrderID:       res.OrderID,
		Symbol:        res.Symbol,
		ClientOrderID: res.ClientOrderID,
		Price:         res.Price,
		OrigQuantity:  res.OrigQuantity,
		Status:        res.Status,
		Type:          res.Type,
		Side:          res.Side,
	})
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": resp.Status})
	return resp, nil
}

// CancelAllOpenOrders cancels every open order on a symbol.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	op := "CancelAllOpenOrders"
	err := c.invoke(ctx, op, func() error {
		return c.futuresClient.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return err
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol})
	return nil
}
