package ports

import (
	"context"
	"time"

	"github.com/berkekorucu/tradebot/internal/domain"
)

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       int64     // Exchange's order ID
	Symbol        string    // Symbol for the order
	ClientOrderID string    // User-defined order ID
	Price         float64   // Price of the order (0 for market orders initially)
	AvgPrice      float64   // Average filled price
	OrigQuantity  float64   // Original quantity requested
	ExecutedQty   float64   // Quantity filled
	Status        string    // Order status (e.g., NEW, FILLED, CANCELED)
	Type          string    // Order type (e.g., MARKET, STOP_MARKET)
	Side          string    // Order side (BUY, SELL)
	ReduceOnly    bool      // Whether the order only reduces an open position
	StopPrice     float64   // Trigger price for stop-style orders
	Timestamp     time.Time // Time the order response was generated
}

// PositionRisk represents the risk details for an open position.
// PositionAmt is positive for long exposure and negative for short.
type PositionRisk struct {
	Symbol           string
	PositionAmt      float64
	EntryPrice       float64
	MarkPrice        float64
	UnRealizedProfit float64
	LiquidationPrice float64
	Leverage         int
	IsolatedMargin   float64
	MaxNotionalValue float64
}

// SymbolFilters carries the venue's tradability constraints for one symbol.
type SymbolFilters struct {
	Symbol            string
	PricePrecision    int     // Decimal places allowed on prices
	QuantityPrecision int     // Decimal places allowed on quantities
	TickSize          float64 // Price must be a multiple of this
	StepSize          float64 // Quantity must be a multiple of this
	MinQty            float64 // Smallest order quantity
	MinNotional       float64 // Smallest order notional in quote asset
}

// Ticker24h is the rolling 24 hour statistics for one symbol.
type Ticker24h struct {
	Symbol             string
	LastPrice          float64
	PriceChangePercent float64
	HighPrice          float64
	LowPrice           float64
	QuoteVolume        float64
}

// AssetBalance is one asset's balance lines from the futures account.
type AssetBalance struct {
	Asset            string
	WalletBalance    float64
	UnrealizedProfit float64
	MarginBalance    float64
	AvailableBalance float64
	MaxWithdraw      float64
}

// ExchangeClient is the gateway to the futures venue. Implementations own
// retries, rate limiting and error classification; callers see only the
// sentinel taxonomy from this package. Quantities and prices are plain
// float64 here and are formatted to the symbol's filters inside the adapter.
type ExchangeClient interface {
	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)

	// GetMarkPrice retrieves the current mark price for a given symbol.
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// GetFundingRate retrieves the last funding rate for a given symbol.
	GetFundingRate(ctx context.Context, symbol string) (float64, error)

	// Get24hTicker retrieves rolling 24h statistics for one symbol.
	Get24hTicker(ctx context.Context, symbol string) (*Ticker24h, error)

	// Get24hTickers retrieves rolling 24h statistics for every symbol in one call.
	Get24hTickers(ctx context.Context) ([]*Ticker24h, error)

	// GetTopVolumeSymbols lists symbols quoted in quoteAsset with at least
	// minQuoteVolume of 24h turnover, ordered by volume descending, up to limit.
	GetTopVolumeSymbols(ctx context.Context, quoteAsset string, minQuoteVolume float64, limit int) ([]string, error)

	// GetAccountBalances retrieves all non-zero asset balances.
	GetAccountBalances(ctx context.Context) ([]*AssetBalance, error)

	// GetAvailableBalance retrieves the available balance for one asset.
	GetAvailableBalance(ctx context.Context, asset string) (float64, error)

	// GetOpenPositions retrieves every position with non-zero amount.
	GetOpenPositions(ctx context.Context) ([]*PositionRisk, error)

	// GetPositionRisk retrieves the position for one symbol, nil if flat.
	GetPositionRisk(ctx context.Context, symbol string) (*PositionRisk, error)

	// GetSymbolFilters retrieves (and caches) tradability filters for a symbol.
	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)

	// GetMaxLeverage retrieves the highest leverage the venue allows for a symbol.
	GetMaxLeverage(ctx context.Context, symbol string) (int, error)

	// SetLeverage sets the leverage for a symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// SetMarginType sets the margin mode for a symbol. Setting the mode the
	// symbol already uses is not an error.
	SetMarginType(ctx context.Context, symbol string, margin domain.MarginType) error

	// PlaceMarketOrder places a market order.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, reduceOnly bool) (*OrderResponse, error)

	// PlaceStopMarketOrder places a stop-market order triggered at stopPrice.
	PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, stopPrice float64, reduceOnly bool) (*OrderResponse, error)

	// PlaceTakeProfitMarketOrder places a take-profit-market order triggered at stopPrice.
	PlaceTakeProfitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, stopPrice float64, reduceOnly bool) (*OrderResponse, error)

	// CancelOrder cancels one open order by ID.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)

	// CancelAllOpenOrders cancels every open order on a symbol.
	CancelAllOpenOrders(ctx context.Context, symbol string) error

	// GetKlines retrieves recent klines for the symbol, oldest first.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)
}
