// Command fetch_klines warms the gateway's kline disk cache for the current
// top-volume universe, so a bot start right after does not pay the cold-start
// request cost.
package main

import (
	"context"
	"log"

	"github.com/berkekorucu/tradebot/config"
	"github.com/berkekorucu/tradebot/internal/adapters/binanceclient"
	"github.com/berkekorucu/tradebot/internal/adapters/logger"
)

var intervals = []string{"15m", "1h"}

const klinesPerInterval = 100

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	ctx := context.Background()
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	exchange, err := binanceclient.New(binanceclient.Config{
		APIKey:          cfg.APIKey,
		SecretKey:       cfg.SecretKey,
		UseTestnet:      cfg.IsTestnet,
		Logger:          appLogger,
		MaxRetries:      cfg.MaxRetries,
		MinCallInterval: cfg.MinCallInterval,
		CacheDir:        cfg.CacheDir,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize exchange gateway: %v", err)
	}

	symbols, err := exchange.GetTopVolumeSymbols(ctx, cfg.QuoteAsset, cfg.MinVolumeUSDT, 50)
	if err != nil {
		log.Fatalf("FATAL: Failed to list top volume symbols: %v", err)
	}
	appLogger.Info(ctx, "Warming kline cache", map[string]interface{}{"symbols": len(symbols), "intervals": intervals})

	warmed := 0
	for _, symbol := range symbols {
		for _, interval := range intervals {
			if _, err := exchange.GetKlines(ctx, symbol, interval, klinesPerInterval); err != nil {
				appLogger.Warn(ctx, "kline fetch failed", map[string]interface{}{"symbol": symbol, "interval": interval, "error": err.Error()})
				continue
			}
			warmed++
		}
	}
	appLogger.Info(ctx, "Kline cache warmed", map[string]interface{}{"series": warmed, "cacheDir": cfg.CacheDir})
}
