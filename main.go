package main

import (
	"context"
	"log" // Standard log only for fatal errors before the logger is ready
	"os"
	"os/signal"
	"syscall"

	"github.com/berkekorucu/tradebot/config"
	"github.com/berkekorucu/tradebot/internal/adapters/binanceclient"
	"github.com/berkekorucu/tradebot/internal/adapters/logger"
	"github.com/berkekorucu/tradebot/internal/adapters/signals"
	"github.com/berkekorucu/tradebot/internal/adapters/sqlite"
	"github.com/berkekorucu/tradebot/internal/app"
	"github.com/berkekorucu/tradebot/internal/opportunity"
	"github.com/berkekorucu/tradebot/internal/ports"
	"github.com/berkekorucu/tradebot/internal/position"
	"github.com/berkekorucu/tradebot/internal/risk"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	var appLogger ports.Logger
	switch cfg.LogFormat {
	case "json":
		zl, err := logger.NewZapLogger(cfg.LogLevel)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize logger: %v", err)
		}
		defer func() { _ = zl.Sync() }()
		appLogger = zl
	default:
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	var tradeRepo ports.TradeRepository
	if cfg.DBPath != "" {
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize trade ledger")
			log.Fatalf("FATAL: Failed to initialize trade ledger: %v", err)
		}
		defer func() {
			if err := repo.Close(); err != nil {
				appLogger.Error(ctx, err, "Error closing trade ledger")
			}
		}()
		tradeRepo = repo
	}

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
		appLogger.Error(ctx, err, "FATAL: Failed to initialize exchange gateway")
		log.Fatalf("FATAL: Failed to initialize exchange gateway: %v", err)
	}

	signalSrc, err := signals.NewSource(signals.DefaultConfig(), exchange, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize signal source")
		log.Fatalf("FATAL: Failed to initialize signal source: %v", err)
	}
	marketSrc, err := signals.NewMarketSource(exchange, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize market source")
		log.Fatalf("FATAL: Failed to initialize market source: %v", err)
	}

	pool := opportunity.New(opportunity.Config{
		Exchange:   exchange,
		Indicators: signalSrc,
		Logger:     appLogger,
	})

	riskMgr, err := risk.New(risk.Config{
		QuoteAsset:           cfg.QuoteAsset,
		AccountRiskPerTrade:  cfg.AccountRiskPerTrade,
		MaxAccountRisk:       cfg.MaxAccountRisk,
		MaxDrawdown:          cfg.MaxDrawdown,
		MaxOpenPositions:     cfg.MaxOpenPositions,
		MaxDailyTrades:       cfg.MaxDailyTrades,
		ProfitThresholdDaily: cfg.ProfitThresholdDaily,
		LossThresholdDaily:   cfg.LossThresholdDaily,
		DefaultLeverage:      cfg.DefaultLeverage,
		MaxLeverage:          cfg.MaxLeverage,
		AutoLeverage:         cfg.AutoLeverage,
		SizingMode:           cfg.PositionSizeType,
		FixedPositionSize:    cfg.FixedPositionSize,
		StaticSLPercent:      cfg.StaticSLPercent,
		TPTargets:            cfg.TPTargets,
		TPQuantities:         cfg.TPQuantities,
	}, exchange, tradeRepo, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize risk manager")
		log.Fatalf("FATAL: Failed to initialize risk manager: %v", err)
	}

	posMgr, err := position.New(position.Config{
		MarginType:            cfg.MarginType,
		TrailingEnabled:       cfg.TrailingSL,
		TrailingDistance:      cfg.TrailingSLDistance,
		TrailingInterval:      cfg.TrailingSLInterval,
		PartialCloseEnabled:   cfg.PartialCloseEnabled,
		PartialCloseThreshold: cfg.PartialCloseThreshold,
		PartialClosePct:       cfg.PartialClosePercentage,
		OnClose: func(symbol string, pnl float64) {
			if pnl > 0 {
				pool.RecordSuccess(symbol)
			} else if pnl < 0 {
				pool.RecordFailure(symbol)
			}
		},
	}, exchange, riskMgr, appLogger, nil)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize position manager")
		log.Fatalf("FATAL: Failed to initialize position manager: %v", err)
	}

	service, err := app.NewTradingService(cfg, appLogger, exchange, pool, riskMgr, posMgr, signalSrc, marketSrc, nil)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	if err := service.Start(runCtx); err != nil {
		appLogger.Error(ctx, err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}
	appLogger.Info(ctx, "Application finished gracefully")
}
