// Package app wires the gateway, opportunity pool, risk and position layers
// into the unattended trading loops and the admin HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/berkekorucu/tradebot/config"
	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/opportunity"
	"github.com/berkekorucu/tradebot/internal/ports"
	"github.com/berkekorucu/tradebot/internal/position"
	"github.com/berkekorucu/tradebot/internal/risk"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	initialScanLimit = 20              // Symbols examined during the startup scan
	initialScanPause = 2 * time.Second // Pause between per-symbol scoring calls
	maxDriftWarn     = 10 * time.Second
	reportEvery      = time.Hour
)

// TradingService runs the engine loops until its context is canceled.
type TradingService struct {
	cfg       *config.Config
	logger    ports.Logger
	exchange  ports.ExchangeClient
	pool      *opportunity.Pool
	risk      *risk.Manager
	positions *position.Manager
	signals   ports.SignalSource
	marketSrc ports.MarketStateSource
	presenter ports.Presenter // Optional

	sleep      func(ctx context.Context, d time.Duration) error
	lastReport time.Time
	startedAt  time.Time
}

// NewTradingService validates and assembles the engine.
func NewTradingService(
	cfg *config.Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	pool *opportunity.Pool,
	riskMgr *risk.Manager,
	posMgr *position.Manager,
	signals ports.SignalSource,
	marketSrc ports.MarketStateSource,
	presenter ports.Presenter,
) (*TradingService, error) {
	if cfg == nil || logger == nil || exchange == nil || pool == nil || riskMgr == nil || posMgr == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	if signals == nil {
		return nil, fmt.Errorf("a signal source is required")
	}
	return &TradingService{
		cfg:       cfg,
		logger:    logger,
		exchange:  exchange,
		pool:      pool,
		risk:      riskMgr,
		positions: posMgr,
		signals:   signals,
		marketSrc: marketSrc,
		presenter: presenter,
		sleep:     sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start blocks until ctx is canceled or startup fails.
func (s *TradingService) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	s.logger.Info(ctx, "Starting trading service")

	if err := s.exchange.Ping(ctx); err != nil {
		return fmt.Errorf("exchange unreachable: %w", err)
	}
	s.checkClockDrift(ctx)

	if err := s.risk.RefreshAccount(ctx); err != nil {
		return fmt.Errorf("initial account refresh: %w", err)
	}
	if s.marketSrc != nil {
		s.refreshMarket(ctx)
	}
	if err := s.initialScan(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn(ctx, "initial universe scan incomplete", map[string]interface{}{"error": err.Error()})
	}

	var adminSrv *http.Server
	if s.cfg.AdminListenAddr != "" {
		adminSrv = s.startAdminServer(ctx)
	}

	var wg sync.WaitGroup
	loops := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"signal", s.cfg.CheckInterval, s.signalCycle},
		{"market", s.cfg.MarketInterval, s.marketCycle},
		{"monitor", s.cfg.MonitorInterval, s.monitorCycle},
		{"health", s.cfg.HealthCheckInterval, s.healthCycle},
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(name string, interval time.Duration, run func(context.Context)) {
			defer wg.Done()
			s.runLoop(ctx, name, interval, run)
		}(loop.name, loop.interval, loop.run)
	}

	<-ctx.Done()
	s.logger.Info(ctx, "Shutdown requested, stopping loops")
	wg.Wait()

	if adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "admin server shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}
	s.logger.Info(ctx, "Trading service stopped")
	return nil
}

func (s *TradingService) runLoop(ctx context.Context, name string, interval time.Duration, run func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// initialScan seeds the opportunity pool from the top-volume universe before
// the first signal cycle. Per-symbol scoring is paced so a cold start does
// not burn the request budget.
func (s *TradingService) initialScan(ctx context.Context) error {
	symbols, err := s.exchange.GetTopVolumeSymbols(ctx, s.cfg.QuoteAsset, s.cfg.MinVolumeUSDT, initialScanLimit)
	if err != nil {
		return fmt.Errorf("volume universe: %w", err)
	}
	tickers, err := s.exchange.Get24hTickers(ctx)
	if err != nil {
		return fmt.Errorf("batch tickers: %w", err)
	}
	bySymbol := make(map[string]*ports.Ticker24h, len(tickers))
	for _, t := range tickers {
		bySymbol[t.Symbol] = t
	}

	for i, sym := range symbols {
		t, ok := bySymbol[sym]
		if !ok {
			continue
		}
		s.pool.Upsert(ctx, sym, t)
		if i < len(symbols)-1 {
			if err := s.sleep(ctx, initialScanPause); err != nil {
				return err
			}
		}
	}
	s.logger.Info(ctx, "Initial universe scan complete", map[string]interface{}{"candidates": len(symbols), "poolSize": s.pool.Size()})
	return nil
}

// signalCycle refreshes the account and the protection state, then walks the
// best-scored symbols through the signal source and the position reducer.
// Entry gates evaluate this cycle's account snapshot, not the market loop's.
func (s *TradingService) signalCycle(ctx context.Context) {
	if err := s.risk.RefreshAccount(ctx); err != nil {
		s.logger.Error(ctx, err, "account refresh failed")
	}
	s.risk.UpdateProtection(ctx)

	s.discover(ctx)
	if err := s.pool.Refresh(ctx); err != nil {
		s.logger.Warn(ctx, "pool refresh failed", map[string]interface{}{"error": err.Error()})
	}

	for _, symbol := range s.pool.TopTargets(s.cfg.MaxOpenPositions * 2) {
		if ctx.Err() != nil {
			return
		}
		sig, err := s.signals.Signal(ctx, symbol)
		if err != nil {
			s.logger.Warn(ctx, "signal source failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			continue
		}
		if sig == nil {
			continue
		}
		wasTracked := s.positions.Has(symbol)
		if _, err := s.positions.ProcessSignal(ctx, sig); err != nil {
			s.logger.Error(ctx, err, "signal processing failed", map[string]interface{}{"symbol": symbol})
			if !wasTracked {
				// The entry attempt failed; cool the symbol down.
				s.pool.RecordFailure(symbol)
			}
		}
	}
	s.updatePresenter(ctx)
}

// discover folds newly liquid symbols into the pool.
func (s *TradingService) discover(ctx context.Context) {
	symbols, err := s.exchange.GetTopVolumeSymbols(ctx, s.cfg.QuoteAsset, s.cfg.MinVolumeUSDT, initialScanLimit)
	if err != nil {
		s.logger.Warn(ctx, "universe discovery failed", map[string]interface{}{"error": err.Error()})
		return
	}
	var fresh []string
	for _, sym := range symbols {
		if !s.pool.Contains(sym) {
			fresh = append(fresh, sym)
		}
	}
	if len(fresh) == 0 {
		return
	}
	tickers, err := s.exchange.Get24hTickers(ctx)
	if err != nil {
		s.logger.Warn(ctx, "batch tickers failed during discovery", map[string]interface{}{"error": err.Error()})
		return
	}
	bySymbol := make(map[string]*ports.Ticker24h, len(tickers))
	for _, t := range tickers {
		bySymbol[t.Symbol] = t
	}
	for _, sym := range fresh {
		if t, ok := bySymbol[sym]; ok {
			s.pool.Upsert(ctx, sym, t)
		}
	}
}

// marketCycle refreshes the account and market snapshots and re-evaluates
// the protection circuit breaker.
func (s *TradingService) marketCycle(ctx context.Context) {
	if err := s.risk.RefreshAccount(ctx); err != nil {
		s.logger.Error(ctx, err, "account refresh failed")
	}
	s.refreshMarket(ctx)
	s.risk.UpdateProtection(ctx)
	s.updatePresenter(ctx)
}

func (s *TradingService) refreshMarket(ctx context.Context) {
	if s.marketSrc == nil {
		return
	}
	ms, err := s.marketSrc.MarketState(ctx)
	if err != nil {
		s.logger.Warn(ctx, "market state source failed", map[string]interface{}{"error": err.Error()})
		return
	}
	s.risk.SetMarketState(ms)
}

// monitorCycle works every live position's trailing stop and partial close.
// Protective exits themselves rest on the venue as conditional orders.
func (s *TradingService) monitorCycle(ctx context.Context) {
	for _, tracked := range s.positions.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		if err := s.positions.Monitor(ctx, tracked.Symbol); err != nil {
			s.logger.Warn(ctx, "position monitor failed", map[string]interface{}{"symbol": tracked.Symbol, "error": err.Error()})
		}
	}
}

// healthCycle pings the venue, watches clock drift, and emits the periodic
// performance report.
func (s *TradingService) healthCycle(ctx context.Context) {
	if err := s.exchange.Ping(ctx); err != nil {
		s.logger.Error(ctx, err, "exchange health check failed")
	}
	s.checkClockDrift(ctx)

	if time.Since(s.lastReport) >= reportEvery {
		s.lastReport = time.Now()
		stats := s.risk.DailyStats()
		s.logger.Info(ctx, "Hourly report", map[string]interface{}{
			"balance":       s.risk.Balance(),
			"drawdownPct":   s.risk.Drawdown(),
			"dailyPnl":      stats.TotalPNL,
			"dailyTrades":   stats.TradeCount,
			"winRate":       stats.WinRate(),
			"openPositions": len(s.positions.Snapshot()),
			"poolSize":      s.pool.Size(),
			"protection":    s.risk.ProtectionActive(),
		})
	}
}

func (s *TradingService) checkClockDrift(ctx context.Context) {
	serverTime, err := s.exchange.GetServerTime(ctx)
	if err != nil {
		s.logger.Warn(ctx, "server time unavailable", map[string]interface{}{"error": err.Error()})
		return
	}
	drift := time.Since(serverTime)
	if drift < 0 {
		drift = -drift
	}
	if drift > maxDriftWarn {
		s.logger.Warn(ctx, "local clock drifts from exchange", map[string]interface{}{"drift": drift.String()})
	}
}

// updatePresenter pushes a state snapshot to the optional presenter.
// Presenter faults must never reach the engine.
func (s *TradingService) updatePresenter(ctx context.Context) {
	if s.presenter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn(ctx, "presenter panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
		}
	}()
	stats := s.risk.DailyStats()
	var market *domain.MarketState
	if s.marketSrc != nil {
		if ms, err := s.marketSrc.MarketState(ctx); err == nil {
			market = ms
		}
	}
	s.presenter.Update(s.risk.OpenPositions(), ports.PresenterStats{
		Balance:        s.risk.Balance(),
		AvailableUSDT:  s.risk.AvailableBalance(),
		DrawdownPct:    s.risk.Drawdown(),
		DailyPNL:       stats.TotalPNL,
		OpenPositions:  len(s.positions.Snapshot()),
		PoolSize:       s.pool.Size(),
		ProtectionMode: s.risk.ProtectionActive(),
	}, market)
}

// --- Admin HTTP surface ---

type statusPayload struct {
	Uptime        string             `json:"uptime"`
	Balance       float64            `json:"balance"`
	Available     float64            `json:"available"`
	DrawdownPct   float64            `json:"drawdownPct"`
	DailyPNL      float64            `json:"dailyPnl"`
	DailyTrades   int                `json:"dailyTrades"`
	Protection    bool               `json:"protectionMode"`
	ProtectionWhy string             `json:"protectionReason,omitempty"`
	PoolSize      int                `json:"poolSize"`
	TopTargets    []string           `json:"topTargets"`
	OpenPositions []position.Tracked `json:"openPositions"`
}

func (s *TradingService) startAdminServer(ctx context.Context) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         s.cfg.AdminListenAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		s.logger.Info(ctx, "Admin server listening", map[string]interface{}{"addr": s.cfg.AdminListenAddr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(ctx, err, "admin server failed")
		}
	}()
	return srv
}

func (s *TradingService) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.risk.DailyStats()
	payload := statusPayload{
		Uptime:        time.Since(s.startedAt).Round(time.Second).String(),
		Balance:       s.risk.Balance(),
		Available:     s.risk.AvailableBalance(),
		DrawdownPct:   s.risk.Drawdown(),
		DailyPNL:      stats.TotalPNL,
		DailyTrades:   stats.TradeCount,
		Protection:    s.risk.ProtectionActive(),
		ProtectionWhy: s.risk.ProtectionReason(),
		PoolSize:      s.pool.Size(),
		TopTargets:    s.pool.TopTargets(10),
		OpenPositions: s.positions.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn(r.Context(), "status encoding failed", map[string]interface{}{"error": err.Error()})
	}
}
