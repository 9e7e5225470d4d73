package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/berkekorucu/tradebot/internal/adapters/logger"
	"github.com/berkekorucu/tradebot/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Universe
	QuoteAsset    string  // Quote asset for tradable symbols (e.g., "USDT")
	MinVolumeUSDT float64 // Minimum 24h quote volume to consider a symbol

	// Risk parameters
	AccountRiskPerTrade  float64 // Percent of balance risked per trade
	MaxAccountRisk       float64 // Max aggregate account risk percent
	MaxDrawdown          float64 // Drawdown percent that halts trading
	MaxOpenPositions     int
	MaxDailyTrades       int
	ProfitThresholdDaily float64 // Daily profit percent that locks in the day
	LossThresholdDaily   float64 // Daily loss percent that halts the day

	// Leverage and margin
	DefaultLeverage int
	MaxLeverage     int
	AutoLeverage    bool
	MarginType      domain.MarginType

	// Sizing
	PositionSizeType  domain.SizingMode
	FixedPositionSize float64 // Quote-asset notional for FIXED sizing

	// Stops and targets
	StaticSLPercent        float64
	TrailingSL             bool
	TrailingSLDistance     float64 // Percent distance from price
	TrailingSLInterval     float64 // Percent move required before the stop is replaced
	TPTargets              []float64
	TPQuantities           []float64 // Percent of the position per target, sums to 100
	PartialCloseEnabled    bool
	PartialCloseThreshold  float64 // Unrealized PnL percent that triggers partial close
	PartialClosePercentage float64 // Percent of the position closed

	// Engine timing
	CheckInterval       time.Duration // Signal loop period
	MarketInterval      time.Duration // Market state refresh period
	MonitorInterval     time.Duration // Position monitor period
	HealthCheckInterval time.Duration // Ping / drift check period

	// Gateway
	MaxRetries      int
	MinCallInterval time.Duration
	CacheDir        string // Disk cache for exchange metadata and klines, "" disables

	// Storage
	DBPath string // SQLite ledger path, "" disables persistence

	// Admin HTTP server
	AdminListenAddr string // e.g., ":9090", "" disables

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string // "std" or "json"
}

// strategyFile mirrors the optional YAML overlay. Only the knobs a strategy
// author actually tunes are exposed there; credentials stay in the env.
type strategyFile struct {
	AccountRiskPerTrade    *float64  `yaml:"account_risk_per_trade"`
	MaxAccountRisk         *float64  `yaml:"max_account_risk"`
	MaxDrawdown            *float64  `yaml:"max_drawdown"`
	MaxOpenPositions       *int      `yaml:"max_open_positions"`
	MaxDailyTrades         *int      `yaml:"max_daily_trades"`
	ProfitThresholdDaily   *float64  `yaml:"profit_threshold_daily"`
	LossThresholdDaily     *float64  `yaml:"loss_threshold_daily"`
	DefaultLeverage        *int      `yaml:"default_leverage"`
	MaxLeverage            *int      `yaml:"max_leverage"`
	AutoLeverage           *bool     `yaml:"auto_leverage"`
	PositionSizeType       *string   `yaml:"position_size_type"`
	FixedPositionSize      *float64  `yaml:"fixed_position_size"`
	StaticSLPercent        *float64  `yaml:"static_sl_percent"`
	TrailingSL             *bool     `yaml:"trailing_sl"`
	TrailingSLDistance     *float64  `yaml:"trailing_sl_distance"`
	TrailingSLInterval     *float64  `yaml:"trailing_sl_interval"`
	TPTargets              []float64 `yaml:"tp_targets"`
	TPQuantities           []float64 `yaml:"tp_quantities"`
	PartialCloseEnabled    *bool     `yaml:"partial_close_enabled"`
	PartialCloseThreshold  *float64  `yaml:"partial_close_threshold"`
	PartialClosePercentage *float64  `yaml:"partial_close_percentage"`
	MinVolumeUSDT          *float64  `yaml:"min_volume_usdt"`
}

// LoadConfig loads configuration from environment variables (.env file),
// then applies the optional YAML strategy file named by STRATEGY_FILE.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Universe
	cfg.QuoteAsset = getEnv("QUOTE_ASSET", "USDT")
	cfg.MinVolumeUSDT = getEnvAsFloat("MIN_VOLUME_USDT", 5_000_000)

	// Risk parameters
	cfg.AccountRiskPerTrade, err = getEnvAsFloatRequired("ACCOUNT_RISK_PER_TRADE", 1.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ACCOUNT_RISK_PER_TRADE: %v", err))
	}
	cfg.MaxAccountRisk = getEnvAsFloat("MAX_ACCOUNT_RISK", 5.0)
	cfg.MaxDrawdown = getEnvAsFloat("MAX_DRAWDOWN", 10.0)
	cfg.MaxOpenPositions = getEnvAsInt("MAX_OPEN_POSITIONS", 5)
	cfg.MaxDailyTrades = getEnvAsInt("MAX_DAILY_TRADES", 20)
	cfg.ProfitThresholdDaily = getEnvAsFloat("PROFIT_THRESHOLD_DAILY", 3.0)
	cfg.LossThresholdDaily = getEnvAsFloat("LOSS_THRESHOLD_DAILY", 5.0)

	// Leverage and margin
	cfg.DefaultLeverage = getEnvAsInt("DEFAULT_LEVERAGE", 3)
	cfg.MaxLeverage = getEnvAsInt("MAX_LEVERAGE", 10)
	cfg.AutoLeverage = getEnvAsBool("AUTO_LEVERAGE", true)
	switch mt := domain.MarginType(strings.ToUpper(getEnv("MARGIN_TYPE", "ISOLATED"))); mt {
	case domain.MarginIsolated, domain.MarginCrossed:
		cfg.MarginType = mt
	default:
		errs = append(errs, fmt.Sprintf("invalid MARGIN_TYPE %q (want ISOLATED or CROSSED)", mt))
	}

	// Sizing
	switch st := domain.SizingMode(strings.ToUpper(getEnv("POSITION_SIZE_TYPE", "RISK_BASED"))); st {
	case domain.SizingFixed, domain.SizingRiskBased, domain.SizingDynamic:
		cfg.PositionSizeType = st
	default:
		errs = append(errs, fmt.Sprintf("invalid POSITION_SIZE_TYPE %q", st))
	}
	cfg.FixedPositionSize = getEnvAsFloat("FIXED_POSITION_SIZE", 100.0)

	// Stops and targets
	cfg.StaticSLPercent = getEnvAsFloat("STATIC_SL_PERCENT", 2.0)
	cfg.TrailingSL = getEnvAsBool("TRAILING_SL", true)
	cfg.TrailingSLDistance = getEnvAsFloat("TRAILING_SL_DISTANCE", 1.0)
	cfg.TrailingSLInterval = getEnvAsFloat("TRAILING_SL_INTERVAL", 0.5)
	cfg.TPTargets, err = getEnvAsFloatList("TP_TARGETS", []float64{1.5, 3.0, 5.0})
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TP_TARGETS: %v", err))
	}
	cfg.TPQuantities, err = getEnvAsFloatList("TP_QUANTITIES", []float64{30, 30, 40})
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TP_QUANTITIES: %v", err))
	}
	cfg.PartialCloseEnabled = getEnvAsBool("PARTIAL_CLOSE_ENABLED", true)
	cfg.PartialCloseThreshold = getEnvAsFloat("PARTIAL_CLOSE_THRESHOLD", 2.0)
	cfg.PartialClosePercentage = getEnvAsFloat("PARTIAL_CLOSE_PERCENTAGE", 50.0)

	// Engine timing
	cfg.CheckInterval = getEnvAsSeconds("CHECK_INTERVAL_SECONDS", 60, &errs)
	cfg.MarketInterval = getEnvAsSeconds("MARKET_INTERVAL_SECONDS", 300, &errs)
	cfg.MonitorInterval = getEnvAsSeconds("MONITOR_INTERVAL_SECONDS", 10, &errs)
	cfg.HealthCheckInterval = getEnvAsSeconds("HEALTH_CHECK_INTERVAL_SECONDS", 300, &errs)

	// Gateway
	cfg.MaxRetries = getEnvAsInt("MAX_RETRIES", 5)
	minCallMs := getEnvAsInt("MIN_CALL_INTERVAL_MS", 50)
	if minCallMs <= 0 {
		errs = append(errs, "MIN_CALL_INTERVAL_MS must be positive")
	}
	cfg.MinCallInterval = time.Duration(minCallMs) * time.Millisecond
	cfg.CacheDir = getEnv("CACHE_DIR", "./data/cache")

	// Storage
	cfg.DBPath = getEnv("DB_PATH", "./data/tradebot.db")

	// Admin HTTP server
	cfg.AdminListenAddr = getEnv("ADMIN_LISTEN_ADDR", "")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "std"))
	if cfg.LogFormat != "std" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Sprintf("invalid LOG_FORMAT %q (want std or json)", cfg.LogFormat))
	}

	// Optional YAML strategy overlay
	if path := getEnv("STRATEGY_FILE", ""); path != "" {
		if overlayErr := cfg.applyStrategyFile(path); overlayErr != nil {
			errs = append(errs, fmt.Sprintf("strategy file %s: %v", path, overlayErr))
		}
	}

	errs = append(errs, cfg.validate()...)

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func (c *Config) applyStrategyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var sf strategyFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setFloat(&c.AccountRiskPerTrade, sf.AccountRiskPerTrade)
	setFloat(&c.MaxAccountRisk, sf.MaxAccountRisk)
	setFloat(&c.MaxDrawdown, sf.MaxDrawdown)
	setInt(&c.MaxOpenPositions, sf.MaxOpenPositions)
	setInt(&c.MaxDailyTrades, sf.MaxDailyTrades)
	setFloat(&c.ProfitThresholdDaily, sf.ProfitThresholdDaily)
	setFloat(&c.LossThresholdDaily, sf.LossThresholdDaily)
	setInt(&c.DefaultLeverage, sf.DefaultLeverage)
	setInt(&c.MaxLeverage, sf.MaxLeverage)
	setBool(&c.AutoLeverage, sf.AutoLeverage)
	if sf.PositionSizeType != nil {
		c.PositionSizeType = domain.SizingMode(strings.ToUpper(*sf.PositionSizeType))
	}
	setFloat(&c.FixedPositionSize, sf.FixedPositionSize)
	setFloat(&c.StaticSLPercent, sf.StaticSLPercent)
	setBool(&c.TrailingSL, sf.TrailingSL)
	setFloat(&c.TrailingSLDistance, sf.TrailingSLDistance)
	setFloat(&c.TrailingSLInterval, sf.TrailingSLInterval)
	if len(sf.TPTargets) > 0 {
		c.TPTargets = sf.TPTargets
	}
	if len(sf.TPQuantities) > 0 {
		c.TPQuantities = sf.TPQuantities
	}
	setBool(&c.PartialCloseEnabled, sf.PartialCloseEnabled)
	setFloat(&c.PartialCloseThreshold, sf.PartialCloseThreshold)
	setFloat(&c.PartialClosePercentage, sf.PartialClosePercentage)
	setFloat(&c.MinVolumeUSDT, sf.MinVolumeUSDT)
	return nil
}

// validate runs the cross-field checks that must hold after the overlay.
func (c *Config) validate() []string {
	var errs []string
	if c.AccountRiskPerTrade <= 0 || c.AccountRiskPerTrade > 100 {
		errs = append(errs, "ACCOUNT_RISK_PER_TRADE must be in (0, 100]")
	}
	if c.MaxAccountRisk <= 0 || c.MaxAccountRisk > 100 {
		errs = append(errs, "MAX_ACCOUNT_RISK must be in (0, 100]")
	}
	if c.MaxDrawdown <= 0 || c.MaxDrawdown > 100 {
		errs = append(errs, "MAX_DRAWDOWN must be in (0, 100]")
	}
	if c.MaxOpenPositions <= 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS must be positive")
	}
	if c.MaxDailyTrades < 0 {
		errs = append(errs, "MAX_DAILY_TRADES cannot be negative")
	}
	if c.DefaultLeverage <= 0 || c.MaxLeverage <= 0 || c.DefaultLeverage > c.MaxLeverage {
		errs = append(errs, "leverage settings must satisfy 0 < DEFAULT_LEVERAGE <= MAX_LEVERAGE")
	}
	if c.PositionSizeType == domain.SizingFixed && c.FixedPositionSize <= 0 {
		errs = append(errs, "FIXED_POSITION_SIZE must be positive for FIXED sizing")
	}
	if c.StaticSLPercent <= 0 {
		errs = append(errs, "STATIC_SL_PERCENT must be positive")
	}
	if c.TrailingSL && (c.TrailingSLDistance <= 0 || c.TrailingSLInterval <= 0) {
		errs = append(errs, "trailing stop distance and interval must be positive")
	}
	if len(c.TPTargets) != len(c.TPQuantities) {
		errs = append(errs, "TP_TARGETS and TP_QUANTITIES must have the same length")
	} else {
		var sum float64
		for _, q := range c.TPQuantities {
			if q <= 0 {
				errs = append(errs, "TP_QUANTITIES entries must be positive")
				break
			}
			sum += q
		}
		if len(c.TPQuantities) > 0 && (sum < 99.9 || sum > 100.1) {
			errs = append(errs, "TP_QUANTITIES must sum to 100")
		}
	}
	if c.PartialCloseEnabled && (c.PartialClosePercentage <= 0 || c.PartialClosePercentage >= 100) {
		errs = append(errs, "PARTIAL_CLOSE_PERCENTAGE must be in (0, 100)")
	}
	if c.MaxRetries <= 0 {
		errs = append(errs, "MAX_RETRIES must be positive")
	}
	return errs
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloatList parses a comma-separated float list, e.g. "1.5,3.0,5.0".
func getEnvAsFloatList(key string, defaultValue []float64) ([]float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	parts := strings.Split(valueStr, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float value '%s' for key %s: %w", p, key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func getEnvAsSeconds(key string, defaultValue int, errs *[]string) time.Duration {
	secs := getEnvAsInt(key, defaultValue)
	if secs <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be positive", key))
		secs = defaultValue
	}
	return time.Duration(secs) * time.Second
}
