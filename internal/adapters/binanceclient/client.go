package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"github.com/berkekorucu/tradebot/internal/metrics"
	"github.com/berkekorucu/tradebot/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	defaultMaxAttempts     = 5
	defaultMinCallInterval = 50 * time.Millisecond

	exchangeInfoTTL = time.Hour
	klineCacheTTL   = 5 * time.Minute
)

// Client implements the ports.ExchangeClient interface using the go-binance
// library. Every venue call goes through invoke, which serializes requests,
// enforces the minimum call interval and retries per the error class.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger

	mu          sync.Mutex    // Serializes all venue calls
	gate        *rate.Limiter // Minimum interval between calls
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error

	cacheMu       sync.Mutex
	filters       map[string]*ports.SymbolFilters // Lives for the process
	leverage      map[string]int                  // Invalidated on SetLeverage
	exchangeInfo  *exchangeInfoCache
	diskCache     *diskCache // nil when no cache dir is configured
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey          string
	SecretKey       string
	UseTestnet      bool
	Logger          ports.Logger
	MaxRetries      int           // Attempts per call before giving up
	MinCallInterval time.Duration // Floor between consecutive venue calls
	CacheDir        string        // Disk cache location, "" disables
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	minInterval := cfg.MinCallInterval
	if minInterval <= 0 {
		minInterval = defaultMinCallInterval
	}

	c := &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		gate:          rate.NewLimiter(rate.Every(minInterval), 1),
		maxAttempts:   maxAttempts,
		sleep:         sleepCtx,
		filters:       make(map[string]*ports.SymbolFilters),
		leverage:      make(map[string]int),
	}
	if cfg.CacheDir != "" {
		dc, err := newDiskCache(cfg.CacheDir)
		if err != nil {
			cfg.Logger.Warn(context.Background(), "disk cache disabled", map[string]interface{}{"dir": cfg.CacheDir, "error": err.Error()})
		} else {
			c.diskCache = dc
		}
	}
	return c, nil
}

// errClass drives the retry loop's reaction to a failure.
type errClass int

const (
	classFailFast errClass = iota // Retrying cannot help
	classRetryNow                 // Retry without sleeping (clock skew)
	classRetryWait                // Back off, then retry
)

func (c errClass) String() string {
	switch c {
	case classRetryNow:
		return "clock_skew"
	case classRetryWait:
		return "retryable"
	default:
		return "fatal"
	}
}

// classify maps a venue failure to its sentinel, its retry class and the
// backoff before the next attempt. attempt is zero-based.
func classify(err error, attempt int) (errClass, error, time.Duration) {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1021, -1022: // recvWindow / signature: clock drift, retry at once
			return classRetryNow, ports.ErrClockSkew, 0
		case -1003: // Too many requests
			return classRetryWait, ports.ErrRateLimited, time.Duration(math.Pow(2, float64(attempt))*2) * time.Second
		case -2010, -2019, -3005, -3041: // Order rejected / margin or balance insufficient
			return classFailFast, ports.ErrInsufficientFunds, 0
		case -2011, -2022: // Cancel rejected / reduce-only rejected
			return classFailFast, ports.ErrOrderRejected, 0
		case -1121, -1102, -1111, -1130, -4003, -4014, -4015: // Bad symbol or parameters
			return classFailFast, ports.ErrInvalidInput, 0
		case -2013: // Order does not exist
			return classFailFast, ports.ErrNotFound, 0
		default:
			return classRetryWait, ports.ErrExchangeUnavailable, time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classFailFast, ports.ErrInternal, 0
	}
	// Transport faults, decode failures and everything else: worth retrying,
	// surfaced as internal with the cause preserved.
	return classRetryWait, ports.ErrInternal, time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// invoke runs one venue call under the client mutex with rate limiting and
// the retry policy applied. fn is re-executed on each attempt.
func (c *Client) invoke(ctx context.Context, op string, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.gate.Wait(ctx); err != nil {
			return fmt.Errorf("%s failed: %w: %w", op, ports.ErrInternal, err)
		}

		err := fn()
		if err == nil {
			metrics.GatewayCalls.WithLabelValues(op, "success").Inc()
			return nil
		}

		class, sentinel, wait := classify(err, attempt)
		lastErr = fmt.Errorf("%s failed: %w: %w", op, sentinel, err)

		fields := map[string]interface{}{"operation": op, "attempt": attempt + 1, "class": class.String()}
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			fields["apiErrorCode"] = apiErr.Code
			fields["apiErrorMessage"] = apiErr.Message
		}

		if class == classFailFast {
			metrics.GatewayCalls.WithLabelValues(op, "fail_fast").Inc()
			c.logger.Error(ctx, err, op+" failed, not retryable", fields)
			return lastErr
		}
		if attempt == c.maxAttempts-1 {
			break
		}

		metrics.GatewayRetries.WithLabelValues(op, class.String()).Inc()
		if wait > 0 {
			fields["backoff"] = wait.String()
		}
		c.logger.Warn(ctx, op+" failed, retrying", fields)

		if wait > 0 {
			if serr := c.sleep(ctx, wait); serr != nil {
				return fmt.Errorf("%s failed: %w: %w", op, ports.ErrInternal, serr)
			}
		}
	}

	metrics.GatewayCalls.WithLabelValues(op, "exhausted").Inc()
	c.logger.Error(ctx, lastErr, op+" failed after max attempts", map[string]interface{}{"operation": op, "attempts": c.maxAttempts})
	return lastErr
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

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	return c.invoke(ctx, op, func() error {
		return c.futuresClient.NewPingService().Do(ctx)
	})
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	var serverTimeMs int64
	err := c.invoke(ctx, op, func() error {
		var err error
		serverTimeMs, err = c.futuresClient.NewServerTimeService().Do(ctx)
		return err
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(serverTimeMs), nil
}

// isMarginUnchanged reports whether the error is the venue telling us the
// margin mode is already what we asked for.
func isMarginUnchanged(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == -4046 {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "No need to change margin type")
}
