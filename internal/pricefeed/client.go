// Package pricefeed looks up the spot USD price of the native currency.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"presale-settler/internal/observability"
)

// Defaults.
const (
	DefaultURL     = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"
	DefaultAsset   = "solana"
	DefaultTimeout = 5 * time.Second
	DefaultRPS     = 2.0
)

// Sentinel errors.
var (
	ErrNoPrice  = errors.New("price feed returned no price")
	ErrBadPrice = errors.New("price feed returned a non-positive price")
)

// Config configures the client.
type Config struct {
	URL               string
	Asset             string // key in the response object
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client fetches spot prices from a simple-price style endpoint returning
// {"<asset>":{"usd":<price>}}. It never returns a zero or stale price.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a price feed client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Asset == "" {
		cfg.Asset = DefaultAsset
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRPS
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pricefeed")

	settings := gobreaker.Settings{
		Name:        "PriceFeed",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("price feed circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger,
	}
}

// SpotUSD returns the current USD price of one unit of the native currency.
func (c *Client) SpotUSD(ctx context.Context) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		observability.RecordPriceFeed("rate_limited")
		return decimal.Zero, fmt.Errorf("price feed rate limiter: %w", err)
	}

	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		status := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "open"
		}
		observability.RecordPriceFeed(status)
		c.logger.Warn("spot price unavailable", zap.Error(err))
		return decimal.Zero, fmt.Errorf("spot price: %w", err)
	}

	observability.RecordPriceFeed("ok")
	return v.(decimal.Decimal), nil
}

func (c *Client) fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return decimal.Zero, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price feed status %d", resp.StatusCode)
	}

	var out map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, fmt.Errorf("decode response: %w", err)
	}
	price, ok := out[c.cfg.Asset]["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w for %s", ErrNoPrice, c.cfg.Asset)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrBadPrice, price)
	}
	return price, nil
}
