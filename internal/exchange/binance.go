// Package exchange provides the Binance spot REST client used for symbol
// discovery and historical daily candle retrieval.
//
// Every outbound attempt passes through the shared per-minute window limiter
// and a per-second request smoother before hitting the wire. Failed attempts
// are retried with exponential backoff (2^attempt seconds between attempts)
// up to a fixed ceiling; the last failure is returned once retries are
// exhausted.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/quantflow/go-ohlcv-cache/internal/models"
)

const (
	defaultBaseURL = "https://api.binance.com"

	exchangeInfoEndpoint = "/api/v3/exchangeInfo"
	ticker24hEndpoint    = "/api/v3/ticker/24hr"
	klinesEndpoint       = "/api/v3/klines"

	// DefaultPageLimit is the Binance maximum number of klines per request.
	DefaultPageLimit = 1000

	// DefaultRetryAttempts is the total attempt ceiling per call.
	DefaultRetryAttempts = 3

	// Binance additionally enforces a raw request cap independent of the
	// per-minute weight ceiling; the smoother keeps bursts under it.
	requestsPerSecond = 10

	requestTimeout = 30 * time.Second

	dailyInterval = "1d"
)

// CallLimiter gates individual outbound calls. Satisfied by
// *ratelimit.Limiter.
type CallLimiter interface {
	Wait(ctx context.Context) error
}

// SymbolInfo is the exchange metadata subset used for symbol discovery.
type SymbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

// Ticker is one entry of the 24h ticker statistics snapshot. Volumes arrive
// as decimal strings and are parsed where they are consumed.
type Ticker struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	Volume      string `json:"volume"`
	QuoteVolume string `json:"quoteVolume"`
	Count       int64  `json:"count"`
}

// Config configures the Binance client.
type Config struct {
	BaseURL       string
	APIKey        string
	RetryAttempts int
	// RetryInterval is the first backoff delay; each subsequent delay
	// doubles. Defaults to one second. Tests shrink it.
	RetryInterval time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client executes rate-limited, retried calls against the Binance spot API.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	limiter       CallLimiter
	perSecond     *rate.Limiter
	retryAttempts int
	retryInterval time.Duration
	logger        *slog.Logger
}

// New creates a Binance client sharing the given per-minute limiter. One
// limiter instance is owned by one client, constructed at startup and
// threaded through explicitly.
func New(cfg Config, limiter CallLimiter) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		httpClient:    cfg.HTTPClient,
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		limiter:       limiter,
		perSecond:     rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		retryAttempts: cfg.RetryAttempts,
		retryInterval: cfg.RetryInterval,
		logger:        cfg.Logger,
	}
}

// ExchangeInfo fetches per-symbol trading metadata.
func (c *Client) ExchangeInfo(ctx context.Context) ([]SymbolInfo, error) {
	var resp struct {
		Symbols []SymbolInfo `json:"symbols"`
	}
	if err := c.get(ctx, exchangeInfoEndpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}
	return resp.Symbols, nil
}

// Ticker24h fetches the 24-hour ticker statistics for all symbols.
func (c *Client) Ticker24h(ctx context.Context) ([]Ticker, error) {
	var tickers []Ticker
	if err := c.get(ctx, ticker24hEndpoint, nil, &tickers); err != nil {
		return nil, fmt.Errorf("fetch 24h tickers: %w", err)
	}
	return tickers, nil
}

// DailyKlines fetches daily candles for a symbol, oldest first. A zero start
// requests the full history the API will serve in one page; a non-zero start
// requests candles opening at or after it. Both are bounded by the API page
// size of 1000 rows.
func (c *Client) DailyKlines(ctx context.Context, symbol string, start time.Time) (models.Series, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", dailyInterval)
	params.Set("limit", strconv.Itoa(DefaultPageLimit))
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}

	var raw [][]json.RawMessage
	if err := c.get(ctx, klinesEndpoint, params, &raw); err != nil {
		return nil, fmt.Errorf("fetch klines for %s: %w", symbol, err)
	}

	series := make(models.Series, 0, len(raw))
	for i, row := range raw {
		candle, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("parse kline %d for %s: %w", i, symbol, err)
		}
		series = append(series, candle)
	}
	return series, nil
}

// retryableError marks a failure worth another attempt.
type retryableError struct {
	status int
	err    error
}

func (e *retryableError) Error() string {
	if e.status != 0 {
		return fmt.Sprintf("binance responded %d: %v", e.status, e.err)
	}
	return e.err.Error()
}

func (e *retryableError) Unwrap() error { return e.err }

// get performs a rate-limited GET with retries and decodes the JSON body
// into out.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	requestURL := c.baseURL + endpoint
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		if err := c.perSecond.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-MBX-APIKEY", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &retryableError{err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &retryableError{err: fmt.Errorf("read response: %w", err)}
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
			// 429/418 are Binance throttling responses; back off and retry.
			return &retryableError{status: resp.StatusCode, err: fmt.Errorf("rate limited: %s", body)}
		case resp.StatusCode >= 500:
			return &retryableError{status: resp.StatusCode, err: fmt.Errorf("server error: %s", body)}
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, body))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Hour
	bo.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("binance request failed, retrying",
			"endpoint", endpoint, "wait", wait, "error", err)
	}

	return backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retryAttempts-1)), ctx),
		notify)
}
