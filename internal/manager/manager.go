// Package manager orchestrates symbol discovery, cache lookups, incremental
// fetch decisions, and merging of new daily data into cached series.
//
// Execution is sequential per symbol. Errors degrade to empty results rather
// than aborting a run: a failed discovery yields zero symbols, a failed
// fetch yields no data for that symbol, and every degradation is logged with
// the symbol and cause.
package manager

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantflow/go-ohlcv-cache/internal/exchange"
	"github.com/quantflow/go-ohlcv-cache/internal/models"
	"github.com/quantflow/go-ohlcv-cache/internal/storage"
)

const (
	statusTrading = "TRADING"

	// freshnessWindow mirrors the storage freshness rule: a series whose
	// last candle opened within a day of now needs no fetch.
	freshnessWindow = 24 * time.Hour
)

// ExchangeAPI is the subset of the Binance client the manager depends on.
type ExchangeAPI interface {
	ExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error)
	Ticker24h(ctx context.Context) ([]exchange.Ticker, error)
	DailyKlines(ctx context.Context, symbol string, start time.Time) (models.Series, error)
}

// Store is the subset of the file store the manager depends on. Freshness
// is decided from the series' own last timestamp, so the store's write-time
// staleness check is not part of this interface.
type Store interface {
	Store(symbol string, series models.Series) bool
	Load(symbol string) (models.Series, *storage.Meta, bool)
}

// Config holds the discovery and caching thresholds.
type Config struct {
	// QuoteCurrency restricts discovery to pairs quoted in this asset.
	QuoteCurrency string
	// MinQuoteVolume is the 24h quote-volume floor for discovery.
	MinQuoteVolume float64
	// MaxSymbols truncates the discovered symbol list.
	MaxSymbols int
}

// Manager owns the in-process working copies of cached series. The memory
// cache is keyed by symbol, populated lazily, and never evicted for the
// lifetime of a run; the bounded symbol count keeps that acceptable.
type Manager struct {
	exchange ExchangeAPI
	store    Store
	cfg      Config
	cache    map[string]models.Series
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager over the given exchange client and store.
func New(ex ExchangeAPI, store Store, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		exchange: ex,
		store:    store,
		cfg:      cfg,
		cache:    make(map[string]models.Series),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TradeableSymbols returns the sorted identifiers of pairs that are actively
// trading in the configured quote currency with sufficient 24h quote volume,
// truncated to the configured maximum. Any fetch failure is logged and
// yields an empty list so a scheduled run never hard-fails on transient API
// errors.
func (m *Manager) TradeableSymbols(ctx context.Context) []string {
	info, err := m.exchange.ExchangeInfo(ctx)
	if err != nil {
		m.logger.Error("failed to fetch exchange info", "error", err)
		return nil
	}
	tickers, err := m.exchange.Ticker24h(ctx)
	if err != nil {
		m.logger.Error("failed to fetch 24h tickers", "error", err)
		return nil
	}

	bySymbol := make(map[string]exchange.Ticker, len(tickers))
	for _, t := range tickers {
		bySymbol[t.Symbol] = t
	}

	minVolume := decimal.NewFromFloat(m.cfg.MinQuoteVolume)

	var symbols []string
	for _, s := range info {
		if s.Status != statusTrading || s.QuoteAsset != m.cfg.QuoteCurrency {
			continue
		}
		ticker, ok := bySymbol[s.Symbol]
		if !ok {
			continue
		}
		volume, err := decimal.NewFromString(ticker.QuoteVolume)
		if err != nil {
			m.logger.Warn("skipping symbol with unparseable quote volume",
				"symbol", s.Symbol, "quote_volume", ticker.QuoteVolume, "error", err)
			continue
		}
		if volume.LessThan(minVolume) {
			continue
		}
		symbols = append(symbols, s.Symbol)
	}

	sort.Strings(symbols)
	if m.cfg.MaxSymbols > 0 && len(symbols) > m.cfg.MaxSymbols {
		symbols = symbols[:m.cfg.MaxSymbols]
	}

	m.logger.Info("discovered tradeable symbols",
		"count", len(symbols), "quote", m.cfg.QuoteCurrency)
	return symbols
}

// HistoricalData returns the daily series for a symbol, consulting the
// memory cache, then the disk cache, then the API. A nil return means no
// data could be obtained; the cause has been logged.
func (m *Manager) HistoricalData(ctx context.Context, symbol string) models.Series {
	if series, ok := m.cache[symbol]; ok {
		m.logger.Debug("using cached data", "symbol", symbol)
		return series
	}

	// An empty artifact carries no usable last timestamp; treat it like a
	// cache miss.
	if series, _, ok := m.store.Load(symbol); ok && len(series) > 0 {
		return m.refreshCached(ctx, symbol, series)
	}

	return m.fetchFullHistory(ctx, symbol)
}

// refreshCached brings an on-disk series up to date, fetching only the gap
// after its last candle when it is stale.
func (m *Manager) refreshCached(ctx context.Context, symbol string, series models.Series) models.Series {
	last, ok := series.Last()
	if ok && m.now().UTC().Sub(last.OpenTime) < freshnessWindow {
		m.cache[symbol] = series
		return series
	}

	start := models.Day(last.OpenTime).Add(24 * time.Hour)
	fresh, err := m.exchange.DailyKlines(ctx, symbol, start)
	if err != nil {
		m.logger.Error("failed to fetch updates", "symbol", symbol, "error", err)
		return nil
	}
	if len(fresh) == 0 {
		m.logger.Warn("no new data returned", "symbol", symbol, "since", start)
		m.cache[symbol] = series
		return series
	}

	merged := series.Merge(fresh)
	if !m.store.Store(symbol, merged) {
		m.logger.Warn("failed to persist merged series", "symbol", symbol)
	}
	m.cache[symbol] = merged

	m.logger.Info("updated cached series",
		"symbol", symbol, "new_rows", len(fresh), "total_rows", len(merged))
	return merged
}

// fetchFullHistory pulls the complete available history for a symbol and
// persists it.
func (m *Manager) fetchFullHistory(ctx context.Context, symbol string) models.Series {
	series, err := m.exchange.DailyKlines(ctx, symbol, time.Time{})
	if err != nil {
		m.logger.Error("failed to fetch history", "symbol", symbol, "error", err)
		return nil
	}
	if len(series) == 0 {
		m.logger.Warn("no data found", "symbol", symbol)
		return nil
	}

	series.Sort()
	if !m.store.Store(symbol, series) {
		m.logger.Warn("failed to persist series", "symbol", symbol)
	}
	m.cache[symbol] = series

	m.logger.Info("fetched full history", "symbol", symbol, "rows", len(series))
	return series
}
