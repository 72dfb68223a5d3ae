package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/go-ohlcv-cache/internal/exchange"
	"github.com/quantflow/go-ohlcv-cache/internal/models"
	"github.com/quantflow/go-ohlcv-cache/internal/storage"
)

// fakeExchange implements ExchangeAPI with programmable responses.
type fakeExchange struct {
	info       []exchange.SymbolInfo
	infoErr    error
	tickers    []exchange.Ticker
	tickersErr error

	klines    models.Series
	klinesErr error
	gotSymbol string
	gotStart  time.Time
	fetches   int
}

func (f *fakeExchange) ExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeExchange) Ticker24h(ctx context.Context) ([]exchange.Ticker, error) {
	return f.tickers, f.tickersErr
}

func (f *fakeExchange) DailyKlines(ctx context.Context, symbol string, start time.Time) (models.Series, error) {
	f.fetches++
	f.gotSymbol = symbol
	f.gotStart = start
	return f.klines, f.klinesErr
}

// fakeStore implements Store over a map.
type fakeStore struct {
	data    map[string]models.Series
	failing bool
	stores  int
	loads   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]models.Series)}
}

func (f *fakeStore) Store(symbol string, series models.Series) bool {
	f.stores++
	if f.failing {
		return false
	}
	f.data[symbol] = series
	return true
}

func (f *fakeStore) Load(symbol string) (models.Series, *storage.Meta, bool) {
	f.loads++
	series, ok := f.data[symbol]
	if !ok {
		return nil, nil, false
	}
	return series, &storage.Meta{Rows: len(series)}, true
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dailySeries(end time.Time, days int) models.Series {
	s := make(models.Series, days)
	for i := range s {
		s[i] = models.Candle{
			OpenTime: models.Day(end).AddDate(0, 0, i-days+1),
			Open:     1, High: 2, Low: 0.5, Close: 1.5,
			Volume: 100, QuoteVolume: 150, Trades: 10,
		}
	}
	return s
}

func defaultConfig() Config {
	return Config{QuoteCurrency: "USDT", MinQuoteVolume: 1_000_000, MaxSymbols: 300}
}

func TestTradeableSymbols_Filtering(t *testing.T) {
	ex := &fakeExchange{
		info: []exchange.SymbolInfo{
			{Symbol: "ABCUSDT", Status: "TRADING", QuoteAsset: "USDT"},
			{Symbol: "XYZBTC", Status: "TRADING", QuoteAsset: "BTC"},
			{Symbol: "HALTUSDT", Status: "BREAK", QuoteAsset: "USDT"},
			{Symbol: "THINUSDT", Status: "TRADING", QuoteAsset: "USDT"},
			{Symbol: "NOTICKUSDT", Status: "TRADING", QuoteAsset: "USDT"},
		},
		tickers: []exchange.Ticker{
			{Symbol: "ABCUSDT", QuoteVolume: "2000000"},
			{Symbol: "XYZBTC", QuoteVolume: "99000000"},
			{Symbol: "HALTUSDT", QuoteVolume: "5000000"},
			{Symbol: "THINUSDT", QuoteVolume: "999999.99"},
		},
	}
	m := New(ex, newFakeStore(), defaultConfig(), discardLogger())

	symbols := m.TradeableSymbols(context.Background())

	assert.Equal(t, []string{"ABCUSDT"}, symbols)
}

func TestTradeableSymbols_SortedAndTruncated(t *testing.T) {
	ex := &fakeExchange{
		info: []exchange.SymbolInfo{
			{Symbol: "CCCUSDT", Status: "TRADING", QuoteAsset: "USDT"},
			{Symbol: "AAAUSDT", Status: "TRADING", QuoteAsset: "USDT"},
			{Symbol: "BBBUSDT", Status: "TRADING", QuoteAsset: "USDT"},
		},
		tickers: []exchange.Ticker{
			{Symbol: "AAAUSDT", QuoteVolume: "2000000"},
			{Symbol: "BBBUSDT", QuoteVolume: "2000000"},
			{Symbol: "CCCUSDT", QuoteVolume: "2000000"},
		},
	}
	cfg := defaultConfig()
	cfg.MaxSymbols = 2
	m := New(ex, newFakeStore(), cfg, discardLogger())

	assert.Equal(t, []string{"AAAUSDT", "BBBUSDT"}, m.TradeableSymbols(context.Background()))
}

func TestTradeableSymbols_FailSoft(t *testing.T) {
	m := New(&fakeExchange{infoErr: errors.New("boom")}, newFakeStore(), defaultConfig(), discardLogger())
	assert.Empty(t, m.TradeableSymbols(context.Background()))

	m = New(&fakeExchange{tickersErr: errors.New("boom")}, newFakeStore(), defaultConfig(), discardLogger())
	assert.Empty(t, m.TradeableSymbols(context.Background()))
}

func TestTradeableSymbols_UnparseableVolumeSkipped(t *testing.T) {
	ex := &fakeExchange{
		info:    []exchange.SymbolInfo{{Symbol: "ABCUSDT", Status: "TRADING", QuoteAsset: "USDT"}},
		tickers: []exchange.Ticker{{Symbol: "ABCUSDT", QuoteVolume: "garbage"}},
	}
	m := New(ex, newFakeStore(), defaultConfig(), discardLogger())
	assert.Empty(t, m.TradeableSymbols(context.Background()))
}

func TestHistoricalData_FullFetchOnCacheMiss(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	ex := &fakeExchange{klines: dailySeries(now, 30)}
	store := newFakeStore()
	m := New(ex, store, defaultConfig(), discardLogger(), WithClock(func() time.Time { return now }))

	series := m.HistoricalData(context.Background(), "ABCUSDT")

	require.Len(t, series, 30)
	assert.True(t, ex.gotStart.IsZero(), "cache miss fetches full history")
	assert.Equal(t, 1, store.stores)
	assert.Contains(t, store.data, "ABCUSDT")
}

func TestHistoricalData_MemoryCacheHit(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	ex := &fakeExchange{klines: dailySeries(now, 30)}
	store := newFakeStore()
	m := New(ex, store, defaultConfig(), discardLogger(), WithClock(func() time.Time { return now }))

	first := m.HistoricalData(context.Background(), "ABCUSDT")
	loadsAfterFirst := store.loads
	second := m.HistoricalData(context.Background(), "ABCUSDT")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, ex.fetches, "second call served from memory")
	assert.Equal(t, loadsAfterFirst, store.loads)
}

func TestHistoricalData_FreshDiskCacheSkipsFetch(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	ex := &fakeExchange{}
	store := newFakeStore()
	store.data["ABCUSDT"] = dailySeries(now, 10)
	m := New(ex, store, defaultConfig(), discardLogger(), WithClock(func() time.Time { return now }))

	series := m.HistoricalData(context.Background(), "ABCUSDT")

	require.Len(t, series, 10)
	assert.Zero(t, ex.fetches, "last candle within a day of now needs no fetch")
}

func TestHistoricalData_IncrementalMerge(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	lastCached := models.Day(now).AddDate(0, 0, -3)

	cached := dailySeries(lastCached, 20)
	fresh := dailySeries(models.Day(now), 3) // the 3 missing days

	ex := &fakeExchange{klines: fresh}
	store := newFakeStore()
	store.data["ABCUSDT"] = cached
	m := New(ex, store, defaultConfig(), discardLogger(), WithClock(func() time.Time { return now }))

	merged := m.HistoricalData(context.Background(), "ABCUSDT")

	require.Len(t, merged, 23, "merged length = old + new")
	assert.Equal(t, lastCached.Add(24*time.Hour), ex.gotStart, "fetch starts the day after the last cached candle")
	for i := 1; i < len(merged); i++ {
		assert.True(t, merged[i-1].OpenTime.Before(merged[i].OpenTime))
	}
	assert.Equal(t, merged, store.data["ABCUSDT"], "merged series persisted")
}

func TestHistoricalData_IncrementalOverlapDeduplicated(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	lastCached := models.Day(now).AddDate(0, 0, -2)

	cached := dailySeries(lastCached, 5)
	// Fetch overlaps the last cached day with a revised close.
	fresh := dailySeries(models.Day(now), 3)
	fresh[0].Close = 999

	ex := &fakeExchange{klines: fresh}
	store := newFakeStore()
	store.data["ABCUSDT"] = cached
	m := New(ex, store, defaultConfig(), discardLogger(), WithClock(func() time.Time { return now }))

	merged := m.HistoricalData(context.Background(), "ABCUSDT")

	require.Len(t, merged, 7, "5 cached + 3 fetched - 1 overlap")
	assert.Equal(t, 999.0, merged[4].Close, "newer value wins on the overlapping day")
}

func TestHistoricalData_EmptyIncrementalKeepsCached(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	cached := dailySeries(models.Day(now).AddDate(0, 0, -5), 10)

	ex := &fakeExchange{klines: nil}
	store := newFakeStore()
	store.data["ABCUSDT"] = cached
	m := New(ex, store, defaultConfig(), discardLogger(), WithClock(func() time.Time { return now }))

	series := m.HistoricalData(context.Background(), "ABCUSDT")

	assert.Equal(t, cached, series, "empty fetch returns the unmodified series")
	assert.Equal(t, 1, ex.fetches)
}

func TestHistoricalData_EmptyFullFetch(t *testing.T) {
	ex := &fakeExchange{klines: nil}
	m := New(ex, newFakeStore(), defaultConfig(), discardLogger())

	assert.Nil(t, m.HistoricalData(context.Background(), "NEWUSDT"))
}

func TestHistoricalData_FetchErrorDegradesToNil(t *testing.T) {
	ex := &fakeExchange{klinesErr: errors.New("boom")}
	m := New(ex, newFakeStore(), defaultConfig(), discardLogger())

	assert.Nil(t, m.HistoricalData(context.Background(), "ABCUSDT"))
}

func TestHistoricalData_PersistFailureStillReturnsData(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	ex := &fakeExchange{klines: dailySeries(now, 30)}
	store := newFakeStore()
	store.failing = true
	m := New(ex, store, defaultConfig(), discardLogger(), WithClock(func() time.Time { return now }))

	series := m.HistoricalData(context.Background(), "ABCUSDT")

	require.Len(t, series, 30, "storage failure degrades to in-memory data")
}
