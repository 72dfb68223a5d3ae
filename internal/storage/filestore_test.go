package storage

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/go-ohlcv-cache/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSeries(days int) models.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(models.Series, days)
	for i := range s {
		s[i] = models.Candle{
			OpenTime:    start.AddDate(0, 0, i),
			Open:        100 + float64(i),
			High:        110 + float64(i),
			Low:         95 + float64(i),
			Close:       105 + float64(i),
			Volume:      1000,
			QuoteVolume: 105000,
			Trades:      2500,
		}
	}
	return s
}

func newTestStore(t *testing.T, now time.Time) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := New(dir, filepath.Join(dir, "backups"), "1.0", discardLogger(),
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return fs, dir
}

func TestStoreLoad_RoundTrip(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	fs, _ := newTestStore(t, now)
	series := testSeries(5)

	require.True(t, fs.Store("ABCUSDT", series))

	loaded, meta, ok := fs.Load("ABCUSDT")
	require.True(t, ok)
	require.NotNil(t, meta)

	assert.Equal(t, series, loaded)
	assert.Equal(t, "1.0", meta.Version)
	assert.Equal(t, 5, meta.Rows)
	assert.NotEmpty(t, meta.Checksum)
	assert.True(t, meta.WrittenAt.Equal(now.Truncate(time.Second)))
}

func TestStore_BacksUpExistingArtifact(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	fs, dir := newTestStore(t, now)

	require.True(t, fs.Store("ABCUSDT", testSeries(3)))
	require.True(t, fs.Store("ABCUSDT", testSeries(6)))

	backups, err := filepath.Glob(filepath.Join(dir, "backups", "ABCUSDT_v1.0_*.parquet"))
	require.NoError(t, err)
	require.Len(t, backups, 1, "previous artifact moved to backup, not overwritten")

	loaded, _, ok := fs.Load("ABCUSDT")
	require.True(t, ok)
	assert.Len(t, loaded, 6, "current artifact carries the latest write")
}

func TestLoad_AbsentSymbol(t *testing.T) {
	fs, _ := newTestStore(t, time.Now().UTC())

	series, meta, ok := fs.Load("MISSING")
	assert.False(t, ok)
	assert.Nil(t, series)
	assert.Nil(t, meta)
}

func TestLoad_CorruptArtifactFailsSoft(t *testing.T) {
	fs, _ := newTestStore(t, time.Now().UTC())

	require.NoError(t, os.WriteFile(fs.Path("ABCUSDT"), []byte("not parquet"), 0o644))

	_, _, ok := fs.Load("ABCUSDT")
	assert.False(t, ok, "corrupt artifact loads as absent, never raises")
}

func TestNeedsUpdate(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	fs, dir := newTestStore(t, now)

	assert.True(t, fs.NeedsUpdate("ABCUSDT"), "no cached artifact")

	require.True(t, fs.Store("ABCUSDT", testSeries(3)))
	assert.False(t, fs.NeedsUpdate("ABCUSDT"), "freshly written artifact")

	// Same artifact seen from a day later.
	later, err := New(dir, filepath.Join(dir, "backups"), "1.0", discardLogger(),
		WithClock(func() time.Time { return now.Add(25 * time.Hour) }))
	require.NoError(t, err)
	assert.True(t, later.NeedsUpdate("ABCUSDT"), "artifact older than a day")
}

func TestStore_EmptySeries(t *testing.T) {
	fs, _ := newTestStore(t, time.Now().UTC())

	require.True(t, fs.Store("ABCUSDT", nil))
	loaded, meta, ok := fs.Load("ABCUSDT")
	require.True(t, ok)
	assert.Empty(t, loaded)
	assert.Zero(t, meta.Rows)
}

func TestVersionIsolation(t *testing.T) {
	now := time.Now().UTC()
	dir := t.TempDir()

	v1, err := New(dir, "", "1.0", discardLogger(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	v2, err := New(dir, "", "2.0", discardLogger(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	require.True(t, v1.Store("ABCUSDT", testSeries(3)))

	_, _, ok := v2.Load("ABCUSDT")
	assert.False(t, ok, "artifacts are keyed by (symbol, version)")
}
