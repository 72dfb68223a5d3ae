// Package storage persists per-symbol daily series to disk as versioned,
// checksummed parquet artifacts with backup-on-overwrite semantics.
//
// One file exists per (symbol, format-version) pair. Writes go to a temp
// file in the cache directory followed by an atomic rename, so readers never
// observe a partially written artifact. The previous artifact, when present,
// is renamed into the backup directory suffixed with the write epoch and
// retained indefinitely.
package storage

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/parquet-go/parquet-go"

	"github.com/quantflow/go-ohlcv-cache/internal/models"
)

const (
	// FreshnessWindow is how long a written artifact counts as up to date.
	FreshnessWindow = 24 * time.Hour

	metaKeyVersion   = "version"
	metaKeyWrittenAt = "written_at"
	metaKeyRows      = "rows"
	metaKeyChecksum  = "checksum"
)

// Meta is the metadata block attached to every cached artifact.
type Meta struct {
	Version   string
	WrittenAt time.Time
	Rows      int
	Checksum  string
}

// candleRow is the parquet row layout. Open times are stored as millisecond
// epochs so the artifact stays readable by standard parquet tooling.
type candleRow struct {
	OpenTime    int64   `parquet:"open_time"`
	Open        float64 `parquet:"open"`
	High        float64 `parquet:"high"`
	Low         float64 `parquet:"low"`
	Close       float64 `parquet:"close"`
	Volume      float64 `parquet:"volume"`
	QuoteVolume float64 `parquet:"quote_volume"`
	Trades      int64   `parquet:"trades"`
}

// FileStore owns the on-disk cache layout. Failures never propagate as
// errors to callers: Store reports success as a boolean and Load reports
// absence, both logging the cause.
type FileStore struct {
	dir       string
	backupDir string
	version   string
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithClock replaces the wall clock. Used by tests to control freshness and
// backup suffixes.
func WithClock(now func() time.Time) Option {
	return func(fs *FileStore) { fs.now = now }
}

// New creates a FileStore rooted at dir, ensuring the cache and backup
// directories exist.
func New(dir, backupDir, version string, logger *slog.Logger, opts ...Option) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if backupDir == "" {
		backupDir = filepath.Join(dir, "backups")
	}
	for _, d := range []string{dir, backupDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", d, err)
		}
	}

	fs := &FileStore{
		dir:       dir,
		backupDir: backupDir,
		version:   version,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs, nil
}

// Path returns the artifact path for a symbol under the current format
// version.
func (fs *FileStore) Path(symbol string) string {
	return filepath.Join(fs.dir, fmt.Sprintf("%s_v%s.parquet", symbol, fs.version))
}

// Store persists the series for a symbol, backing up any existing artifact
// first. Returns false on any I/O or serialization failure.
func (fs *FileStore) Store(symbol string, series models.Series) bool {
	path := fs.Path(symbol)
	now := fs.now().UTC()

	if _, err := os.Stat(path); err == nil {
		backupName := fmt.Sprintf("%s_v%s_%d.parquet", symbol, fs.version, now.Unix())
		backupPath := filepath.Join(fs.backupDir, backupName)
		if err := os.Rename(path, backupPath); err != nil {
			fs.logger.Error("failed to back up existing artifact",
				"symbol", symbol, "path", path, "error", err)
			return false
		}
		fs.logger.Debug("backed up previous artifact", "symbol", symbol, "backup", backupPath)
	}

	rows := toRows(series)
	meta := Meta{
		Version:   fs.version,
		WrittenAt: now,
		Rows:      len(rows),
		Checksum:  checksumRows(rows),
	}

	if err := fs.writeArtifact(path, rows, meta); err != nil {
		fs.logger.Error("failed to store series", "symbol", symbol, "error", err)
		return false
	}

	fs.logger.Debug("stored series", "symbol", symbol, "rows", meta.Rows, "checksum", meta.Checksum)
	return true
}

// writeArtifact writes rows and metadata to a temp file then renames it into
// place.
func (fs *FileStore) writeArtifact(path string, rows []candleRow, meta Meta) error {
	tmp, err := os.CreateTemp(fs.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	writer := parquet.NewGenericWriter[candleRow](tmp,
		parquet.KeyValueMetadata(metaKeyVersion, meta.Version),
		parquet.KeyValueMetadata(metaKeyWrittenAt, meta.WrittenAt.Format(time.RFC3339)),
		parquet.KeyValueMetadata(metaKeyRows, strconv.Itoa(meta.Rows)),
		parquet.KeyValueMetadata(metaKeyChecksum, meta.Checksum),
	)

	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			tmp.Close()
			return fmt.Errorf("write rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finalize parquet: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Load reads the persisted series and metadata for a symbol. The boolean is
// false when no artifact exists or the load fails; failures are logged, not
// raised.
func (fs *FileStore) Load(symbol string) (models.Series, *Meta, bool) {
	path := fs.Path(symbol)

	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fs.logger.Error("failed to open artifact", "symbol", symbol, "error", err)
		}
		return nil, nil, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fs.logger.Error("failed to stat artifact", "symbol", symbol, "error", err)
		return nil, nil, false
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		fs.logger.Error("failed to parse artifact", "symbol", symbol, "path", path, "error", err)
		return nil, nil, false
	}

	meta := readMeta(pf)

	rows, err := parquet.Read[candleRow](f, info.Size())
	if err != nil {
		fs.logger.Error("failed to read artifact rows", "symbol", symbol, "error", err)
		return nil, nil, false
	}

	if sum := checksumRows(rows); meta.Checksum != "" && sum != meta.Checksum {
		fs.logger.Error("artifact checksum mismatch",
			"symbol", symbol, "stored", meta.Checksum, "computed", sum)
		return nil, nil, false
	}

	return fromRows(rows), meta, true
}

// NeedsUpdate reports whether the cached artifact for a symbol is absent,
// carries no write timestamp, or was written more than a day ago.
func (fs *FileStore) NeedsUpdate(symbol string) bool {
	_, meta, ok := fs.Load(symbol)
	if !ok {
		return true
	}
	if meta.WrittenAt.IsZero() {
		return true
	}
	return fs.now().UTC().Sub(meta.WrittenAt) > FreshnessWindow
}

func readMeta(pf *parquet.File) *Meta {
	meta := &Meta{}
	if v, ok := pf.Lookup(metaKeyVersion); ok {
		meta.Version = v
	}
	if v, ok := pf.Lookup(metaKeyWrittenAt); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			meta.WrittenAt = t
		}
	}
	if v, ok := pf.Lookup(metaKeyRows); ok {
		if n, err := strconv.Atoi(v); err == nil {
			meta.Rows = n
		}
	}
	if v, ok := pf.Lookup(metaKeyChecksum); ok {
		meta.Checksum = v
	}
	return meta
}

func toRows(series models.Series) []candleRow {
	rows := make([]candleRow, len(series))
	for i, c := range series {
		rows[i] = candleRow{
			OpenTime:    c.OpenTime.UnixMilli(),
			Open:        c.Open,
			High:        c.High,
			Low:         c.Low,
			Close:       c.Close,
			Volume:      c.Volume,
			QuoteVolume: c.QuoteVolume,
			Trades:      c.Trades,
		}
	}
	return rows
}

func fromRows(rows []candleRow) models.Series {
	series := make(models.Series, len(rows))
	for i, r := range rows {
		series[i] = models.Candle{
			OpenTime:    time.UnixMilli(r.OpenTime).UTC(),
			Open:        r.Open,
			High:        r.High,
			Low:         r.Low,
			Close:       r.Close,
			Volume:      r.Volume,
			QuoteVolume: r.QuoteVolume,
			Trades:      r.Trades,
		}
	}
	return series
}

// checksumRows hashes row contents with xxhash64 so loads can detect
// corruption independent of parquet's own page checksums.
func checksumRows(rows []candleRow) string {
	digest := xxhash.New()
	var buf [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		digest.Write(buf[:])
	}
	for _, r := range rows {
		writeU64(uint64(r.OpenTime))
		writeU64(math.Float64bits(r.Open))
		writeU64(math.Float64bits(r.High))
		writeU64(math.Float64bits(r.Low))
		writeU64(math.Float64bits(r.Close))
		writeU64(math.Float64bits(r.Volume))
		writeU64(math.Float64bits(r.QuoteVolume))
		writeU64(uint64(r.Trades))
	}
	return fmt.Sprintf("%016x", digest.Sum64())
}
