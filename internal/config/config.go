// Package config loads application configuration from a YAML file with
// environment-variable overrides and sensible defaults. API credentials may
// additionally come from a .env file in the working directory.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the full configuration surface of the collector.
type Config struct {
	// API credentials. The endpoints used are public; the key, when set,
	// is forwarded for higher rate-limit tiers.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// Market parameters.
	QuoteCurrency  string  `yaml:"quote_currency"`
	MinQuoteVolume float64 `yaml:"min_quote_volume"`
	MinTrades      int     `yaml:"min_trades"`
	MaxSymbols     int     `yaml:"max_symbols"`

	// Cache layout.
	CacheDir    string `yaml:"cache_dir"`
	BackupDir   string `yaml:"backup_dir"`
	DataVersion string `yaml:"data_version"`

	// Rate limiting and retries.
	CallsPerMinute int `yaml:"calls_per_minute"`
	RetryAttempts  int `yaml:"retry_attempts"`

	// Validation parameters.
	MinDays    int `yaml:"min_days"`
	MaxGapDays int `yaml:"max_gap_days"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level      string `yaml:"level"`        // debug, info, warn, error
	Format     string `yaml:"format"`       // json, text
	Output     string `yaml:"output"`       // stdout, stderr, file
	FilePath   string `yaml:"file_path"`    // used when output is "file"
	MaxSizeMB  int    `yaml:"max_size_mb"`  // rotation threshold
	MaxBackups int    `yaml:"max_backups"`  // rotated files kept
	MaxAgeDays int    `yaml:"max_age_days"` // rotated file retention
	Compress   bool   `yaml:"compress"`     // gzip rotated files
}

// Default returns the configuration defaults, mirroring the documented
// operational parameters of the collector.
func Default() *Config {
	return &Config{
		QuoteCurrency:  "USDT",
		MinQuoteVolume: 1_000_000,
		MinTrades:      1000,
		MaxSymbols:     300,
		CacheDir:       "data/cache",
		BackupDir:      "data/cache/backups",
		DataVersion:    "1.0",
		CallsPerMinute: 1200,
		RetryAttempts:  3,
		MinDays:        360,
		MaxGapDays:     5,
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads configuration with the priority order: defaults, then the YAML
// file at path (missing file is fine), then environment variables. A .env
// file in the working directory is loaded into the environment first when
// present.
func Load(path string) (*Config, error) {
	// Ignore a missing .env; it only carries optional credentials.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides configuration values from environment variables.
func (c *Config) applyEnv() {
	setString(&c.APIKey, "BINANCE_API_KEY")
	setString(&c.APISecret, "BINANCE_SECRET_KEY")
	setString(&c.QuoteCurrency, "QUOTE_CURRENCY")
	setString(&c.CacheDir, "CACHE_DIR")
	setString(&c.BackupDir, "BACKUP_DIR")
	setString(&c.DataVersion, "DATA_VERSION")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
	setString(&c.Logging.Output, "LOG_OUTPUT")
	setString(&c.Logging.FilePath, "LOG_FILE_PATH")

	setFloat(&c.MinQuoteVolume, "MIN_QUOTE_VOLUME")
	setInt(&c.MinTrades, "MIN_TRADES")
	setInt(&c.MaxSymbols, "MAX_SYMBOLS")
	setInt(&c.CallsPerMinute, "CALLS_PER_MINUTE")
	setInt(&c.RetryAttempts, "RETRY_ATTEMPTS")
	setInt(&c.MinDays, "MIN_DAYS")
	setInt(&c.MaxGapDays, "MAX_GAP_DAYS")
}

// Validate checks the configuration for values the collector cannot run
// with.
func (c *Config) Validate() error {
	if c.QuoteCurrency == "" {
		return fmt.Errorf("quote_currency must not be empty")
	}
	if c.MinQuoteVolume < 0 {
		return fmt.Errorf("min_quote_volume must not be negative")
	}
	if c.MaxSymbols <= 0 {
		return fmt.Errorf("max_symbols must be positive")
	}
	if c.CallsPerMinute <= 0 {
		return fmt.Errorf("calls_per_minute must be positive")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("retry_attempts must be positive")
	}
	if c.MinDays <= 0 {
		return fmt.Errorf("min_days must be positive")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir must not be empty")
	}
	switch c.Logging.Output {
	case "", "stdout", "stderr":
	case "file":
		if c.Logging.FilePath == "" {
			return fmt.Errorf("logging.file_path is required when output is \"file\"")
		}
	default:
		return fmt.Errorf("logging.output must be stdout, stderr or file")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
