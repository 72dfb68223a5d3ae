// Command ohlcvcache collects and locally caches daily OHLCV data for
// tradeable Binance pairs. It runs once by default or on a cron schedule
// with -schedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/quantflow/go-ohlcv-cache/internal/config"
	"github.com/quantflow/go-ohlcv-cache/internal/exchange"
	"github.com/quantflow/go-ohlcv-cache/internal/logger"
	"github.com/quantflow/go-ohlcv-cache/internal/manager"
	"github.com/quantflow/go-ohlcv-cache/internal/models"
	"github.com/quantflow/go-ohlcv-cache/internal/ratelimit"
	"github.com/quantflow/go-ohlcv-cache/internal/storage"
	"github.com/quantflow/go-ohlcv-cache/internal/validator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to YAML configuration file")
		schedule   = flag.String("schedule", "", "cron expression for scheduled runs (e.g. \"0 1 * * *\"); empty runs once")
		logLevel   = flag.String("log-level", "", "override configured log level")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log, closer, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(log)

	// One limiter instance, owned by one exchange client.
	limiter := ratelimit.New(cfg.CallsPerMinute)
	client := exchange.New(exchange.Config{
		APIKey:        cfg.APIKey,
		RetryAttempts: cfg.RetryAttempts,
		Logger:        log,
	}, limiter)

	store, err := storage.New(cfg.CacheDir, cfg.BackupDir, cfg.DataVersion, log)
	if err != nil {
		return err
	}

	mgr := manager.New(client, store, manager.Config{
		QuoteCurrency:  cfg.QuoteCurrency,
		MinQuoteVolume: cfg.MinQuoteVolume,
		MaxSymbols:     cfg.MaxSymbols,
	}, log)
	val := validator.New(cfg.MinDays)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *schedule == "" {
		collect(ctx, log, mgr, val)
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(*schedule, func() { collect(ctx, log, mgr, val) }); err != nil {
		return fmt.Errorf("register schedule %q: %w", *schedule, err)
	}
	c.Start()
	log.Info("scheduler started", "schedule", *schedule)

	<-ctx.Done()
	log.Info("shutting down")
	<-c.Stop().Done()
	return nil
}

// collect performs one full collection run: discover symbols, fetch or
// refresh each series, gate on validation, and report data quality.
func collect(ctx context.Context, log *slog.Logger, mgr *manager.Manager, val *validator.Validator) {
	runLog := log.With("run_id", uuid.NewString())
	runLog.Info("collection run starting")

	symbols := mgr.TradeableSymbols(ctx)
	runLog.Info("found tradeable symbols", "count", len(symbols))

	validData := make(map[string]models.Series)
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			runLog.Warn("collection interrupted", "error", ctx.Err())
			return
		}
		series := mgr.HistoricalData(ctx, symbol)
		if val.ValidateData(series) {
			validData[symbol] = series
			runLog.Info("valid data collected", "symbol", symbol, "rows", len(series))
		}
	}
	runLog.Info("collection complete", "valid_symbols", len(validData), "total_symbols", len(symbols))

	for symbol, report := range val.VerifyAll(validData) {
		if report.HasIssues() {
			runLog.Warn("data quality issues",
				"symbol", symbol,
				"days", report.Days,
				"missing_days", report.MissingDays,
				"zero_volume_days", report.ZeroVolumeDays,
				"zero_trade_days", report.ZeroTradeDays,
				"date_range", report.DateRange())
			continue
		}
		runLog.Info("data quality ok",
			"symbol", symbol, "days", report.Days, "date_range", report.DateRange())
	}
}
