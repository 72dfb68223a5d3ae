package exchange

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantflow/go-ohlcv-cache/internal/models"
)

// Binance kline rows are heterogeneous JSON arrays:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume,
//  trades, takerBuyBase, takerBuyQuote, ignore]
// where prices and volumes are decimal strings and the rest are numbers.
const klineFieldCount = 12

// parseKline converts one raw kline row into a daily candle. Decimal string
// fields go through shopspring/decimal so malformed values fail loudly
// instead of silently becoming zero.
func parseKline(row []json.RawMessage) (models.Candle, error) {
	if len(row) < klineFieldCount {
		return models.Candle{}, fmt.Errorf("kline row has %d fields, want %d", len(row), klineFieldCount)
	}

	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return models.Candle{}, fmt.Errorf("open time: %w", err)
	}

	open, err := parseDecimalField(row[1], "open")
	if err != nil {
		return models.Candle{}, err
	}
	high, err := parseDecimalField(row[2], "high")
	if err != nil {
		return models.Candle{}, err
	}
	low, err := parseDecimalField(row[3], "low")
	if err != nil {
		return models.Candle{}, err
	}
	closePrice, err := parseDecimalField(row[4], "close")
	if err != nil {
		return models.Candle{}, err
	}
	volume, err := parseDecimalField(row[5], "volume")
	if err != nil {
		return models.Candle{}, err
	}
	quoteVolume, err := parseDecimalField(row[7], "quote_volume")
	if err != nil {
		return models.Candle{}, err
	}

	var trades int64
	if err := json.Unmarshal(row[8], &trades); err != nil {
		return models.Candle{}, fmt.Errorf("trade count: %w", err)
	}

	return models.Candle{
		OpenTime:    models.Day(time.UnixMilli(openMs).UTC()),
		Open:        open.InexactFloat64(),
		High:        high.InexactFloat64(),
		Low:         low.InexactFloat64(),
		Close:       closePrice.InexactFloat64(),
		Volume:      volume.InexactFloat64(),
		QuoteVolume: quoteVolume.InexactFloat64(),
		Trades:      trades,
	}, nil
}

func parseDecimalField(raw json.RawMessage, field string) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q: %w", field, s, err)
	}
	return d, nil
}
