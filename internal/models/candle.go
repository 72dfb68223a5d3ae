// Package models provides the core data structures for daily OHLCV market data:
// candles, per-symbol series, and the merge semantics used by incremental
// cache updates.
package models

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Candle represents one daily OHLCV record for a trading pair.
// OpenTime is truncated to UTC midnight; timestamps within one symbol's
// series are strictly increasing and unique.
type Candle struct {
	OpenTime    time.Time `json:"open_time"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	QuoteVolume float64   `json:"quote_volume"`
	Trades      int64     `json:"trades"`
}

// HasMissingValues reports whether any field of the candle carries a missing
// value. Prices and volumes are missing when NaN; the trade count is missing
// when negative (the wire format never produces negative counts).
func (c *Candle) HasMissingValues() bool {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume, c.QuoteVolume} {
		if math.IsNaN(v) {
			return true
		}
	}
	return c.Trades < 0 || c.OpenTime.IsZero()
}

// String implements fmt.Stringer.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{%s O: %g, H: %g, L: %g, C: %g, V: %g, QV: %g, N: %d}",
		c.OpenTime.Format("2006-01-02"), c.Open, c.High, c.Low, c.Close, c.Volume, c.QuoteVolume, c.Trades)
}

// Day truncates t to its UTC calendar day. All series indexing uses this
// granularity; Binance daily candles open at UTC midnight.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Series is an ordered sequence of daily candles for one symbol, sorted
// ascending by open time with no duplicate timestamps.
type Series []Candle

// Sort orders the series ascending by open time in place.
func (s Series) Sort() {
	sort.Slice(s, func(i, j int) bool { return s[i].OpenTime.Before(s[j].OpenTime) })
}

// Last returns the most recent candle in the series. The boolean is false
// for an empty series.
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}

// First returns the oldest candle in the series. The boolean is false for an
// empty series.
func (s Series) First() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[0], true
}

// Merge combines the series with newer data and returns the result sorted
// ascending. When both sides carry a candle for the same day the newer value
// wins. Neither input is mutated.
func (s Series) Merge(newer Series) Series {
	byDay := make(map[time.Time]Candle, len(s)+len(newer))
	for _, c := range s {
		byDay[c.OpenTime] = c
	}
	for _, c := range newer {
		byDay[c.OpenTime] = c
	}

	merged := make(Series, 0, len(byDay))
	for _, c := range byDay {
		merged = append(merged, c)
	}
	merged.Sort()
	return merged
}

// HasMissingValues reports whether any candle in the series carries a
// missing value.
func (s Series) HasMissingValues() bool {
	for i := range s {
		if s[i].HasMissingValues() {
			return true
		}
	}
	return false
}
