// Package validator gates fetched series on minimum length and completeness,
// and derives per-symbol quality reports for operator diagnosis.
package validator

import (
	"fmt"
	"time"

	"github.com/quantflow/go-ohlcv-cache/internal/models"
)

// DefaultMinDays is the minimum series length accepted by default.
const DefaultMinDays = 360

// Validator checks whether a fetched series is usable downstream.
type Validator struct {
	// MinDays is the minimum number of daily rows required.
	MinDays int
}

// New creates a Validator. Non-positive minDays falls back to
// DefaultMinDays.
func New(minDays int) *Validator {
	if minDays <= 0 {
		minDays = DefaultMinDays
	}
	return &Validator{MinDays: minDays}
}

// ValidateData reports whether the series is present, long enough, and free
// of missing values in every field. Quality failures are not errors; an
// invalid series is simply excluded from the valid result set.
func (v *Validator) ValidateData(series models.Series) bool {
	if len(series) < v.MinDays {
		return false
	}
	return !series.HasMissingValues()
}

// Report summarizes the quality of one symbol's series. It is derived and
// transient, never persisted.
type Report struct {
	Days           int       `json:"days"`
	MissingDays    int       `json:"missing_days"`
	ZeroVolumeDays int       `json:"zero_volume_days"`
	ZeroTradeDays  int       `json:"zero_trade_days"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
}

// DateRange renders the inclusive date range of the series.
func (r Report) DateRange() string {
	return fmt.Sprintf("%s to %s", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
}

// HasIssues reports whether the series has calendar gaps or inactive days
// worth flagging.
func (r Report) HasIssues() bool {
	return r.MissingDays > 0 || r.ZeroVolumeDays > 0 || r.ZeroTradeDays > 0
}

// VerifyQuality computes a quality report for a series without mutating it.
// Missing days are the calendar days spanned by the series minus the rows
// present; crypto trades continuously, so every calendar gap is a genuine
// hole.
func (v *Validator) VerifyQuality(series models.Series) Report {
	report := Report{Days: len(series)}
	if len(series) == 0 {
		return report
	}

	first, _ := series.First()
	last, _ := series.Last()
	report.Start = first.OpenTime
	report.End = last.OpenTime

	spanDays := int(last.OpenTime.Sub(first.OpenTime)/(24*time.Hour)) + 1
	report.MissingDays = spanDays - len(series)

	for _, c := range series {
		if c.Volume == 0 {
			report.ZeroVolumeDays++
		}
		if c.Trades == 0 {
			report.ZeroTradeDays++
		}
	}
	return report
}

// VerifyAll computes quality reports for a set of series keyed by symbol.
func (v *Validator) VerifyAll(data map[string]models.Series) map[string]Report {
	reports := make(map[string]Report, len(data))
	for symbol, series := range data {
		reports[symbol] = v.VerifyQuality(series)
	}
	return reports
}
