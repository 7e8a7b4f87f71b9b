// Package freshness decides whether a ticker's stored data is current enough
// to skip a provider call.
package freshness

import (
	"time"

	"MarketPipeline/internal/model"

	"github.com/moznion/go-optional"
)

// Reason prefixes. Reasons other than ReasonInitialLoad carry the last stored
// date as a suffix, e.g. "data_current_last_update_2024-01-15".
const (
	ReasonInitialLoad    = "initial_load"
	ReasonDataCurrent    = "data_current"
	ReasonWeekendCurrent = "weekend_data_current"
	ReasonNeedsUpdate    = "needs_update"
)

// Decision is the outcome of a freshness check.
type Decision struct {
	Skip   bool
	Reason string
}

// Decide reports whether a refresh of a ticker can be skipped given the latest
// stored trading date and today's date. Both are compared as civil dates.
func Decide(latest optional.Option[time.Time], today time.Time) Decision {
	if latest.IsNone() {
		return Decision{Skip: false, Reason: ReasonInitialLoad}
	}
	last := model.DateOf(latest.Unwrap())
	today = model.DateOf(today)
	lastStr := model.FormatDate(last)

	// Same or previous day: the market may not have closed yet.
	if today.Sub(last) <= 24*time.Hour {
		return Decision{Skip: true, Reason: ReasonDataCurrent + "_last_update_" + lastStr}
	}

	if friday, ok := previousFriday(today); ok && !last.Before(friday) {
		return Decision{Skip: true, Reason: ReasonWeekendCurrent + "_" + lastStr}
	}

	return Decision{Skip: false, Reason: ReasonNeedsUpdate + "_last_update_" + lastStr}
}

// previousFriday returns the Friday before a Saturday or Sunday.
func previousFriday(day time.Time) (time.Time, bool) {
	switch day.Weekday() {
	case time.Saturday:
		return day.AddDate(0, 0, -1), true
	case time.Sunday:
		return day.AddDate(0, 0, -2), true
	default:
		return time.Time{}, false
	}
}
