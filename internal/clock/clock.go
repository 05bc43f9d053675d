// Package clock is the source of wall-clock time for market-hours and
// scheduling decisions, so tests can substitute a Fixed clock and get
// deterministic schedules. Timestamps written into state records, alerts
// and orders still come from time.Now.
package clock

import "time"

// Clock exposes time in two zones: the exchange's and the operator's
// local zone. isMarketHours and the scheduler's due-predicates read time
// only through this interface.
type Clock interface {
	// Now returns (exchange_time, local_time) for the current instant.
	Now() (exchange time.Time, local time.Time)
}

// Real is a Clock backed by the system clock, tagged with an exchange and
// a local timezone.
type Real struct {
	Exchange *time.Location
	Local    *time.Location
}

// New builds a Real clock. exchangeTZ and localTZ are IANA zone names
// (e.g. "America/New_York", "Local").
func New(exchangeTZ, localTZ string) (*Real, error) {
	ex, err := time.LoadLocation(exchangeTZ)
	if err != nil {
		return nil, err
	}
	lo, err := time.LoadLocation(localTZ)
	if err != nil {
		return nil, err
	}
	return &Real{Exchange: ex, Local: lo}, nil
}

func (r *Real) Now() (time.Time, time.Time) {
	now := time.Now()
	return now.In(r.Exchange), now.In(r.Local)
}

// MarketOpenHour, MarketOpenMinute, MarketCloseHour and MarketCloseMinute
// define the regular trading session in exchange-local time (09:30-16:00).
const (
	MarketOpenHour    = 9
	MarketOpenMinute  = 30
	MarketCloseHour   = 16
	MarketCloseMinute = 0
)

// IsMarketHours reports whether the given exchange-local instant falls on
// a weekday within the regular trading session. minutesToClose()==0 is
// still considered in-market (the boundary behavior spec.md §8 requires).
func IsMarketHours(c Clock) bool {
	exchangeNow, _ := c.Now()
	return isMarketHoursAt(exchangeNow)
}

func isMarketHoursAt(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	open := MarketOpenHour*60 + MarketOpenMinute
	close_ := MarketCloseHour*60 + MarketCloseMinute
	return minutes >= open && minutes <= close_
}

// MinutesToClose returns the number of whole minutes remaining in the
// regular session, or 0 if the market is not currently open.
func MinutesToClose(c Clock) int {
	exchangeNow, _ := c.Now()
	if !isMarketHoursAt(exchangeNow) {
		return 0
	}
	closeMinutes := MarketCloseHour*60 + MarketCloseMinute
	nowMinutes := exchangeNow.Hour()*60 + exchangeNow.Minute()
	remaining := closeMinutes - nowMinutes
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NextOpen returns the next regular-session open, in exchange time,
// looking ahead up to 10 calendar days (weekends only; no holiday
// calendar — see DESIGN.md).
func NextOpen(c Clock) time.Time {
	exchangeNow, _ := c.Now()
	candidate := exchangeNow
	for i := 0; i < 10; i++ {
		if i == 0 && isTradingDay(candidate) {
			open := time.Date(candidate.Year(), candidate.Month(), candidate.Day(),
				MarketOpenHour, MarketOpenMinute, 0, 0, candidate.Location())
			if exchangeNow.Before(open) {
				return open
			}
		}
		candidate = candidate.AddDate(0, 0, 1)
		if isTradingDay(candidate) {
			return time.Date(candidate.Year(), candidate.Month(), candidate.Day(),
				MarketOpenHour, MarketOpenMinute, 0, 0, candidate.Location())
		}
	}
	return exchangeNow.AddDate(0, 0, 1)
}

func isTradingDay(t time.Time) bool {
	return t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
}

// Fixed is a Clock that always returns the same two instants. Used by
// tests to pin the monitor to an exact moment.
type Fixed struct {
	Exchange time.Time
	Local    time.Time
}

func (f Fixed) Now() (time.Time, time.Time) { return f.Exchange, f.Local }
