// Package scheduler derives "what is due now" as pure boolean predicates
// over the Clock and the durable state files — it holds no state of its
// own (spec.md §4.4). This deliberately diverges from NitinKhare-trader's
// job-registry dispatcher (internal/scheduler/scheduler.go in the pack):
// that shape fits a cron-like job runner, but spec.md's scheduler is
// consulted once per cycle by the Monitor Loop, which decides what to do
// with a "due" answer itself.
package scheduler

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// withinWindow reports whether now is within window of the wall-clock
// time (HH:MM, on now's own date) named by clockStr. "Within 5 minutes"
// checks throughout this package use the absolute difference in seconds
// between now and that target instant.
func withinWindow(now time.Time, clockStr string, window time.Duration) bool {
	target, ok := todayAt(now, clockStr)
	if !ok {
		return false
	}
	diff := now.Sub(target)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}

func todayAt(now time.Time, clockStr string) (time.Time, bool) {
	parts := strings.Split(clockStr, ":")
	if len(parts) != 2 {
		return time.Time{}, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return time.Time{}, false
	}
	return time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location()), true
}

// ScheduledReviewDue implements spec.md §4.4's first contract: due if
// there was no prior review, or elapsed >= strategyHours, or the next
// review (at the strategy_hours cadence) would fall after close and we
// are within 30 minutes of close right now — guaranteeing an end-of-day
// review even on a long cadence. Per spec.md §9's resolved open question,
// the elapsed-hours path does not re-fire a review already performed
// earlier the same exchange-local day unless the end-of-day clause
// applies; hasReviewToday carries that exchange-local-day fact in.
func ScheduledReviewDue(lastReview *time.Time, hasReviewToday bool, strategyHours float64, exchangeNow time.Time, minutesToClose int) bool {
	if lastReview == nil {
		return true
	}
	elapsedHours := exchangeNow.Sub(*lastReview).Hours()

	if minutesToClose > 0 && minutesToClose <= 30 {
		nextReviewInHours := strategyHours - elapsedHours
		if nextReviewInHours*60 > float64(minutesToClose) {
			return true
		}
	}

	if hasReviewToday {
		return false
	}
	return elapsedHours >= strategyHours
}

// DiscoveryDue implements spec.md §4.4's second contract: due if there
// was no prior discovery and the current exchange hour matches the
// discovery cadence starting from discoveryStartClock, or elapsed >=
// discoveryHours.
func DiscoveryDue(lastDiscovery *time.Time, discoveryHours float64, discoveryStartClock string, exchangeNow time.Time) bool {
	if lastDiscovery == nil {
		start, ok := todayAt(exchangeNow, discoveryStartClock)
		if !ok {
			return true
		}
		if exchangeNow.Before(start) {
			return false
		}
		elapsedSinceStart := exchangeNow.Sub(start).Hours()
		if discoveryHours <= 0 {
			return true
		}
		// due at the start clock itself, and every discoveryHours
		// after it, matching a cadence starting from discoveryStartClock
		remainder := math.Mod(elapsedSinceStart, discoveryHours)
		return remainder < 1.0 // within the first hour of a cadence tick
	}
	return exchangeNow.Sub(*lastDiscovery).Hours() >= discoveryHours
}

// OvernightScanDue is due when localNow is within 5 minutes of any
// configured scan time and at least 4 hours have passed since lastScan.
func OvernightScanDue(lastScan time.Time, scanTimes []string, localNow time.Time) bool {
	if !lastScan.IsZero() && localNow.Sub(lastScan) < 4*time.Hour {
		return false
	}
	for _, clockStr := range scanTimes {
		if withinWindow(localNow, clockStr, 5*time.Minute) {
			return true
		}
	}
	return false
}

// PreMarketBriefingDue fires once per weekday, within 5 minutes of
// premarketClock, provided it has not already run today (lastDate holds
// the YYYY-MM-DD it last ran).
func PreMarketBriefingDue(lastDate string, premarketClock string, localNow time.Time) bool {
	today := localNow.Format("2006-01-02")
	if lastDate == today {
		return false
	}
	if localNow.Weekday() == time.Saturday || localNow.Weekday() == time.Sunday {
		return false
	}
	return withinWindow(localNow, premarketClock, 5*time.Minute)
}

// WeekendBriefingDue fires once per Sunday, within 5 minutes of
// weekendClock, provided it has not already run this Sunday.
func WeekendBriefingDue(lastDate string, weekendClock string, localNow time.Time) bool {
	today := localNow.Format("2006-01-02")
	if lastDate == today {
		return false
	}
	if localNow.Weekday() != time.Sunday {
		return false
	}
	return withinWindow(localNow, weekendClock, 5*time.Minute)
}
