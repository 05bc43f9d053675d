package scheduler

import (
	"testing"
	"time"
)

func atET(hhmm string) time.Time {
	loc, _ := time.LoadLocation("America/New_York")
	t, _ := todayAt(time.Date(2026, 3, 4, 0, 0, 0, 0, loc), hhmm)
	return t
}

func TestScheduledReviewDue_NoPriorReview(t *testing.T) {
	if !ScheduledReviewDue(nil, false, 2, atET("10:00"), 300) {
		t.Fatal("expected due with no prior review")
	}
}

func TestScheduledReviewDue_NotYetElapsed(t *testing.T) {
	last := atET("09:30")
	now := atET("10:30")
	if ScheduledReviewDue(&last, false, 2, now, 300) {
		t.Fatal("expected not due before strategy_hours elapses")
	}
}

func TestScheduledReviewDue_AlreadyRanToday(t *testing.T) {
	last := atET("09:30")
	now := atET("12:00")
	if ScheduledReviewDue(&last, true, 2, now, 240) {
		t.Fatal("expected no re-fire once a review already ran this exchange-local day")
	}
}

func TestScheduledReviewDue_EndOfDayCatchUp(t *testing.T) {
	last := atET("09:30")
	now := atET("15:45")
	// Long cadence review wouldn't naturally land before close, but we're
	// within 30 minutes of close, so the end-of-day clause forces it.
	if !ScheduledReviewDue(&last, true, 8, now, 15) {
		t.Fatal("expected end-of-day catch-up review")
	}
}

func TestDiscoveryDue_NoPriorDiscovery(t *testing.T) {
	now := atET("09:35")
	if !DiscoveryDue(nil, 4, "09:30", now) {
		t.Fatal("expected due at the discovery start clock")
	}
}

func TestDiscoveryDue_BeforeStartClock(t *testing.T) {
	now := atET("08:00")
	if DiscoveryDue(nil, 4, "09:30", now) {
		t.Fatal("expected not due before the start clock")
	}
}

func TestDiscoveryDue_Elapsed(t *testing.T) {
	last := atET("09:30")
	now := atET("13:45")
	if !DiscoveryDue(&last, 4, "09:30", now) {
		t.Fatal("expected due once discoveryHours has elapsed")
	}
}

func TestOvernightScanDue_WithinWindow(t *testing.T) {
	now := atET("20:02")
	if !OvernightScanDue(time.Time{}, []string{"20:00"}, now) {
		t.Fatal("expected due within the 5 minute window")
	}
}

func TestOvernightScanDue_TooSoonSinceLastScan(t *testing.T) {
	last := atET("18:00")
	now := atET("20:02")
	if OvernightScanDue(last, []string{"20:00"}, now) {
		t.Fatal("expected suppressed within 4 hours of the last scan")
	}
}

func TestPreMarketBriefingDue_Weekend(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	sat := time.Date(2026, 3, 7, 8, 0, 0, 0, loc) // a Saturday
	if PreMarketBriefingDue("", "08:00", sat) {
		t.Fatal("expected suppressed on a weekend")
	}
}

func TestPreMarketBriefingDue_AlreadyRanToday(t *testing.T) {
	now := atET("08:00")
	today := now.Format("2006-01-02")
	if PreMarketBriefingDue(today, "08:00", now) {
		t.Fatal("expected suppressed once already run today")
	}
}

func TestWeekendBriefingDue_OnlySunday(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	sun := time.Date(2026, 3, 8, 18, 0, 0, 0, loc)
	mon := time.Date(2026, 3, 9, 18, 0, 0, 0, loc)
	if !WeekendBriefingDue("", "18:00", sun) {
		t.Fatal("expected due on Sunday within the window")
	}
	if WeekendBriefingDue("", "18:00", mon) {
		t.Fatal("expected not due on Monday")
	}
}
