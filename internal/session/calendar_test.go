package session

import (
	"testing"
	"time"

	"futurescore/internal/core"
)

const tz = "America/New_York"

func mustCalendar(t *testing.T, holidays []Holiday) *Calendar {
	t.Helper()
	c, err := NewWithHolidays(tz, holidays)
	if err != nil {
		t.Fatalf("NewWithHolidays: %v", err)
	}
	return c
}

func at(t *testing.T, y int, m time.Month, d, hh, mm int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return time.Date(y, m, d, hh, mm, 0, 0, loc)
}

// TestStateExactlyAtFridayCloseIsClosed asserts the Friday 17:00 ET weekly
// close boundary is inclusive: at exactly 17:00 the session is CLOSED, not
// still OPEN.
func TestStateExactlyAtFridayCloseIsClosed(t *testing.T) {
	c := mustCalendar(t, nil)
	// 2026-08-07 is a Friday.
	state, reason := c.State(at(t, 2026, time.August, 7, 17, 0))
	if state != core.SessionClosed {
		t.Fatalf("expected CLOSED exactly at Friday 17:00 ET, got %s", state)
	}
	if reason != core.ReasonSessionClosed {
		t.Fatalf("expected ReasonSessionClosed, got %s", reason)
	}
}

func TestStateJustBeforeFridayCloseIsOpen(t *testing.T) {
	c := mustCalendar(t, nil)
	state, _ := c.State(at(t, 2026, time.August, 7, 16, 59))
	if state != core.SessionOpen {
		t.Fatalf("expected OPEN one minute before Friday close, got %s", state)
	}
}

// TestStateExactlyAtSundayReopenIsOpen asserts the weekly reopen boundary:
// Sunday 18:00 ET is OPEN, Sunday 17:59 is still CLOSED.
func TestStateExactlyAtSundayReopenIsOpen(t *testing.T) {
	c := mustCalendar(t, nil)
	// 2026-08-09 is a Sunday.
	state, _ := c.State(at(t, 2026, time.August, 9, 18, 0))
	if state != core.SessionOpen {
		t.Fatalf("expected OPEN exactly at Sunday 18:00 ET, got %s", state)
	}
	state, _ = c.State(at(t, 2026, time.August, 9, 17, 59))
	if state != core.SessionClosed {
		t.Fatalf("expected CLOSED one minute before Sunday reopen, got %s", state)
	}
}

func TestStateSaturdayIsClosed(t *testing.T) {
	c := mustCalendar(t, nil)
	// 2026-08-08 is a Saturday.
	state, _ := c.State(at(t, 2026, time.August, 8, 12, 0))
	if state != core.SessionClosed {
		t.Fatalf("expected CLOSED on Saturday, got %s", state)
	}
}

// TestStateExactlyAtMaintenanceStartIsMaintenance asserts the daily
// maintenance window boundary is inclusive at its start: 17:00 ET on a
// weekday (Mon-Thu) enters MAINTENANCE, not CLOSED or OPEN.
func TestStateExactlyAtMaintenanceStartIsMaintenance(t *testing.T) {
	c := mustCalendar(t, nil)
	// 2026-08-04 is a Tuesday.
	state, reason := c.State(at(t, 2026, time.August, 4, 17, 0))
	if state != core.SessionMaintenance {
		t.Fatalf("expected MAINTENANCE exactly at 17:00 ET on a weekday, got %s", state)
	}
	if reason != core.ReasonSessionMaintenance {
		t.Fatalf("expected ReasonSessionMaintenance, got %s", reason)
	}
}

func TestStateExactlyAtMaintenanceEndIsOpen(t *testing.T) {
	c := mustCalendar(t, nil)
	state, _ := c.State(at(t, 2026, time.August, 4, 18, 0))
	if state != core.SessionOpen {
		t.Fatalf("expected OPEN exactly at 18:00 ET maintenance end, got %s", state)
	}
}

func TestStateFullDayClosureHoliday(t *testing.T) {
	c := mustCalendar(t, []Holiday{{Date: "2026-11-26", Kind: FullDayClosure, Name: "Thanksgiving"}})
	state, _ := c.State(at(t, 2026, time.November, 26, 12, 0))
	if state != core.SessionClosed {
		t.Fatalf("expected CLOSED on a full-day closure holiday, got %s", state)
	}
}

func TestStateEarlyCloseHoliday(t *testing.T) {
	c := mustCalendar(t, []Holiday{{Date: "2026-11-27", Kind: EarlyClose, Name: "Day after Thanksgiving"}})
	before, _ := c.State(at(t, 2026, time.November, 27, 12, 59))
	if before != core.SessionOpen {
		t.Fatalf("expected OPEN before 13:00 on an early-close day, got %s", before)
	}
	after, _ := c.State(at(t, 2026, time.November, 27, 13, 0))
	if after != core.SessionClosed {
		t.Fatalf("expected CLOSED exactly at 13:00 on an early-close day, got %s", after)
	}
}

func TestStatePartialClosureHoliday(t *testing.T) {
	c := mustCalendar(t, []Holiday{{Date: "2026-12-24", Kind: PartialClosure, Name: "Christmas Eve"}})
	day, _ := c.State(at(t, 2026, time.December, 24, 12, 0))
	if day != core.SessionClosed {
		t.Fatalf("expected CLOSED during the day on a partial-closure holiday, got %s", day)
	}
	evening, _ := c.State(at(t, 2026, time.December, 24, 18, 0))
	if evening != core.SessionOpen {
		t.Fatalf("expected OPEN at 18:00 ET evening reopen on a partial-closure holiday, got %s", evening)
	}
}

// TestUpcomingFullDayClosureWithinLookahead asserts a 1-day lookahead finds
// a closure starting the next day.
func TestUpcomingFullDayClosureWithinLookahead(t *testing.T) {
	c := mustCalendar(t, []Holiday{{Date: "2026-11-26", Kind: FullDayClosure, Name: "Thanksgiving"}})
	h, found := c.UpcomingFullDayClosure(at(t, 2026, time.November, 25, 12, 0), 1)
	if !found {
		t.Fatal("expected to find the holiday within a 1-day lookahead")
	}
	if h.Name != "Thanksgiving" {
		t.Fatalf("expected Thanksgiving, got %s", h.Name)
	}
}

// TestUpcomingFullDayClosureThreeDayWeekend exercises the 3+ day closure
// lookahead (§9 Open Question: walk depth is configurable rather than
// hardcoded): a closure three calendar days out is found with a 3-day
// lookahead and missed with a 2-day lookahead.
func TestUpcomingFullDayClosureThreeDayWeekend(t *testing.T) {
	c := mustCalendar(t, []Holiday{{Date: "2026-09-10", Kind: FullDayClosure, Name: "Long Weekend"}})
	now := at(t, 2026, time.September, 7, 9, 0)

	if _, found := c.UpcomingFullDayClosure(now, 2); found {
		t.Fatal("expected a 2-day lookahead to miss a closure 3 days out")
	}
	h, found := c.UpcomingFullDayClosure(now, 3)
	if !found {
		t.Fatal("expected a 3-day lookahead to find the closure")
	}
	if h.Name != "Long Weekend" {
		t.Fatalf("expected Long Weekend, got %s", h.Name)
	}
}

func TestUpcomingFullDayClosureNoneFound(t *testing.T) {
	c := mustCalendar(t, nil)
	_, found := c.UpcomingFullDayClosure(at(t, 2026, time.September, 7, 9, 0), 3)
	if found {
		t.Fatal("expected no closure found with an empty holiday table")
	}
}

func TestMinutesUntilSessionCloseWhenNotOpen(t *testing.T) {
	c := mustCalendar(t, nil)
	_, ok := c.MinutesUntilSessionClose(at(t, 2026, time.August, 8, 12, 0))
	if ok {
		t.Fatal("expected no countdown to close while the session is already CLOSED")
	}
}

func TestMinutesUntilSessionCloseCountsDownToMaintenance(t *testing.T) {
	c := mustCalendar(t, nil)
	// 2026-08-04 is a Tuesday; maintenance starts at 17:00 ET.
	minutes, ok := c.MinutesUntilSessionClose(at(t, 2026, time.August, 4, 16, 30))
	if !ok {
		t.Fatal("expected a countdown while OPEN")
	}
	if minutes != 30 {
		t.Fatalf("expected 30 minutes until maintenance, got %d", minutes)
	}
}

func TestIsOpenReflectsState(t *testing.T) {
	c := mustCalendar(t, nil)
	if !c.IsOpen(at(t, 2026, time.August, 4, 12, 0)) {
		t.Fatal("expected IsOpen=true mid-week mid-day")
	}
	if c.IsOpen(at(t, 2026, time.August, 8, 12, 0)) {
		t.Fatal("expected IsOpen=false on Saturday")
	}
}
