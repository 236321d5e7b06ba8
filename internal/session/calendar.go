// Package session implements the CME futures-calendar rules of
// SPEC_FULL.md §4.K.Session: the weekly trading window, daily maintenance
// break, holiday closures, and the auto-flatten lookahead. The holiday
// table is a config asset (YAML) per §9 so it is updateable without a code
// change; grounded on the teacher's gopkg.in/yaml.v3 strategy-config
// loader idiom (internal/strategy/config_loader.go).
package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"futurescore/internal/core"
)

// HolidayKind distinguishes the three closure shapes in §4.K.
type HolidayKind string

const (
	FullDayClosure HolidayKind = "FULL_DAY_CLOSURE" // no evening session either
	PartialClosure HolidayKind = "PARTIAL"           // day closed, evening opens 18:00 ET
	EarlyClose     HolidayKind = "EARLY_CLOSE"       // session ends 13:00 ET
)

// Holiday is one calendar-asset entry, keyed on a calendar date in the
// session timezone.
type Holiday struct {
	Date string      `yaml:"date"` // "2026-11-26"
	Kind HolidayKind `yaml:"kind"`
	Name string      `yaml:"name"`
}

// Calendar resolves the session state for any instant, consulting the
// weekly window, the daily maintenance break, and the loaded holiday table.
type Calendar struct {
	loc      *time.Location
	holidays map[string]Holiday // keyed by "2006-01-02" in loc
}

// Load reads the holiday calendar asset from path.
func Load(path, tz string) (*Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("session: load location %q: %w", tz, err)
	}
	c := &Calendar{loc: loc, holidays: make(map[string]Holiday)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil // empty calendar is valid; no holidays configured
		}
		return nil, fmt.Errorf("session: read calendar %q: %w", path, err)
	}

	var parsed struct {
		Holidays []Holiday `yaml:"holidays"`
	}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("session: parse calendar %q: %w", path, err)
	}
	for _, h := range parsed.Holidays {
		c.holidays[h.Date] = h
	}
	return c, nil
}

// NewWithHolidays builds a Calendar directly from an in-memory holiday set,
// for tests.
func NewWithHolidays(tz string, holidays []Holiday) (*Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("session: load location %q: %w", tz, err)
	}
	c := &Calendar{loc: loc, holidays: make(map[string]Holiday)}
	for _, h := range holidays {
		c.holidays[h.Date] = h
	}
	return c, nil
}

func (c *Calendar) dateKey(t time.Time) string { return t.In(c.loc).Format("2006-01-02") }

func (c *Calendar) holidayOn(t time.Time) (Holiday, bool) {
	h, ok := c.holidays[c.dateKey(t)]
	return h, ok
}

// State returns the session state at instant now and a human-auditable
// reason code.
func (c *Calendar) State(now time.Time) (core.SessionState, core.Reason) {
	local := now.In(c.loc)
	wd := local.Weekday()
	hm := local.Hour()*60 + local.Minute()

	// Weekly window: Sunday 18:00 ET -> Friday 17:00 ET.
	if wd == time.Saturday {
		return core.SessionClosed, core.ReasonSessionClosed
	}
	if wd == time.Sunday && hm < 18*60 {
		return core.SessionClosed, core.ReasonSessionClosed
	}
	if wd == time.Friday && hm >= 17*60 {
		return core.SessionClosed, core.ReasonSessionClosed
	}

	if h, ok := c.holidayOn(local); ok {
		switch h.Kind {
		case FullDayClosure:
			return core.SessionClosed, core.ReasonSessionClosed
		case EarlyClose:
			if hm >= 13*60 {
				return core.SessionClosed, core.ReasonSessionClosed
			}
		case PartialClosure:
			if hm < 18*60 {
				return core.SessionClosed, core.ReasonSessionClosed
			}
		}
	}

	// Daily maintenance 17:00-18:00 ET Mon-Thu: no new entries, no
	// liquidation, positions ride through.
	if wd >= time.Monday && wd <= time.Thursday && hm >= 17*60 && hm < 18*60 {
		return core.SessionMaintenance, core.ReasonSessionMaintenance
	}

	return core.SessionOpen, core.ReasonNone
}

// IsOpen reports whether the market is in the OPEN state at now (used by
// the §9 Open Question #1 startup-reconciliation resolution).
func (c *Calendar) IsOpen(now time.Time) bool {
	state, _ := c.State(now)
	return state == core.SessionOpen
}

// MinutesUntilSessionClose returns how many minutes remain until the next
// daily/weekly close (maintenance start or the Friday weekly close),
// whichever is sooner, when currently OPEN. Returns false when not OPEN, and
// also during the evening part of an OPEN session, when the next close falls
// on the following calendar day.
func (c *Calendar) MinutesUntilSessionClose(now time.Time) (int, bool) {
	state, _ := c.State(now)
	if state != core.SessionOpen {
		return 0, false
	}
	local := now.In(c.loc)
	wd := local.Weekday()
	hm := local.Hour()*60 + local.Minute()

	var closeMinute int
	if wd == time.Friday {
		closeMinute = 17 * 60
	} else {
		closeMinute = 17 * 60 // daily maintenance start Mon-Thu
	}
	if h, ok := c.holidayOn(local); ok && h.Kind == EarlyClose {
		closeMinute = 13 * 60
	}
	remaining := closeMinute - hm
	if remaining < 0 {
		return 0, false
	}
	return remaining, true
}

// UpcomingFullDayClosure walks up to lookaheadDays calendar days ahead of
// now (inclusive) and reports the first FULL_DAY_CLOSURE found. §9 resolves
// the Open Question on 3+ day closures by making the walk depth
// configurable rather than hardcoding 2, covering a 3-day weekend.
func (c *Calendar) UpcomingFullDayClosure(now time.Time, lookaheadDays int) (Holiday, bool) {
	local := now.In(c.loc)
	for i := 0; i <= lookaheadDays; i++ {
		day := local.AddDate(0, 0, i)
		if h, ok := c.holidayOn(day); ok && h.Kind == FullDayClosure {
			return h, true
		}
	}
	return Holiday{}, false
}
