// Package followup tracks outgoing commitments through the
// pending -> reminded -> escalated lifecycle. All timing is counted in
// business days; the calendar is configurable so deployments can mark
// holidays and non-standard weekends.
package followup

import (
	"strings"
	"time"

	"github.com/scrypster/sage/internal/config"
)

// Calendar answers business-day questions for follow-up timing.
type Calendar struct {
	weekends map[time.Weekday]bool
	holidays map[string]bool // YYYY-MM-DD
}

// NewCalendar builds a calendar from configuration. Unparseable weekday or
// holiday entries are ignored; absent configuration means Saturday/Sunday
// weekends and no holidays.
func NewCalendar(cfg config.FollowupConfig) *Calendar {
	c := &Calendar{
		weekends: map[time.Weekday]bool{},
		holidays: map[string]bool{},
	}

	names := map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday,
		"friday": time.Friday, "saturday": time.Saturday,
	}
	for _, w := range cfg.Weekends {
		if d, ok := names[strings.ToLower(w)]; ok {
			c.weekends[d] = true
		}
	}
	if len(cfg.Weekends) == 0 {
		c.weekends[time.Saturday] = true
		c.weekends[time.Sunday] = true
	}

	for _, h := range cfg.Holidays {
		if _, err := time.Parse("2006-01-02", h); err == nil {
			c.holidays[h] = true
		}
	}
	return c
}

// IsBusinessDay reports whether t falls on a business day.
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	if c.weekends[t.Weekday()] {
		return false
	}
	return !c.holidays[t.Format("2006-01-02")]
}

// AddBusinessDays returns t advanced by n business days, preserving the
// time of day. n must be >= 0.
func (c *Calendar) AddBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, 1)
		if c.IsBusinessDay(t) {
			n--
		}
	}
	return t
}

// BusinessDaysBetween counts whole business days from `from` (exclusive)
// to `to` (inclusive by date). Returns 0 when to does not follow from.
func (c *Calendar) BusinessDaysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	days := 0
	cursor := from.Truncate(24 * time.Hour)
	end := to.Truncate(24 * time.Hour)
	for cursor.Before(end) {
		cursor = cursor.AddDate(0, 0, 1)
		if c.IsBusinessDay(cursor) {
			days++
		}
	}
	return days
}
