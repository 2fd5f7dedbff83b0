package followup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/sage/internal/config"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

// TestCalendar_IsBusinessDay covers default weekends and holidays.
func TestCalendar_IsBusinessDay(t *testing.T) {
	cal := NewCalendar(config.FollowupConfig{
		Holidays: []string{"2026-03-06"}, // a Friday
	})

	assert.True(t, cal.IsBusinessDay(date(2026, 3, 2)))   // Monday
	assert.False(t, cal.IsBusinessDay(date(2026, 3, 7)))  // Saturday
	assert.False(t, cal.IsBusinessDay(date(2026, 3, 8)))  // Sunday
	assert.False(t, cal.IsBusinessDay(date(2026, 3, 6)))  // holiday Friday
	assert.True(t, cal.IsBusinessDay(date(2026, 3, 9)))   // next Monday
}

// TestCalendar_CustomWeekend verifies non-standard weekends (e.g. Friday
// and Saturday) are honored.
func TestCalendar_CustomWeekend(t *testing.T) {
	cal := NewCalendar(config.FollowupConfig{
		Weekends: []string{"Friday", "Saturday"},
	})

	assert.False(t, cal.IsBusinessDay(date(2026, 3, 6))) // Friday
	assert.False(t, cal.IsBusinessDay(date(2026, 3, 7))) // Saturday
	assert.True(t, cal.IsBusinessDay(date(2026, 3, 8)))  // Sunday
}

// TestCalendar_AddBusinessDays verifies weekends and holidays are skipped.
func TestCalendar_AddBusinessDays(t *testing.T) {
	cal := NewCalendar(config.FollowupConfig{
		Holidays: []string{"2026-03-04"}, // a Wednesday
	})

	// Monday + 1 business day = Tuesday.
	assert.Equal(t, date(2026, 3, 3), cal.AddBusinessDays(date(2026, 3, 2), 1))

	// Tuesday + 2 business days skips the Wednesday holiday: Thu, Fri.
	assert.Equal(t, date(2026, 3, 6), cal.AddBusinessDays(date(2026, 3, 3), 2))

	// Friday + 1 business day skips the weekend.
	assert.Equal(t, date(2026, 3, 9), cal.AddBusinessDays(date(2026, 3, 6), 1))

	// Zero days is the identity.
	assert.Equal(t, date(2026, 3, 2), cal.AddBusinessDays(date(2026, 3, 2), 0))
}

// TestCalendar_BusinessDaysBetween verifies the exclusive-from count.
func TestCalendar_BusinessDaysBetween(t *testing.T) {
	cal := NewCalendar(config.FollowupConfig{})

	// Tuesday to Thursday: Wed + Thu = 2.
	assert.Equal(t, 2, cal.BusinessDaysBetween(date(2026, 3, 3), date(2026, 3, 5)))

	// Friday to Monday crosses a weekend: only Monday counts.
	assert.Equal(t, 1, cal.BusinessDaysBetween(date(2026, 3, 6), date(2026, 3, 9)))

	// Same day or earlier is zero.
	assert.Equal(t, 0, cal.BusinessDaysBetween(date(2026, 3, 3), date(2026, 3, 3)))
	assert.Equal(t, 0, cal.BusinessDaysBetween(date(2026, 3, 5), date(2026, 3, 3)))
}
