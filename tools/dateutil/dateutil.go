package dateutil

import (
	"fmt"
	"time"
)

// DateLayout is the canonical calendar-day layout used in keys and messages
const DateLayout = "2006-01-02"

// ParseDate attempts to parse a calendar date or timestamp with multiple formats
func ParseDate(dateStr string) (time.Time, error) {
	formats := []string{
		DateLayout,            // YYYY-MM-DD
		"02/01/2006",          // DD/MM/YYYY
		"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
		time.RFC3339,          // Standard RFC3339
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse date '%s': %w", dateStr, lastErr)
}

// StartOfDay truncates t to midnight in its own location
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysIn returns the number of days in the given month
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonths moves t by n calendar months, clamping the day to the target month's length.
// Unlike time.AddDate, Mar 31 minus one month is Feb 28 (or 29), never Mar 3.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if maxDay := DaysIn(first.Year(), first.Month()); d > maxDay {
		d = maxDay
	}
	hh, mm, ss := t.Clock()
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// DaysBetween counts calendar days from the date of `from` to the date of `to`.
// Each instant is read in its own location; the result is negative when to is earlier.
func DaysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// SameDay reports whether a and b fall on the same calendar date
func SameDay(a, b time.Time) bool {
	return DaysBetween(a, b) == 0
}
