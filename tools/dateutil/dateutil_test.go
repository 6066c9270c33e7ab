package dateutil_test

import (
	"testing"
	"time"

	"github.com/septivank/utility-billing-worker/tools/dateutil"
)

func TestParseDate_ISO(t *testing.T) {
	result, err := dateutil.ParseDate("2025-03-01")
	if err != nil {
		t.Fatalf("Failed to parse date: %v", err)
	}

	expected := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseDate_DayMonthYear(t *testing.T) {
	result, err := dateutil.ParseDate("29/12/2025 10:30:45")
	if err != nil {
		t.Fatalf("Failed to parse date: %v", err)
	}

	expected := time.Date(2025, 12, 29, 10, 30, 45, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseDate_Invalid(t *testing.T) {
	if _, err := dateutil.ParseDate("invalid-date-string"); err == nil {
		t.Error("Expected error for invalid date")
	}
}

func TestAddMonths_ClampsDay(t *testing.T) {
	cases := []struct {
		in       time.Time
		months   int
		expected time.Time
	}{
		{time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC), -1, time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC)},
		{time.Date(2024, 3, 31, 9, 0, 0, 0, time.UTC), -1, time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC)},
		{time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), -1, time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), 2, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
	}

	for _, c := range cases {
		got := dateutil.AddMonths(c.in, c.months)
		if !got.Equal(c.expected) {
			t.Errorf("AddMonths(%v, %d): expected %v, got %v", c.in, c.months, c.expected, got)
		}
	}
}

func TestDaysBetween(t *testing.T) {
	from := time.Date(2025, 3, 6, 23, 59, 0, 0, time.UTC)
	to := time.Date(2025, 3, 10, 0, 1, 0, 0, time.UTC)

	if got := dateutil.DaysBetween(from, to); got != 4 {
		t.Errorf("Expected 4 days, got %d", got)
	}
	if got := dateutil.DaysBetween(to, from); got != -4 {
		t.Errorf("Expected -4 days, got %d", got)
	}
}

func TestDaysBetween_AcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	from := time.Date(2025, 3, 29, 12, 0, 0, 0, loc)
	to := time.Date(2025, 3, 31, 12, 0, 0, 0, loc)

	if got := dateutil.DaysBetween(from, to); got != 2 {
		t.Errorf("Expected 2 days across DST change, got %d", got)
	}
}

func TestDaysIn(t *testing.T) {
	if got := dateutil.DaysIn(2024, time.February); got != 29 {
		t.Errorf("Expected 29 days in Feb 2024, got %d", got)
	}
	if got := dateutil.DaysIn(2025, time.February); got != 28 {
		t.Errorf("Expected 28 days in Feb 2025, got %d", got)
	}
}
