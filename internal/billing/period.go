package billing

import (
	"time"

	"github.com/septivank/utility-billing-worker/internal/db"
	"github.com/septivank/utility-billing-worker/tools/dateutil"
)

// Period is the half-open interval [Start, End) of one billing month
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the period
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// CurrentPeriod returns the billing period that now falls in, anchored to the cycle's
// generation day clipped to each month's length. Any instant is valid input.
func CurrentPeriod(cycle db.BillingCycle, now time.Time) Period {
	start := anchor(cycle.GenerationDay, now.Year(), now.Month(), now.Location())
	if now.Before(start) {
		start = anchor(cycle.GenerationDay, now.Year(), now.Month()-1, now.Location())
	}
	return Period{
		Start: start,
		End:   anchor(cycle.GenerationDay, start.Year(), start.Month()+1, now.Location()),
	}
}

// PreviousPeriod returns the period immediately preceding the one now falls in
func PreviousPeriod(cycle db.BillingCycle, now time.Time) Period {
	current := CurrentPeriod(cycle, now)
	return CurrentPeriod(cycle, current.Start.Add(-time.Nanosecond))
}

// DueDate is the due date of a bill generated on generationDate
func DueDate(cycle db.BillingCycle, generationDate time.Time) time.Time {
	return dateutil.StartOfDay(generationDate).AddDate(0, 0, cycle.DueDateOffset)
}

func anchor(generationDay, year int, month time.Month, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	day := generationDay
	if day < 1 {
		day = 1
	}
	if maxDay := dateutil.DaysIn(first.Year(), first.Month()); day > maxDay {
		day = maxDay
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, loc)
}
