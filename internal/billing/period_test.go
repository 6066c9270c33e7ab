package billing_test

import (
	"testing"
	"time"

	"github.com/septivank/utility-billing-worker/internal/billing"
	"github.com/septivank/utility-billing-worker/internal/db"
	"github.com/septivank/utility-billing-worker/tools/dateutil"
	"github.com/stretchr/testify/assert"
)

func cycle(generationDay int) db.BillingCycle {
	return db.BillingCycle{GenerationDay: generationDay, DueDateOffset: 15, GracePeriodDays: 5, IsActive: true}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCurrentPeriod(t *testing.T) {
	t.Run("on or after generation day", func(t *testing.T) {
		p := billing.CurrentPeriod(cycle(10), time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC))
		assert.Equal(t, date(2025, 3, 10), p.Start)
		assert.Equal(t, date(2025, 4, 10), p.End)
	})

	t.Run("before generation day", func(t *testing.T) {
		p := billing.CurrentPeriod(cycle(10), time.Date(2025, 3, 9, 23, 59, 0, 0, time.UTC))
		assert.Equal(t, date(2025, 2, 10), p.Start)
		assert.Equal(t, date(2025, 3, 10), p.End)
	})

	t.Run("across year boundary", func(t *testing.T) {
		p := billing.CurrentPeriod(cycle(5), date(2025, 1, 2))
		assert.Equal(t, date(2024, 12, 5), p.Start)
		assert.Equal(t, date(2025, 1, 5), p.End)
	})

	t.Run("generation day clipped to february", func(t *testing.T) {
		p := billing.CurrentPeriod(cycle(31), date(2025, 2, 28))
		assert.Equal(t, date(2025, 2, 28), p.Start)
		assert.Equal(t, date(2025, 3, 31), p.End)

		p = billing.CurrentPeriod(cycle(31), date(2024, 2, 29))
		assert.Equal(t, date(2024, 2, 29), p.Start)

		p = billing.CurrentPeriod(cycle(31), date(2025, 2, 15))
		assert.Equal(t, date(2025, 1, 31), p.Start)
		assert.Equal(t, date(2025, 2, 28), p.End)
	})

	t.Run("period contains reference instant", func(t *testing.T) {
		now := time.Date(2025, 7, 19, 13, 45, 0, 0, time.UTC)
		p := billing.CurrentPeriod(cycle(20), now)
		assert.True(t, p.Contains(now))
		assert.False(t, p.Contains(p.End))
		assert.True(t, p.Contains(p.Start))
	})
}

func TestCurrentPeriod_AdjacentToPreviousMonth(t *testing.T) {
	start := date(2023, 1, 1)
	for generationDay := 1; generationDay <= 28; generationDay++ {
		c := cycle(generationDay)
		for day := 0; day < 3*365; day += 3 {
			now := start.AddDate(0, 0, day).Add(17 * time.Hour)

			current := billing.CurrentPeriod(c, now)
			previous := billing.CurrentPeriod(c, dateutil.AddMonths(now, -1))

			if !previous.End.Equal(current.Start) {
				t.Fatalf("generation day %d, now %v: previous %v and current %v are not adjacent",
					generationDay, now, previous, current)
			}
		}
	}
}

func TestPreviousPeriod(t *testing.T) {
	now := date(2025, 3, 31)
	for _, generationDay := range []int{1, 15, 28, 30, 31} {
		c := cycle(generationDay)
		current := billing.CurrentPeriod(c, now)
		previous := billing.PreviousPeriod(c, now)
		assert.Equal(t, current.Start, previous.End, "generation day %d", generationDay)
		assert.True(t, previous.Start.Before(previous.End))
	}
}

func TestDueDate(t *testing.T) {
	got := billing.DueDate(cycle(1), time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, date(2025, 3, 7), got)
}
