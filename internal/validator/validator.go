package validator

import (
	"errors"
	"fmt"
	"time"

	"github.com/septivank/utility-billing-worker/internal/db"
	"github.com/septivank/utility-billing-worker/tools/dateutil"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidArgument is returned for nonsensical caller input such as negative values
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidReading is returned when the current reading is below the previous one
	ErrInvalidReading = errors.New("invalid reading")
)

var (
	penaltyRate     = decimal.New(1, -2) // 1% of the fixed charge per day
	minDailyPenalty = decimal.NewFromInt(1)
)

// ValidateConsumption checks a reading pair and returns current - previous.
// Meters never run backwards; rollover is left to the caller as a policy decision.
// Negative operands match both ErrInvalidReading and ErrInvalidArgument.
func ValidateConsumption(currentReading, previousReading decimal.Decimal) (decimal.Decimal, error) {
	if currentReading.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %w: current reading %s is negative", ErrInvalidReading, ErrInvalidArgument, currentReading)
	}
	if previousReading.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %w: previous reading %s is negative", ErrInvalidReading, ErrInvalidArgument, previousReading)
	}
	if currentReading.LessThan(previousReading) {
		return decimal.Zero, fmt.Errorf("%w: current reading %s is less than previous reading %s",
			ErrInvalidReading, currentReading, previousReading)
	}
	return currentReading.Sub(previousReading), nil
}

// OverdueDate is the last instant a bill is Due before penalties start
func OverdueDate(dueDate time.Time, gracePeriodDays int) time.Time {
	return dueDate.AddDate(0, 0, gracePeriodDays)
}

// DetermineStatus classifies an unpaid bill against now
func DetermineStatus(dueDate, now time.Time, gracePeriodDays int) (db.BillStatus, error) {
	if gracePeriodDays < 0 {
		return "", fmt.Errorf("%w: grace period %d is negative", ErrInvalidArgument, gracePeriodDays)
	}

	switch {
	case now.Before(dueDate):
		return db.BillGenerated, nil
	case !now.After(OverdueDate(dueDate, gracePeriodDays)):
		return db.BillDue, nil
	default:
		return db.BillOverdue, nil
	}
}

// DaysOverdue counts calendar days from the overdue date to now, never below zero.
// Days are counted on the due date's calendar, so the result depends only on the instant now.
func DaysOverdue(dueDate, now time.Time, gracePeriodDays int) int {
	days := dateutil.DaysBetween(OverdueDate(dueDate, gracePeriodDays), now.In(dueDate.Location()))
	if days < 0 {
		return 0
	}
	return days
}

// Penalty is daysOverdue x max(1% of fixedCharge, 1), rounded to cents.
// No cap is applied.
func Penalty(fixedCharge decimal.Decimal, daysOverdue int) (decimal.Decimal, error) {
	if fixedCharge.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: fixed charge %s is negative", ErrInvalidArgument, fixedCharge)
	}
	if daysOverdue < 0 {
		return decimal.Zero, fmt.Errorf("%w: days overdue %d is negative", ErrInvalidArgument, daysOverdue)
	}

	daily := decimal.Max(fixedCharge.Mul(penaltyRate), minDailyPenalty)
	return daily.Mul(decimal.NewFromInt(int64(daysOverdue))).Round(2), nil
}
