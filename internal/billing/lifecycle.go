package billing

import (
	"fmt"
	"time"

	"github.com/septivank/utility-billing-worker/internal/db"
	"github.com/septivank/utility-billing-worker/internal/validator"
	"github.com/shopspring/decimal"
)

// Refresh recomputes a bill's status, penalty and total against now.
//
// It performs no I/O and is safe to call concurrently from every read path. A Paid bill
// is returned unchanged whatever the other arguments are. Callers persist the result only
// when Changed reports a difference.
func Refresh(bill db.Bill, gracePeriodDays int, fixedCharge decimal.Decimal, now time.Time) (db.Bill, error) {
	if bill.Status == db.BillPaid {
		return bill, nil
	}

	status, err := validator.DetermineStatus(bill.DueDate, now, gracePeriodDays)
	if err != nil {
		return bill, fmt.Errorf("refresh bill %s: %w", bill.ID, err)
	}
	if fixedCharge.IsNegative() {
		return bill, fmt.Errorf("refresh bill %s: %w: fixed charge %s is negative",
			bill.ID, validator.ErrInvalidArgument, fixedCharge)
	}

	penalty := decimal.Zero
	if status == db.BillOverdue {
		penalty, err = validator.Penalty(fixedCharge, validator.DaysOverdue(bill.DueDate, now, gracePeriodDays))
		if err != nil {
			return bill, fmt.Errorf("refresh bill %s: %w", bill.ID, err)
		}
	}

	bill.Status = status
	bill.PenaltyAmount = penalty
	bill.TotalAmount = bill.BaseAmount.Add(bill.TaxAmount).Add(penalty)
	return bill, nil
}

// RefreshDue refreshes a bill with the terms it was loaded with
func RefreshDue(due db.DueBill, now time.Time) (db.Bill, error) {
	return Refresh(due.Bill, due.GracePeriodDays, due.FixedCharge, now)
}

// Changed reports whether any derived field differs between two versions of a bill
func Changed(before, after db.Bill) bool {
	return before.Status != after.Status ||
		!before.PenaltyAmount.Equal(after.PenaltyAmount) ||
		!before.TotalAmount.Equal(after.TotalAmount)
}

// Outstanding reports whether a refreshed bill still has to be paid
func Outstanding(bill db.Bill) bool {
	return bill.Status != db.BillPaid
}
