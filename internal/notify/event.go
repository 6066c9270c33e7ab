package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-worker/tools/dateutil"
	"github.com/shopspring/decimal"
)

// EventType is a free-form notification tag
type EventType string

const (
	TypeBillGenerated   EventType = "BillGenerated"
	TypePaymentReceived EventType = "PaymentReceived"
	TypeDueDateReminder EventType = "DueDateReminder"
)

// Event is a billing-relevant occurrence to be stored as a user notification
type Event struct {
	UserID  uuid.UUID
	BillID  *uuid.UUID
	Type    EventType
	Title   string
	Message string

	// Reminder is set only for due-date reminders; it feeds the dedup key and is not persisted
	Reminder *Reminder
}

// Reminder carries the context of a due-date reminder
type Reminder struct {
	DueDate      time.Time
	DaysUntilDue int
	Amount       decimal.Decimal
	ScanDate     time.Time
}

// DedupKey identifies a reminder: same bill, same offset, same calendar day
type DedupKey struct {
	BillID     uuid.UUID
	Type       EventType
	OffsetDays int
	Day        time.Time
}

func (k DedupKey) String() string {
	return fmt.Sprintf("%s:%s:%d:%s", k.BillID, k.Type, k.OffsetDays, k.Day.Format(dateutil.DateLayout))
}

// DedupKey returns the reminder identity of the event, or nil when it has none
func (e Event) DedupKey() *DedupKey {
	if e.Reminder == nil || e.BillID == nil {
		return nil
	}
	return &DedupKey{
		BillID:     *e.BillID,
		Type:       e.Type,
		OffsetDays: e.Reminder.DaysUntilDue,
		Day:        e.Reminder.ScanDate,
	}
}

// NewBillGenerated builds the notification for a freshly generated bill
func NewBillGenerated(userID, billID uuid.UUID, amount decimal.Decimal, dueDate time.Time) Event {
	return Event{
		UserID:  userID,
		BillID:  &billID,
		Type:    TypeBillGenerated,
		Title:   "New Bill Generated",
		Message: fmt.Sprintf("A new bill of %s has been generated. Due date: %s.", amount.StringFixed(2), dueDate.Format(dateutil.DateLayout)),
	}
}

// NewPaymentReceived builds the notification for a recorded payment
func NewPaymentReceived(userID, billID uuid.UUID, amount decimal.Decimal) Event {
	return Event{
		UserID:  userID,
		BillID:  &billID,
		Type:    TypePaymentReceived,
		Title:   "Payment Received",
		Message: fmt.Sprintf("Your payment of %s has been received. Thank you.", amount.StringFixed(2)),
	}
}

// NewDueDateReminder builds a reminder for a bill due daysUntilDue days after scanDate
func NewDueDateReminder(userID, billID uuid.UUID, amount decimal.Decimal, dueDate, scanDate time.Time, daysUntilDue int) Event {
	e := Event{
		UserID: userID,
		BillID: &billID,
		Type:   TypeDueDateReminder,
		Reminder: &Reminder{
			DueDate:      dueDate,
			DaysUntilDue: daysUntilDue,
			Amount:       amount,
			ScanDate:     scanDate,
		},
	}

	if daysUntilDue == 0 {
		e.Title = "Bill Due Today"
		e.Message = fmt.Sprintf("Your bill of %s is due today (%s). Please pay to avoid penalties.",
			amount.StringFixed(2), dueDate.Format(dateutil.DateLayout))
	} else {
		e.Title = "Bill Due Soon"
		e.Message = fmt.Sprintf("Your bill of %s is due in %d days on %s.",
			amount.StringFixed(2), daysUntilDue, dueDate.Format(dateutil.DateLayout))
	}
	return e
}
