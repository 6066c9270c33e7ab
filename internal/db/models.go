package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BillStatus is the derived lifecycle state of a bill
type BillStatus string

const (
	BillGenerated BillStatus = "Generated"
	BillDue       BillStatus = "Due"
	BillOverdue   BillStatus = "Overdue"
	BillPaid      BillStatus = "Paid"
)

// ReadingStatus tracks whether a reading has been consumed by bill generation
type ReadingStatus string

const (
	ReadingReadyForBilling ReadingStatus = "ReadyForBilling"
	ReadingBilled          ReadingStatus = "Billed"
)

// BillingCycle is a recurring monthly schedule shared by utility types
type BillingCycle struct {
	ID              uuid.UUID
	GenerationDay   int
	DueDateOffset   int
	GracePeriodDays int
	IsActive        bool
}

// MeterReading represents a billable reading pair in the database.
// TariffID is the tariff snapshot at reading time and is never re-derived.
type MeterReading struct {
	ID              uuid.UUID
	ConnectionID    uuid.UUID
	BillingCycleID  uuid.UUID
	TariffID        uuid.UUID
	PreviousReading decimal.Decimal
	CurrentReading  decimal.Decimal
	Consumption     decimal.Decimal
	ReadingDate     time.Time
	Status          ReadingStatus
	AnomalyReason   *string
}

// Bill represents a bill in the database.
// Base amounts are immutable after generation; Status, PenaltyAmount and TotalAmount
// are recomputed on every read.
type Bill struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	ConnectionID    uuid.UUID
	ReadingID       uuid.UUID
	BillingCycleID  uuid.UUID
	TariffID        uuid.UUID
	GenerationDate  time.Time
	DueDate         time.Time
	PreviousReading decimal.Decimal
	CurrentReading  decimal.Decimal
	Consumption     decimal.Decimal
	BaseAmount      decimal.Decimal
	TaxAmount       decimal.Decimal
	PenaltyAmount   decimal.Decimal
	TotalAmount     decimal.Decimal
	Status          BillStatus
	PaidAt          *time.Time
}

// DueBill is a bill joined with the terms needed to refresh it:
// the billing cycle's grace period and the tariff's fixed charge.
type DueBill struct {
	Bill
	GracePeriodDays int
	FixedCharge     decimal.Decimal
}

// Notification is a stored, user-facing notification
type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	BillID    *uuid.UUID
	Type      string
	Title     string
	Message   string
	DedupKey  *string
	IsRead    bool
	CreatedAt time.Time
}
