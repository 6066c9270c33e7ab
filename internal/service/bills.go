package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-worker/internal/billing"
	"github.com/septivank/utility-billing-worker/internal/clock"
	"github.com/septivank/utility-billing-worker/internal/db"
	"github.com/septivank/utility-billing-worker/internal/logging"
	"github.com/septivank/utility-billing-worker/internal/notify"
	"github.com/septivank/utility-billing-worker/internal/repository"
	"github.com/septivank/utility-billing-worker/internal/validator"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyPaid is returned when a payment is recorded against a Paid bill
	ErrAlreadyPaid = errors.New("bill is already paid")

	// ErrInsufficientPayment is returned when a payment is below the refreshed total
	ErrInsufficientPayment = errors.New("payment does not cover the bill total")
)

// BillStore is the part of the record store the bill read paths use
type BillStore interface {
	LoadDueBill(ctx context.Context, id uuid.UUID) (*db.DueBill, error)
	ListDueBillsByUser(ctx context.Context, userID uuid.UUID) ([]db.DueBill, error)
	SaveBill(ctx context.Context, bill *db.Bill) error
	MarkPaid(ctx context.Context, bill *db.Bill) error
}

// BillService serves bills with their status, penalty and total brought up to date
type BillService struct {
	store     BillStore
	publisher EventPublisher
	clock     clock.Clock
	logger    *zap.Logger
}

// NewBillService creates a new bill service
func NewBillService(store BillStore, publisher EventPublisher, clk clock.Clock, logger *zap.Logger) *BillService {
	return &BillService{
		store:     store,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

// Get returns a bill refreshed against the current time
func (s *BillService) Get(ctx context.Context, id uuid.UUID) (*db.Bill, error) {
	due, err := s.store.LoadDueBill(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load bill %s: %w", id, err)
	}

	bill, err := s.refresh(ctx, *due)
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

// ListForUser returns every bill of a user, refreshed
func (s *BillService) ListForUser(ctx context.Context, userID uuid.UUID) ([]db.Bill, error) {
	dues, err := s.store.ListDueBillsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bills for user %s: %w", userID, err)
	}

	bills := make([]db.Bill, 0, len(dues))
	for _, due := range dues {
		bill, err := s.refresh(ctx, due)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	return bills, nil
}

// OutstandingBalance sums the refreshed totals of a user's unpaid bills
func (s *BillService) OutstandingBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	bills, err := s.ListForUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, bill := range bills {
		if billing.Outstanding(bill) {
			total = total.Add(bill.TotalAmount)
		}
	}
	return total, nil
}

// RecordPayment settles a bill in full. The bill is refreshed first so that a penalty
// accrued since the last read is part of the amount owed.
func (s *BillService) RecordPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*db.Bill, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: payment amount %s is negative", validator.ErrInvalidArgument, amount)
	}

	due, err := s.store.LoadDueBill(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load bill %s: %w", id, err)
	}
	if due.Status == db.BillPaid {
		return nil, fmt.Errorf("bill %s: %w", id, ErrAlreadyPaid)
	}

	now := s.clock.Now()
	bill, err := billing.RefreshDue(*due, now)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(bill.TotalAmount) {
		return nil, fmt.Errorf("bill %s: %w: paid %s, owed %s", id, ErrInsufficientPayment, amount, bill.TotalAmount)
	}

	bill.PaidAt = &now
	if err := s.store.MarkPaid(ctx, &bill); err != nil {
		if errors.Is(err, repository.ErrBillSettled) {
			return nil, fmt.Errorf("bill %s: %w: %w", id, ErrAlreadyPaid, err)
		}
		return nil, fmt.Errorf("failed to save payment for bill %s: %w", id, err)
	}

	s.publisher.Publish(notify.NewPaymentReceived(bill.UserID, bill.ID, amount))

	logging.WithBillID(s.logger, bill.ID.String()).Info("payment recorded",
		zap.String("amount", amount.String()),
		zap.String("total", bill.TotalAmount.String()),
		zap.String("penalty", bill.PenaltyAmount.String()),
	)
	return &bill, nil
}

// refresh brings a bill up to date and persists it when a derived field moved.
// A failed save is logged; the refreshed bill is still returned since it is
// recomputed on every read anyway. A bill paid since it was loaded is reloaded
// and returned as stored.
func (s *BillService) refresh(ctx context.Context, due db.DueBill) (db.Bill, error) {
	bill, err := billing.RefreshDue(due, s.clock.Now())
	if err != nil {
		return db.Bill{}, err
	}
	if !billing.Changed(due.Bill, bill) {
		return bill, nil
	}

	err = s.store.SaveBill(ctx, &bill)
	if errors.Is(err, repository.ErrBillSettled) {
		stored, loadErr := s.store.LoadDueBill(ctx, bill.ID)
		if loadErr != nil {
			return db.Bill{}, fmt.Errorf("failed to reload bill %s: %w", bill.ID, loadErr)
		}
		return stored.Bill, nil
	}
	if err != nil {
		logging.WithBillID(s.logger, bill.ID.String()).Error("failed to persist refreshed bill",
			zap.Error(err),
			zap.String("status", string(bill.Status)),
		)
	}
	return bill, nil
}
