package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-worker/internal/db"
	"github.com/septivank/utility-billing-worker/internal/notify"
	"github.com/septivank/utility-billing-worker/internal/repository"
	"github.com/shopspring/decimal"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(event notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Event(nil), p.events...)
}

type fakeBillStore struct {
	bills       map[uuid.UUID]db.DueBill
	saves       int
	saveErr     error
	listErr     error
	beforeWrite func()
}

func newFakeBillStore(bills ...db.DueBill) *fakeBillStore {
	s := &fakeBillStore{bills: make(map[uuid.UUID]db.DueBill)}
	for _, b := range bills {
		s.bills[b.ID] = b
	}
	return s
}

func (s *fakeBillStore) LoadDueBill(_ context.Context, id uuid.UUID) (*db.DueBill, error) {
	b, ok := s.bills[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (s *fakeBillStore) ListDueBillsByUser(_ context.Context, userID uuid.UUID) ([]db.DueBill, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []db.DueBill
	for _, b := range s.bills {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

// write applies the same guard as the repository: a Paid bill is never overwritten
func (s *fakeBillStore) write(bill *db.Bill) error {
	if s.beforeWrite != nil {
		s.beforeWrite()
	}
	if s.saveErr != nil {
		return s.saveErr
	}
	stored, ok := s.bills[bill.ID]
	if !ok || stored.Bill.Status == db.BillPaid {
		return fmt.Errorf("bill %s: %w", bill.ID, repository.ErrBillSettled)
	}
	s.saves++
	stored.Bill = *bill
	s.bills[bill.ID] = stored
	return nil
}

func (s *fakeBillStore) SaveBill(_ context.Context, bill *db.Bill) error {
	if bill.Status == db.BillPaid {
		return errors.New("paid status must go through MarkPaid")
	}
	return s.write(bill)
}

func (s *fakeBillStore) MarkPaid(_ context.Context, bill *db.Bill) error {
	paid := *bill
	paid.Status = db.BillPaid
	if err := s.write(&paid); err != nil {
		return err
	}
	bill.Status = db.BillPaid
	return nil
}

// payConcurrently marks the stored bill Paid, as if another payment landed first
func (s *fakeBillStore) payConcurrently(id uuid.UUID, at time.Time) {
	stored := s.bills[id]
	stored.Bill.Status = db.BillPaid
	stored.Bill.PaidAt = &at
	s.bills[id] = stored
}

type fakeReadingStore struct {
	readings   map[uuid.UUID]db.MeterReading
	ready      bool
	history    []decimal.Decimal
	historyErr error
	saveErr    error
}

func newFakeReadingStore() *fakeReadingStore {
	return &fakeReadingStore{readings: make(map[uuid.UUID]db.MeterReading)}
}

func (s *fakeReadingStore) LoadReading(_ context.Context, id uuid.UUID) (*db.MeterReading, error) {
	r, ok := s.readings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (s *fakeReadingStore) SaveReading(_ context.Context, reading *db.MeterReading) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.readings[reading.ID] = *reading
	return nil
}

func (s *fakeReadingStore) HasReadyReading(_ context.Context, _, _ uuid.UUID) (bool, error) {
	return s.ready, nil
}

func (s *fakeReadingStore) RecentConsumption(_ context.Context, _ uuid.UUID, _ int) ([]decimal.Decimal, error) {
	return s.history, s.historyErr
}
