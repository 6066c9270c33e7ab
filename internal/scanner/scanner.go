package scanner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/septivank/utility-billing-worker/internal/billing"
	"github.com/septivank/utility-billing-worker/internal/clock"
	"github.com/septivank/utility-billing-worker/internal/db"
	"github.com/septivank/utility-billing-worker/internal/metrics"
	"github.com/septivank/utility-billing-worker/internal/notify"
	"github.com/septivank/utility-billing-worker/internal/repository"
	"github.com/septivank/utility-billing-worker/tools/dateutil"
	"go.uber.org/zap"
)

// State is the scanner's position in its tick loop
type State int32

const (
	StateIdle State = iota
	StateScanning
)

func (s State) String() string {
	if s == StateScanning {
		return "scanning"
	}
	return "idle"
}

// reminderStatuses are the stored statuses that can still receive an upcoming-due reminder
var reminderStatuses = []db.BillStatus{db.BillGenerated, db.BillDue}

// Store is the slice of the record store the scanner needs
type Store interface {
	FindBillsDueOn(ctx context.Context, date time.Time, statuses []db.BillStatus) ([]db.DueBill, error)
	SaveBill(ctx context.Context, bill *db.Bill) error
	NotificationExists(ctx context.Context, dedupKey string) (bool, error)
}

// AcquireFunc hands out a store scoped to one tick
type AcquireFunc func(ctx context.Context) (store Store, release func(), err error)

// Publisher receives reminder events
type Publisher interface {
	Publish(event notify.Event)
}

// Config holds scanner dependencies and settings
type Config struct {
	Acquire   AcquireFunc
	Publisher Publisher
	Clock     clock.Clock
	Logger    *zap.Logger

	// Interval is the delay between the end of one tick and the start of the next
	Interval time.Duration

	// Offsets are the days-before-due at which reminders are sent
	Offsets []int

	// Location defines calendar days; defaults to UTC
	Location *time.Location

	// TickTimeout bounds a single tick
	TickTimeout time.Duration
}

// Result summarizes one tick
type Result struct {
	Candidates int
	Published  int
	Suppressed int
	Skipped    int
	Failed     int
}

// Scanner periodically publishes deduplicated due-date reminders
type Scanner struct {
	acquire     AcquireFunc
	publisher   Publisher
	clock       clock.Clock
	logger      *zap.Logger
	interval    time.Duration
	offsets     []int
	location    *time.Location
	tickTimeout time.Duration

	state atomic.Int32

	mu      sync.Mutex
	sentDay time.Time
	sent    map[string]struct{}
}

// DefaultOffsets are the reminder offsets in days before the due date
func DefaultOffsets() []int {
	return []int{7, 3, 0}
}

// New creates a new scanner
func New(cfg Config) *Scanner {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if len(cfg.Offsets) == 0 {
		cfg.Offsets = DefaultOffsets()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 5 * time.Minute
	}
	return &Scanner{
		acquire:     cfg.Acquire,
		publisher:   cfg.Publisher,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		interval:    cfg.Interval,
		offsets:     cfg.Offsets,
		location:    cfg.Location,
		tickTimeout: cfg.TickTimeout,
		sent:        make(map[string]struct{}),
	}
}

// State returns whether a tick is in progress
func (s *Scanner) State() State {
	return State(s.state.Load())
}

// Run ticks immediately and then every interval until ctx is cancelled.
// A failed tick is logged; the tick in progress at cancellation runs to completion.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("due date scanner started",
		zap.Duration("interval", s.interval),
		zap.Ints("offsets", s.offsets),
		zap.String("location", s.location.String()),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("due date scanner stopped")
			return nil
		case <-timer.C:
			tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.tickTimeout)
			if _, err := s.Tick(tickCtx); err != nil {
				s.logger.Error("due date scan failed", zap.Error(err))
			}
			cancel()
			timer.Reset(s.interval)
		}
	}
}

// Tick runs one scan. Failures for one offset or bill do not stop the others;
// they are joined into the returned error.
func (s *Scanner) Tick(ctx context.Context) (Result, error) {
	s.state.Store(int32(StateScanning))
	defer s.state.Store(int32(StateIdle))

	start := time.Now()
	now := s.clock.Now().In(s.location)
	today := dateutil.StartOfDay(now)
	s.resetSent(today)

	var result Result
	err := s.scan(ctx, now, today, &result)

	outcome := metrics.ResultSuccess
	if err != nil {
		outcome = metrics.ResultError
	}
	metrics.ObserveScanTick(outcome, time.Since(start))

	s.logger.Info("due date scan completed",
		zap.String("scan_date", today.Format(dateutil.DateLayout)),
		zap.Duration("duration", time.Since(start)),
		zap.Int("candidates", result.Candidates),
		zap.Int("published", result.Published),
		zap.Int("suppressed", result.Suppressed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)

	return result, err
}

func (s *Scanner) scan(ctx context.Context, now, today time.Time, result *Result) error {
	store, release, err := s.acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire record store: %w", err)
	}
	defer release()

	var errs []error
	for _, offset := range s.offsets {
		target := today.AddDate(0, 0, offset)

		bills, err := store.FindBillsDueOn(ctx, target, reminderStatuses)
		if err != nil {
			errs = append(errs, fmt.Errorf("load bills due on %s: %w", target.Format(dateutil.DateLayout), err))
			continue
		}

		for _, due := range bills {
			result.Candidates++
			outcome, err := s.remind(ctx, store, due, offset, now, today)
			metrics.IncReminder(strconv.Itoa(offset), outcome)

			switch outcome {
			case metrics.ReminderPublished:
				result.Published++
			case metrics.ReminderSuppressed:
				result.Suppressed++
			case metrics.ReminderSkipped:
				result.Skipped++
			default:
				result.Failed++
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

func (s *Scanner) remind(ctx context.Context, store Store, due db.DueBill, offset int, now, today time.Time) (string, error) {
	logger := s.logger.With(
		zap.String("bill_id", due.Bill.ID.String()),
		zap.Int("offset_days", offset),
	)

	bill, err := billing.RefreshDue(due, now)
	if err != nil {
		logger.Error("failed to refresh bill", zap.Error(err))
		return metrics.ReminderFailed, fmt.Errorf("bill %s: %w", due.Bill.ID, err)
	}

	if billing.Changed(due.Bill, bill) {
		err := store.SaveBill(ctx, &bill)
		if errors.Is(err, repository.ErrBillSettled) {
			logger.Debug("bill settled since it was loaded")
			return metrics.ReminderSkipped, nil
		}
		if err != nil {
			logger.Warn("failed to persist refreshed bill", zap.Error(err))
		}
	}

	if bill.Status != db.BillGenerated && bill.Status != db.BillDue {
		logger.Debug("bill no longer eligible for reminder", zap.String("status", string(bill.Status)))
		return metrics.ReminderSkipped, nil
	}

	event := notify.NewDueDateReminder(bill.UserID, bill.ID, bill.TotalAmount, bill.DueDate, today, offset)
	key := event.DedupKey().String()

	if s.wasSent(key) {
		logger.Debug("reminder already published this scan day", zap.String("dedup_key", key))
		return metrics.ReminderSuppressed, nil
	}

	exists, err := store.NotificationExists(ctx, key)
	if err != nil {
		logger.Error("failed to check reminder dedup key", zap.Error(err))
		return metrics.ReminderFailed, fmt.Errorf("bill %s dedup check: %w", bill.ID, err)
	}
	if exists {
		logger.Debug("duplicate reminder suppressed", zap.String("dedup_key", key))
		s.markSent(key)
		return metrics.ReminderSuppressed, nil
	}

	s.publisher.Publish(event)
	s.markSent(key)
	logger.Info("due date reminder published", zap.String("dedup_key", key))
	return metrics.ReminderPublished, nil
}

// Forget drops a reminder from the keys published today so that the next tick can
// publish it again. The dispatcher calls it for every event it could not store.
func (s *Scanner) Forget(event notify.Event) {
	key := event.DedupKey()
	if key == nil {
		return
	}
	s.mu.Lock()
	delete(s.sent, key.String())
	s.mu.Unlock()
}

func (s *Scanner) resetSent(today time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sentDay.Equal(today) {
		s.sentDay = today
		s.sent = make(map[string]struct{})
	}
}

func (s *Scanner) wasSent(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sent[key]
	return ok
}

func (s *Scanner) markSent(key string) {
	s.mu.Lock()
	s.sent[key] = struct{}{}
	s.mu.Unlock()
}
