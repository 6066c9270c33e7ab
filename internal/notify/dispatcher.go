package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-worker/internal/clock"
	"github.com/septivank/utility-billing-worker/internal/db"
	"github.com/septivank/utility-billing-worker/internal/metrics"
	"go.uber.org/zap"
)

// Store appends stored notifications
type Store interface {
	AppendNotification(ctx context.Context, n *db.Notification) error
}

// AcquireFunc hands out a store scoped to one event; release is called before the
// dispatcher waits for the next one.
type AcquireFunc func(ctx context.Context) (store Store, release func(), err error)

// Forwarder fans a stored notification out to downstream delivery
type Forwarder interface {
	PublishNotification(ctx context.Context, n db.Notification) error
}

// DispatcherConfig holds dispatcher dependencies and settings
type DispatcherConfig struct {
	Queue   *Queue
	Acquire AcquireFunc
	Clock   clock.Clock
	Logger  *zap.Logger

	// Forwarder is optional
	Forwarder Forwarder

	// OnFailure is optional and called with every event that could not be stored
	OnFailure func(Event)

	// Timeout bounds the persistence of a single event
	Timeout time.Duration
}

// Dispatcher drains the queue and stores each event as a notification
type Dispatcher struct {
	queue     *Queue
	acquire   AcquireFunc
	clock     clock.Clock
	logger    *zap.Logger
	forwarder Forwarder
	onFailure func(Event)
	timeout   time.Duration
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		queue:     cfg.Queue,
		acquire:   cfg.Acquire,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		forwarder: cfg.Forwarder,
		onFailure: cfg.OnFailure,
		timeout:   cfg.Timeout,
	}
}

// Run consumes events until ctx is cancelled. A failed event is logged and skipped;
// the event being dispatched when ctx is cancelled is still completed.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("notification dispatcher started")

	for {
		event, err := d.queue.Next(ctx)
		if err != nil {
			d.logger.Info("notification dispatcher stopped", zap.Int("pending", d.queue.Len()))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		metrics.SetQueueDepth(d.queue.Len())

		start := time.Now()
		err = d.Dispatch(context.WithoutCancel(ctx), event)
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
			d.logger.Error("failed to dispatch notification",
				zap.Error(err),
				zap.String("type", string(event.Type)),
				zap.String("user_id", event.UserID.String()),
			)
		}
		metrics.ObserveDispatch(string(event.Type), result, time.Since(start))
	}
}

// Dispatch stores a single event and forwards the stored notification.
// The store handle is released before forwarding.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
		if err != nil && d.onFailure != nil {
			d.onFailure(event)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	n := d.toNotification(event)
	if err := d.store(ctx, &n); err != nil {
		return err
	}

	d.logger.Debug("notification stored",
		zap.String("notification_id", n.ID.String()),
		zap.String("type", n.Type),
		zap.String("user_id", n.UserID.String()),
	)

	if d.forwarder != nil {
		if err := d.forwarder.PublishNotification(ctx, n); err != nil {
			d.logger.Warn("failed to forward notification",
				zap.Error(err),
				zap.String("notification_id", n.ID.String()),
			)
		}
	}

	return nil
}

func (d *Dispatcher) store(ctx context.Context, n *db.Notification) error {
	store, release, err := d.acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire notification store: %w", err)
	}
	defer release()

	if err := store.AppendNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to append notification: %w", err)
	}
	return nil
}

func (d *Dispatcher) toNotification(event Event) db.Notification {
	n := db.Notification{
		ID:        uuid.New(),
		UserID:    event.UserID,
		BillID:    event.BillID,
		Type:      string(event.Type),
		Title:     event.Title,
		Message:   event.Message,
		IsRead:    false,
		CreatedAt: d.clock.Now(),
	}
	if key := event.DedupKey(); key != nil {
		s := key.String()
		n.DedupKey = &s
	}
	return n
}
