package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-worker/internal/logging"
	"github.com/septivank/utility-billing-worker/internal/metrics"
	"github.com/septivank/utility-billing-worker/internal/notify"
	"github.com/septivank/utility-billing-worker/tools/dateutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInvalidEvent is returned for billing event messages that cannot become notifications
var ErrInvalidEvent = errors.New("invalid billing event")

// EventPublisher accepts notification events; *notify.Queue satisfies it
type EventPublisher interface {
	Publish(event notify.Event)
}

// BillingEventMessage is a billing event published by the API layer
type BillingEventMessage struct {
	RequestID  string    `json:"request_id"`
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	BillID     string    `json:"bill_id,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	DueDate    string    `json:"due_date,omitempty"`
	Title      string    `json:"title,omitempty"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventProcessor turns broker messages into queued notification events
type EventProcessor struct {
	publisher EventPublisher
	logger    *zap.Logger
}

// NewEventProcessor creates a new event processor
func NewEventProcessor(publisher EventPublisher, logger *zap.Logger) *EventProcessor {
	return &EventProcessor{publisher: publisher, logger: logger}
}

// ProcessMessage validates a billing event and publishes it onto the notification queue.
// Known types get their standard wording; any other type must carry its own title and message.
func (p *EventProcessor) ProcessMessage(ctx context.Context, body []byte) error {
	var msg BillingEventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		metrics.IncIngress(metrics.ResultError)
		return fmt.Errorf("%w: failed to unmarshal message: %v", ErrInvalidEvent, err)
	}

	reqLogger := logging.WithRequestID(p.logger, msg.RequestID)

	event, err := toEvent(msg)
	if err != nil {
		metrics.IncIngress(metrics.ResultError)
		reqLogger.Warn("rejected billing event", zap.Error(err), zap.String("type", msg.Type))
		return err
	}

	p.publisher.Publish(event)
	metrics.IncIngress(metrics.ResultSuccess)

	reqLogger.Info("billing event queued",
		zap.String("type", string(event.Type)),
		zap.String("user_id", event.UserID.String()),
	)
	return nil
}

func toEvent(msg BillingEventMessage) (notify.Event, error) {
	if msg.Type == "" {
		return notify.Event{}, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}

	userID, err := uuid.Parse(msg.UserID)
	if err != nil {
		return notify.Event{}, fmt.Errorf("%w: invalid user_id %q", ErrInvalidEvent, msg.UserID)
	}

	var billID *uuid.UUID
	if msg.BillID != "" {
		id, err := uuid.Parse(msg.BillID)
		if err != nil {
			return notify.Event{}, fmt.Errorf("%w: invalid bill_id %q", ErrInvalidEvent, msg.BillID)
		}
		billID = &id
	}

	switch notify.EventType(msg.Type) {
	case notify.TypeBillGenerated:
		if billID == nil {
			return notify.Event{}, fmt.Errorf("%w: %s requires bill_id", ErrInvalidEvent, msg.Type)
		}
		amount, err := parseAmount(msg.Amount)
		if err != nil {
			return notify.Event{}, err
		}
		dueDate, err := dateutil.ParseDate(msg.DueDate)
		if err != nil {
			return notify.Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		return notify.NewBillGenerated(userID, *billID, amount, dueDate), nil

	case notify.TypePaymentReceived:
		if billID == nil {
			return notify.Event{}, fmt.Errorf("%w: %s requires bill_id", ErrInvalidEvent, msg.Type)
		}
		amount, err := parseAmount(msg.Amount)
		if err != nil {
			return notify.Event{}, err
		}
		return notify.NewPaymentReceived(userID, *billID, amount), nil

	case notify.TypeDueDateReminder:
		return notify.Event{}, fmt.Errorf("%w: %s is produced by the due date scanner only", ErrInvalidEvent, msg.Type)
	}

	if msg.Title == "" || msg.Message == "" {
		return notify.Event{}, fmt.Errorf("%w: %s requires title and message", ErrInvalidEvent, msg.Type)
	}
	return notify.Event{
		UserID:  userID,
		BillID:  billID,
		Type:    notify.EventType(msg.Type),
		Title:   msg.Title,
		Message: msg.Message,
	}, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %q", ErrInvalidEvent, s)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative amount %s", ErrInvalidEvent, s)
	}
	return amount, nil
}
