package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/utility-billing-worker/internal/db"
	"go.uber.org/zap"
)

// Publisher fans stored notifications out to the notifications exchange
type Publisher struct {
	mu         sync.Mutex
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopicExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

// NotificationMessage is the wire form of a stored notification
type NotificationMessage struct {
	NotificationID string  `json:"notification_id"`
	UserID         string  `json:"user_id"`
	BillID         *string `json:"bill_id,omitempty"`
	Type           string  `json:"type"`
	Title          string  `json:"title"`
	Message        string  `json:"message"`
	CreatedAt      string  `json:"created_at"`
}

// NewNotificationMessage converts a stored notification to its wire form
func NewNotificationMessage(n db.Notification) NotificationMessage {
	msg := NotificationMessage{
		NotificationID: n.ID.String(),
		UserID:         n.UserID.String(),
		Type:           n.Type,
		Title:          n.Title,
		Message:        n.Message,
		CreatedAt:      n.CreatedAt.UTC().Format(time.RFC3339),
	}
	if n.BillID != nil {
		id := n.BillID.String()
		msg.BillID = &id
	}
	return msg
}

// PublishNotification publishes a stored notification
func (p *Publisher) PublishNotification(ctx context.Context, n db.Notification) error {
	body, err := json.Marshal(NewNotificationMessage(n))
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    n.ID.String(),
			Timestamp:    n.CreatedAt,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	p.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	p.logger.Debug("published notification",
		zap.String("routing_key", p.routingKey),
		zap.String("notification_id", n.ID.String()),
		zap.String("type", n.Type),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
