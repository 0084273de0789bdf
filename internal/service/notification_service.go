package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/guest-messaging/internal/domain"
	"github.com/spec-kit/guest-messaging/internal/events"
)

const previewLength = 120

// NotificationPublisher ships notification records to downstream notifiers.
type NotificationPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Notification is the record written for offline delivery (push, email).
type Notification struct {
	EventID        string            `json:"event_id"`
	Type           events.EventType  `json:"type"`
	ConversationID string            `json:"conversation_id"`
	CustomerID     int64             `json:"customer_id"`
	Recipient      string            `json:"recipient"`
	SenderID       int64             `json:"sender_id"`
	SenderType     domain.SenderType `json:"sender_type"`
	SenderName     string            `json:"sender_name,omitempty"`
	Preview        string            `json:"preview,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

// Recipients of a notification record.
const (
	RecipientStaff    = "staff"
	RecipientCustomer = "customer"
)

// NotificationService turns domain events into notification records.
type NotificationService struct {
	dispatcher events.Dispatcher
	publisher  NotificationPublisher
	logger     *zap.Logger
}

// NewNotificationService creates the service. A nil publisher only logs.
func NewNotificationService(dispatcher events.Dispatcher, publisher NotificationPublisher, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventMessageCreated, n.handleMessageCreated)
	n.dispatcher.Subscribe(events.EventConversationClosed, n.handleConversationClosed)
}

func (n *NotificationService) handleMessageCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.MessageCreatedPayload)
	if !ok {
		return nil
	}
	msg := payload.Message
	recipient := RecipientStaff
	if msg.SenderType == domain.SenderTypeAdmin {
		recipient = RecipientCustomer
	}
	return n.send(ctx, Notification{
		EventID:        event.ID,
		Type:           event.Type,
		ConversationID: event.ConversationID,
		CustomerID:     event.CustomerID,
		Recipient:      recipient,
		SenderID:       msg.SenderID,
		SenderType:     msg.SenderType,
		SenderName:     msg.SenderName,
		Preview:        stringPreview(msg.Content, previewLength),
		OccurredAt:     event.Timestamp,
	})
}

func (n *NotificationService) handleConversationClosed(ctx context.Context, event events.Event) error {
	return n.send(ctx, Notification{
		EventID:        event.ID,
		Type:           event.Type,
		ConversationID: event.ConversationID,
		CustomerID:     event.CustomerID,
		Recipient:      RecipientCustomer,
		SenderID:       event.Actor.ID,
		SenderType:     event.Actor.Type,
		SenderName:     event.Actor.Name,
		OccurredAt:     event.Timestamp,
	})
}

func (n *NotificationService) send(ctx context.Context, record Notification) error {
	if n.publisher == nil {
		n.logger.Debug("notification",
			zap.String("type", string(record.Type)),
			zap.String("conversation_id", record.ConversationID),
			zap.String("recipient", record.Recipient))
		return nil
	}
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}
	// the record outlives the request that produced it
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := n.publisher.Publish(ctx, record.ConversationID, body); err != nil {
		n.logger.Warn("publish notification failed",
			zap.Error(err),
			zap.String("type", string(record.Type)),
			zap.String("conversation_id", record.ConversationID))
		return err
	}
	return nil
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
