package events

import (
	"time"

	"github.com/spec-kit/guest-messaging/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventConversationCreated  EventType = "conversation_created"
	EventConversationClosed   EventType = "conversation_closed"
	EventConversationReopened EventType = "conversation_reopened"
	EventMessageCreated       EventType = "message_created"
	EventMessagesRead         EventType = "messages_read"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID   int64             `json:"id"`
	Type domain.SenderType `json:"type"`
	Name string            `json:"name,omitempty"`
}

// ActorFromIdentity describes the identity that caused an event.
func ActorFromIdentity(id domain.Identity) Actor {
	return Actor{ID: id.ID, Type: id.SenderType(), Name: id.Name}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID             string      `json:"id"`
	Type           EventType   `json:"type"`
	ConversationID string      `json:"conversation_id"`
	CustomerID     int64       `json:"customer_id"`
	Actor          Actor       `json:"actor"`
	Timestamp      time.Time   `json:"timestamp"`
	Payload        interface{} `json:"payload"`
}

// ConversationCreatedPayload payload.
type ConversationCreatedPayload struct {
	Conversation domain.Conversation `json:"conversation"`
}

// ConversationStatusPayload is carried by close and reopen events.
type ConversationStatusPayload struct {
	Status domain.ConversationStatus `json:"status"`
}

// MessageCreatedPayload payload.
type MessageCreatedPayload struct {
	Message domain.Message `json:"message"`
}

// MessagesReadPayload payload.
type MessagesReadPayload struct {
	ReaderID   int64             `json:"reader_id"`
	ReaderType domain.SenderType `json:"reader_type"`
	Updated    int64             `json:"updated"`
}
