package dto

import (
	"time"

	"github.com/spec-kit/guest-messaging/internal/domain"
)

// CreateConversationRequest payload. Customers may omit every field.
type CreateConversationRequest struct {
	CustomerID    *int64 `json:"customer_id"`
	CustomerEmail string `json:"customer_email"`
	CustomerName  string `json:"customer_name"`
}

// SendMessageRequest payload.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// ConversationResponse represents a conversation.
type ConversationResponse struct {
	ID              string                    `json:"id"`
	CustomerID      int64                     `json:"customer_id"`
	CustomerEmail   string                    `json:"customer_email"`
	CustomerName    string                    `json:"customer_name"`
	AssignedStaffID *int64                    `json:"assigned_admin_id"`
	Status          domain.ConversationStatus `json:"status"`
	LastMessage     *string                   `json:"last_message"`
	LastMessageAt   *time.Time                `json:"last_message_at"`
	UnreadCount     int                       `json:"unread_count"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// MessageResponse represents a chat message, on REST and on the socket.
type MessageResponse struct {
	ID             string            `json:"id"`
	Seq            int64             `json:"seq"`
	ConversationID string            `json:"conversation_id"`
	SenderID       int64             `json:"sender_id"`
	SenderType     domain.SenderType `json:"sender_type"`
	SenderName     string            `json:"sender_name"`
	Content        string            `json:"content"`
	IsRead         bool              `json:"is_read"`
	CreatedAt      time.Time         `json:"created_at"`
}

// MarkReadResponse reports how many messages changed state.
type MarkReadResponse struct {
	ConversationID string `json:"conversation_id"`
	Updated        int64  `json:"updated"`
}

// NewConversationResponse maps a domain conversation.
func NewConversationResponse(c *domain.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:              c.ID,
		CustomerID:      c.CustomerID,
		CustomerEmail:   c.CustomerEmail,
		CustomerName:    c.CustomerName,
		AssignedStaffID: c.AssignedStaffID,
		Status:          c.Status,
		LastMessage:     c.LastMessage,
		LastMessageAt:   c.LastMessageAt,
		UnreadCount:     c.UnreadCount,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// NewMessageResponse maps a domain message.
func NewMessageResponse(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		Seq:            m.Seq,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderType:     m.SenderType,
		SenderName:     m.SenderName,
		Content:        m.Content,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt,
	}
}

// NewMessageResponses maps a message list, never returning nil.
func NewMessageResponses(msgs []domain.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, NewMessageResponse(&msgs[i]))
	}
	return out
}
