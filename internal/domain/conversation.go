package domain

import "time"

// ConversationStatus enumerates conversation lifecycle states.
type ConversationStatus string

const (
	ConversationStatusOpen   ConversationStatus = "open"
	ConversationStatusClosed ConversationStatus = "closed"
)

// Valid reports whether the status is a known value.
func (s ConversationStatus) Valid() bool {
	return s == ConversationStatusOpen || s == ConversationStatusClosed
}

// Conversation is the thread between one customer and the hotel staff.
type Conversation struct {
	ID              string
	CustomerID      int64
	CustomerEmail   string
	CustomerName    string
	AssignedStaffID *int64
	Status          ConversationStatus
	LastMessage     *string
	LastMessageAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// UnreadCount is computed per viewer when listing.
	UnreadCount int
}

// IsOpen reports whether the conversation accepts messages.
func (c *Conversation) IsOpen() bool {
	return c.Status == ConversationStatusOpen
}

// ActivityAt is the timestamp conversations are ordered by.
func (c *Conversation) ActivityAt() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}
