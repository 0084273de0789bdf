package domain

import "time"

// SenderType indicates which side of the conversation wrote a message.
type SenderType string

const (
	SenderTypeCustomer SenderType = "customer"
	SenderTypeAdmin    SenderType = "admin"
)

// Message is a single chat entry. Content and authorship are immutable; only
// IsRead flips, and only from false to true.
type Message struct {
	ID             string
	Seq            int64
	ConversationID string
	SenderID       int64
	SenderType     SenderType
	SenderName     string
	Content        string
	IsRead         bool
	CreatedAt      time.Time
}

// SentBy reports whether the identity authored the message.
func (m *Message) SentBy(id Identity) bool {
	return m.SenderID == id.ID && m.SenderType == id.SenderType()
}
