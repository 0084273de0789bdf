package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Client to server events.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTyping            = "typing"
	EventMarkRead          = "mark_read"
	EventCloseConversation = "close_conversation"
)

// Server to client events.
const (
	EventConversationMessages = "conversation_messages"
	EventNewMessage           = "new_message"
	EventUserTyping           = "user_typing"
	EventMessagesRead         = "messages_read"
	EventAdminOnline          = "admin_online"
	EventAdminOffline         = "admin_offline"
	EventConversationClosed   = "conversation_closed"
	EventConversationReopened = "conversation_reopened"
	EventNewConversation      = "new_conversation"
	EventError                = "error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds an outbound frame.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode parses an inbound frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return Envelope{}, errors.New("missing event name")
	}
	return env, nil
}

// ConversationRef names a conversation. Clients may send either the bare id
// string or an object carrying conversation_id.
type ConversationRef struct {
	ConversationID string `json:"conversation_id"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ConversationRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ConversationID)
	}
	type plain ConversationRef
	return json.Unmarshal(data, (*plain)(r))
}

// SendMessagePayload is the send_message payload.
type SendMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// TypingPayload is the typing payload.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// UserTypingPayload is relayed to the other participants.
type UserTypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	UserName       string `json:"user_name"`
	IsTyping       bool   `json:"is_typing"`
}

// MessagesReadPayload announces a read receipt.
type MessagesReadPayload struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       int64  `json:"reader_id"`
}

// AdminPresencePayload announces a staff member going on or offline.
type AdminPresencePayload struct {
	AdminID int64 `json:"admin_id"`
}

// ConversationStatusPayload announces close and reopen.
type ConversationStatusPayload struct {
	ConversationID string `json:"conversation_id"`
}

// ErrorPayload is sent to the connection whose operation failed.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
