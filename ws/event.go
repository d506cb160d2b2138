package ws

import (
	"encoding/json"
	"time"
)

// Event kinds carried over the realtime channel. Every frame, inbound or
// outbound, is an envelope of {type, payload}.
const (
	EventConnect         = "connect"
	EventMessage         = "message"
	EventReadReceipt     = "read_receipt"
	EventUserOnline      = "user_online"
	EventUserOffline     = "user_offline"
	EventTyping          = "typing"
	EventStoppedTyping   = "stopped_typing"
	EventError           = "error"
	EventNewMessage      = "new_message"
	EventMessagesCleared = "messages_cleared"
)

// Event is the wire envelope.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

func (e Event) marshal() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		// payloads are our own structs; this cannot fail at runtime
		return []byte(`{"type":"error","payload":{"code":"internal"}}`)
	}
	return b
}

// inboundEnvelope is what clients send; the payload stays raw until the
// type is known.
type inboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type connectPayload struct {
	UserID        uint   `json:"user_id"`
	OnlineUserIDs []uint `json:"online_user_ids"`
}

type presencePayload struct {
	UserID uint `json:"user_id"`
}

type typingPayload struct {
	ConversationID uint `json:"conversation_id"`
	UserID         uint `json:"user_id"`
}

type readReceiptPayload struct {
	MessageID      uint       `json:"message_id"`
	ConversationID uint       `json:"conversation_id"`
	ReaderID       uint       `json:"reader_id"`
	ReadAt         *time.Time `json:"read_at"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// MessagesClearedPayload notifies participants that a conversation's
// messages were bulk-deleted. Exported because the HTTP controller emits
// it too.
type MessagesClearedPayload struct {
	ConversationID uint `json:"conversation_id"`
	ClearedBy      uint `json:"cleared_by"`
}

// NewMessagePayload wraps a freshly persisted message. TempID echoes the
// client-side placeholder id so optimistic UI state can be reconciled.
type NewMessagePayload struct {
	Message interface{} `json:"message"`
	TempID  string      `json:"temp_id,omitempty"`
}
