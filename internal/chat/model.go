package chat

import "time"

// ---------------------------------------------
// 🗄️ Persisted Models
// ---------------------------------------------

// Kind is the message type carried in the "type" field of a ChatMessage.
type Kind string

const (
	KindChat           Kind = "CHAT"
	KindPrivateMessage Kind = "PRIVATE_MESSAGE"
	KindJoin           Kind = "JOIN"
	KindLeave          Kind = "LEAVE"
	KindTyping         Kind = "TYPING"
	KindFile           Kind = "FILE"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindChat, KindPrivateMessage, KindJoin, KindLeave, KindTyping, KindFile:
		return true
	}
	return false
}

// ChatMessage is immutable once the store has assigned it an ID.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	Sender    string    `json:"sender" validate:"required"`
	Recipient string    `json:"recipient,omitempty"`
	Content   string    `json:"content"`
	Kind      Kind      `json:"type,omitempty"`
	FileRef   string    `json:"fileRef,omitempty" validate:"required_if=Kind FILE"`
	Timestamp time.Time `json:"timestamp"`
	RoomID    string    `json:"roomId,omitempty"`
	Color     string    `json:"color,omitempty"`
}

// ---------------------------------------------
// ⚡ Transient Models
// ---------------------------------------------

// TypingSignal only lives for the duration of a dispatch. It is never persisted.
type TypingSignal struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient" validate:"required"`
	IsTyping  bool   `json:"isTyping"`
}

// Identity is what the AuthGate hands back for a valid credential.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Outbound frame types.
const (
	FrameOnlineUsers    = "online_users"
	FrameJoin           = "join"
	FramePrivateMessage = "private_message"
	FrameTyping         = "typing"
	FrameError          = "error"
)

// TopicOnlineUsers is the broadcast topic every connection listens to.
const TopicOnlineUsers = "online_users"

// Frame is the JSON envelope written to a connection.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ErrorPayload is sent to a sender whose message could not be stored.
type ErrorPayload struct {
	Error string `json:"error"`
}
