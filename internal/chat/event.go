package chat

import (
	"encoding/json"
	"fmt"
)

// Inbound frame types.
const (
	EventJoin           = "join"
	EventPrivateMessage = "private_message"
	EventTyping         = "typing"
)

// Event is one decoded inbound frame. The set of implementations is closed:
// JoinEvent, PrivateMessageEvent and TypingEvent.
type Event interface {
	eventType() string
}

type JoinEvent struct{ Message ChatMessage }

type PrivateMessageEvent struct{ Message ChatMessage }

type TypingEvent struct{ Signal TypingSignal }

func (JoinEvent) eventType() string           { return EventJoin }
func (PrivateMessageEvent) eventType() string { return EventPrivateMessage }
func (TypingEvent) eventType() string         { return EventTyping }

// rawFrame is the JSON the client SENDS to us.
type rawFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEvent parses an inbound frame. Unknown types and malformed payloads
// are reported as ErrValidation.
func DecodeEvent(data []byte) (Event, error) {
	var frame rawFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(frame.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload for %q", ErrValidation, frame.Type)
	}

	switch frame.Type {
	case EventJoin:
		var msg ChatMessage
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return JoinEvent{Message: msg}, nil
	case EventPrivateMessage:
		var msg ChatMessage
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if msg.Kind != "" && !msg.Kind.Valid() {
			return nil, fmt.Errorf("%w: unknown message type %q", ErrValidation, msg.Kind)
		}
		return PrivateMessageEvent{Message: msg}, nil
	case EventTyping:
		var signal TypingSignal
		if err := json.Unmarshal(frame.Payload, &signal); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return TypingEvent{Signal: signal}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, frame.Type)
	}
}
