// ABOUTME: Wire protocol for the live event channel between clients and the gateway
// ABOUTME: Defines the envelope, event type constants and typed payloads

package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client -> server event types.
const (
	TypeJoinRoom    = "join-room"
	TypeLeaveRoom   = "leave-room"
	TypeTypingStart = "typing-start"
	TypeTypingStop  = "typing-stop"
	TypeReadMarked  = "read-marked"
	TypePing        = "ping"
)

// Server -> client event types.
const (
	TypeMessageReceived = "message-received"
	TypeTypingStarted   = "typing-started"
	TypeTypingStopped   = "typing-stopped"
	TypeRoomJoined      = "room-joined"
	TypeReadReceipt     = "read-receipt"
	TypeError           = "error"
	TypePong            = "pong"
)

// Envelope is the framing for every event on the channel. Data is kept raw
// on decode so the receiver can pick the payload type from Type.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New builds an envelope with the payload marshaled into Data.
func New(eventType string, payload any) (*Envelope, error) {
	env := &Envelope{Type: eventType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s payload: %w", eventType, err)
		}
		env.Data = data
	}
	return env, nil
}

// MustNew is New for payloads that cannot fail to marshal. It panics on
// error and is intended for struct literals defined in this package.
func MustNew(eventType string, payload any) *Envelope {
	env, err := New(eventType, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s event has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("unmarshaling %s payload: %w", e.Type, err)
	}
	return nil
}

// RoomRef targets a conversation room. Used by join-room, leave-room,
// typing-start and typing-stop in the client->server direction.
type RoomRef struct {
	ConversationID string `json:"conversation_id"`
}

// Message is the payload of message-received. It mirrors the stored message,
// including the store-assigned ID used for dedup-by-identifier and the
// store-assigned timestamp used for ordering.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	ReadBy         []string  `json:"read_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Typing is the payload of typing-started / typing-stopped relays.
type Typing struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// RoomJoined acknowledges a successful join-room.
type RoomJoined struct {
	ConversationID string `json:"conversation_id"`
}

// ReadReceipt notifies room members that a user marked the conversation read.
type ReadReceipt struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Count          int64  `json:"count"`
}

// Error is a protocol-level error delivered on the channel.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Error codes carried in Error.Code.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeInternal     = "internal_error"
)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}
