// ABOUTME: Tests for event envelope encoding and decoding
// ABOUTME: Covers round-trips, missing payloads and unknown-field tolerance

package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	msg := Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Sender:         "mentor-1",
		Content:        "hello",
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	env, err := New(TypeMessageReceived, msg)
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, TypeMessageReceived, decoded.Type)

	var got Message
	require.NoError(t, decoded.Decode(&got))
	assert.Equal(t, msg, got)
}

func TestEnvelope_DecodeEmptyPayload(t *testing.T) {
	env := &Envelope{Type: TypeJoinRoom}
	var ref RoomRef
	assert.Error(t, env.Decode(&ref))
}

func TestEnvelope_DecodeIgnoresUnknownFields(t *testing.T) {
	// Older clients tolerate additions to the protocol
	raw := []byte(`{"type":"typing-started","data":{"conversation_id":"c1","user_id":"u1","extra":true}}`)
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))

	var typing Typing
	require.NoError(t, env.Decode(&typing))
	assert.Equal(t, "c1", typing.ConversationID)
	assert.Equal(t, "u1", typing.UserID)
}

func TestError_Error(t *testing.T) {
	err := &Error{Code: CodeForbidden, Msg: "not a participant"}
	assert.Equal(t, "forbidden: not a participant", err.Error())
}
