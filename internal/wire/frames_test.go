// ABOUTME: Tests for frame decoding and encoding
// ABOUTME: Covers every client frame variant and the unknown/malformed path

package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClient_Auth(t *testing.T) {
	frame := DecodeClient([]byte(`{"type":"auth","data":{"userId":"u1","conversationId":"c7"}}`))

	auth, ok := frame.(AuthFrame)
	require.True(t, ok, "expected AuthFrame, got %T", frame)
	assert.Equal(t, "u1", auth.UserID)
	assert.Equal(t, "c7", auth.ConversationID)
}

func TestDecodeClient_Typing(t *testing.T) {
	frame := DecodeClient([]byte(`{"type":"typing","data":{"conversationId":"c7","userId":"u1"}}`))

	typing, ok := frame.(TypingFrame)
	require.True(t, ok, "expected TypingFrame, got %T", frame)
	assert.Equal(t, "u1", typing.UserID)
	assert.Equal(t, "c7", typing.ConversationID)
}

func TestDecodeClient_StopTyping(t *testing.T) {
	frame := DecodeClient([]byte(`{"type":"stop_typing","data":{"conversationId":"c7","userId":"u1"}}`))

	stop, ok := frame.(StopTypingFrame)
	require.True(t, ok, "expected StopTypingFrame, got %T", frame)
	assert.Equal(t, "u1", stop.UserID)
}

func TestDecodeClient_Ping(t *testing.T) {
	frame := DecodeClient([]byte(`{"type":"ping"}`))

	_, ok := frame.(PingFrame)
	assert.True(t, ok, "expected PingFrame, got %T", frame)
}

func TestDecodeClient_UnknownType(t *testing.T) {
	frame := DecodeClient([]byte(`{"type":"teleport","data":{}}`))

	unknown, ok := frame.(UnknownFrame)
	require.True(t, ok, "expected UnknownFrame, got %T", frame)
	assert.Equal(t, "teleport", unknown.Type)
	assert.Error(t, unknown.Err)
}

func TestDecodeClient_MalformedJSON(t *testing.T) {
	frame := DecodeClient([]byte(`{not json`))

	unknown, ok := frame.(UnknownFrame)
	require.True(t, ok, "expected UnknownFrame, got %T", frame)
	assert.Error(t, unknown.Err)
}

func TestDecodeClient_MalformedPayload(t *testing.T) {
	frame := DecodeClient([]byte(`{"type":"auth","data":42}`))

	unknown, ok := frame.(UnknownFrame)
	require.True(t, ok, "expected UnknownFrame, got %T", frame)
	assert.Equal(t, TypeAuth, unknown.Type)
}

func TestEncode_RoundTrip(t *testing.T) {
	data, err := Encode(TypeMessageRead, MessageReadData{
		MessageIDs: []string{"m1", "m2"},
		UserID:     "u2",
	})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, TypeMessageRead, env.Type)

	var payload MessageReadData
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, []string{"m1", "m2"}, payload.MessageIDs)
	assert.Equal(t, "u2", payload.UserID)
}

func TestEncode_NilPayload(t *testing.T) {
	data, err := Encode(TypePong, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))
}
