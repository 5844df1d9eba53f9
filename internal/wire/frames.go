// ABOUTME: WebSocket frame envelope and the closed set of frame variants
// ABOUTME: Decoding maps anything unparseable to an explicit UnknownFrame

package wire

import (
	"encoding/json"
	"fmt"
)

// Frame types from client to server
const (
	TypeAuth       = "auth"
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
	TypePing       = "ping"
)

// Frame types from server to client
const (
	TypeConnected   = "connected"
	TypeNewMessage  = "new_message"
	TypeMessageRead = "message_read"
	TypePong        = "pong"
)

// Envelope is the outer shape of every frame on the wire.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ClientFrame is the closed set of frames a client may send.
// Exactly one of the concrete types below is returned by DecodeClient.
type ClientFrame interface {
	frameType() string
}

// AuthFrame binds the connection to a (user, conversation) pair.
type AuthFrame struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// TypingFrame signals the user is composing a message.
type TypingFrame struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// StopTypingFrame signals the user stopped composing.
type StopTypingFrame struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// PingFrame is an application-level liveness probe.
type PingFrame struct{}

// UnknownFrame carries anything that failed to parse as a known frame.
// Handled by the non-fatal logging path, never torn down on.
type UnknownFrame struct {
	Type string
	Raw  []byte
	Err  error
}

func (AuthFrame) frameType() string       { return TypeAuth }
func (TypingFrame) frameType() string     { return TypeTyping }
func (StopTypingFrame) frameType() string { return TypeStopTyping }
func (PingFrame) frameType() string       { return TypePing }
func (UnknownFrame) frameType() string    { return "unknown" }

// DecodeClient parses raw bytes into one of the client frame variants.
// It never returns an error: malformed input becomes an UnknownFrame so the
// caller can log and keep the connection alive.
func DecodeClient(data []byte) ClientFrame {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return UnknownFrame{Raw: data, Err: fmt.Errorf("invalid envelope: %w", err)}
	}

	switch env.Type {
	case TypeAuth:
		var f AuthFrame
		if err := json.Unmarshal(env.Data, &f); err != nil {
			return UnknownFrame{Type: env.Type, Raw: data, Err: err}
		}
		return f
	case TypeTyping:
		var f TypingFrame
		if err := json.Unmarshal(env.Data, &f); err != nil {
			return UnknownFrame{Type: env.Type, Raw: data, Err: err}
		}
		return f
	case TypeStopTyping:
		var f StopTypingFrame
		if err := json.Unmarshal(env.Data, &f); err != nil {
			return UnknownFrame{Type: env.Type, Raw: data, Err: err}
		}
		return f
	case TypePing:
		return PingFrame{}
	default:
		return UnknownFrame{Type: env.Type, Raw: data, Err: fmt.Errorf("unknown frame type %q", env.Type)}
	}
}

// ConnectedData is the payload of the greeting sent on accept.
type ConnectedData struct {
	Message string `json:"message"`
}

// MessageReadData is the payload of a message_read event.
type MessageReadData struct {
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId"`
}

// UserData is the payload of server-relayed typing and stop_typing events.
type UserData struct {
	UserID string `json:"userId"`
}

// Encode wraps a payload in the frame envelope and marshals it.
func Encode(frameType string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", frameType, err)
		}
		data = b
	}
	return json.Marshal(Envelope{Type: frameType, Data: data})
}
