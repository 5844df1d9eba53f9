// ABOUTME: Per-connection state machine for the conversation wire protocol
// ABOUTME: Unauthenticated until a valid auth frame, then Active until transport close

package session

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/pawhaven/chat-gateway/internal/broadcast"
	"github.com/pawhaven/chat-gateway/internal/presence"
	"github.com/pawhaven/chat-gateway/internal/store"
	"github.com/pawhaven/chat-gateway/internal/wire"
)

// state of a session's protocol machine
type state int

const (
	stateUnauthenticated state = iota
	stateActive
	stateClosed
)

// ConversationGetter is the slice of the store the session needs to verify
// that an auth frame names a conversation the user participates in.
type ConversationGetter interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
}

// Session drives the protocol state machine for one connection. Frames for
// a single session are handled in arrival order by the connection's read
// loop; different sessions run concurrently.
type Session struct {
	conn     presence.Conn
	registry *presence.Registry
	router   *broadcast.Router
	convs    ConversationGetter
	limiter  *rate.Limiter
	logger   *slog.Logger

	state          state
	userID         string
	conversationID string
}

// NewSession creates a session in the Unauthenticated state. frameRate
// caps inbound frames per second (burst frameBurst); a non-positive rate
// disables the cap.
func NewSession(conn presence.Conn, registry *presence.Registry, router *broadcast.Router, convs ConversationGetter, frameRate float64, frameBurst int, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if frameRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(frameRate), frameBurst)
	}
	return &Session{
		conn:     conn,
		registry: registry,
		router:   router,
		convs:    convs,
		limiter:  limiter,
		logger:   logger.With("component", "session"),
	}
}

// HandleFrame processes one inbound frame. Malformed or unexpected frames
// are logged and ignored; they never terminate the session.
func (s *Session) HandleFrame(ctx context.Context, data []byte) {
	if s.state == stateClosed {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Debug("frame dropped by rate limit", "user_id", s.userID)
		return
	}

	switch frame := wire.DecodeClient(data).(type) {
	case wire.AuthFrame:
		s.handleAuth(ctx, frame)
	case wire.TypingFrame:
		s.relayTyping(wire.TypeTyping)
	case wire.StopTypingFrame:
		s.relayTyping(wire.TypeStopTyping)
	case wire.PingFrame:
		s.handlePing()
	case wire.UnknownFrame:
		s.logger.Warn("unrecognized frame",
			"frame_type", frame.Type,
			"error", frame.Err)
	}
}

// handleAuth validates the claimed (user, conversation) pair and binds the
// connection. The user must be a participant of the conversation; a failed
// check leaves the session Unauthenticated. Re-authenticating an Active
// session rebinds it, which lets a client switch conversations on one
// socket.
func (s *Session) handleAuth(ctx context.Context, frame wire.AuthFrame) {
	if frame.UserID == "" || frame.ConversationID == "" {
		s.logger.Warn("auth frame missing user or conversation id")
		return
	}

	conv, err := s.convs.GetConversation(ctx, frame.ConversationID)
	if err != nil {
		s.logger.Warn("auth rejected: conversation lookup failed",
			"conversation_id", frame.ConversationID,
			"error", err)
		return
	}
	if !conv.HasParticipant(frame.UserID) {
		s.logger.Warn("auth rejected: user is not a participant",
			"conversation_id", frame.ConversationID,
			"user_id", frame.UserID)
		return
	}

	s.userID = frame.UserID
	s.conversationID = frame.ConversationID
	s.state = stateActive
	s.registry.Bind(s.conn, frame.UserID, frame.ConversationID)

	s.logger.Info("session authenticated",
		"user_id", frame.UserID,
		"conversation_id", frame.ConversationID)
}

// relayTyping republishes a typing or stop_typing event to the other
// connections bound to this session's conversation. The session's own
// binding is authoritative for both user and conversation id, so a client
// cannot inject indicators into a conversation it did not auth into.
func (s *Session) relayTyping(frameType string) {
	if s.state != stateActive {
		s.logger.Debug("ignoring frame before auth", "frame_type", frameType)
		return
	}
	s.router.Publish(s.conversationID, frameType, wire.UserData{UserID: s.userID}, s.conn)
}

// handlePing answers the sender directly; the broadcast router is not
// involved. Before auth the only frame a session accepts is auth itself,
// so an unauthenticated ping is dropped like any other frame.
func (s *Session) handlePing() {
	if s.state != stateActive {
		s.logger.Debug("ignoring frame before auth", "frame_type", wire.TypePing)
		return
	}
	data, err := wire.Encode(wire.TypePong, nil)
	if err != nil {
		return
	}
	if err := s.conn.Send(data); err != nil {
		s.logger.Debug("pong not delivered", "error", err)
	}
}

// Close transitions the session to its terminal state and unbinds
// presence. Safe to call for a session that never authenticated.
func (s *Session) Close() {
	if s.state == stateClosed {
		return
	}
	s.state = stateClosed
	s.registry.Unbind(s.conn)
	if s.userID != "" {
		s.logger.Info("session closed",
			"user_id", s.userID,
			"conversation_id", s.conversationID)
	}
}
