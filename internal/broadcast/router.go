// ABOUTME: Best-effort fan-out of conversation events to live connections
// ABOUTME: Exposes the notify API the REST layer calls after durable writes

package broadcast

import (
	"log/slog"

	"github.com/pawhaven/chat-gateway/internal/presence"
	"github.com/pawhaven/chat-gateway/internal/store"
	"github.com/pawhaven/chat-gateway/internal/wire"
)

// Router delivers events to every connection currently bound to a
// conversation. Delivery is at-most-once and best-effort: a connection
// that is unwritable is skipped, never retried or queued. Events are
// already durable in the store before they reach the router, so a missed
// delivery is recoverable by re-fetching the message list.
type Router struct {
	registry *presence.Registry
	logger   *slog.Logger
}

// NewRouter creates a router over the given registry. Pass nil logger for default.
func NewRouter(registry *presence.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		logger:   logger.With("component", "broadcast"),
	}
}

// Publish encodes the frame once and delivers it to every connection bound
// to conversationID except exclude. Failed sends are logged and skipped;
// presence cleanup happens lazily on the connection's own disconnect path,
// not here.
func (r *Router) Publish(conversationID, frameType string, payload any, exclude presence.Conn) {
	data, err := wire.Encode(frameType, payload)
	if err != nil {
		r.logger.Error("failed to encode frame",
			"conversation_id", conversationID,
			"frame_type", frameType,
			"error", err)
		return
	}

	for _, binding := range r.registry.ConnectionsFor(conversationID) {
		if exclude != nil && binding.Conn == exclude {
			continue
		}
		if err := binding.Conn.Send(data); err != nil {
			// Best-effort: skip unwritable connections
			r.logger.Debug("dropped frame for unwritable connection",
				"conversation_id", conversationID,
				"user_id", binding.UserID,
				"frame_type", frameType)
		}
	}
}

// NotifyNewMessage publishes a new_message event carrying the persisted
// message. Callers must only invoke this after the store write succeeded.
func (r *Router) NotifyNewMessage(conversationID string, msg *store.Message) {
	r.Publish(conversationID, wire.TypeNewMessage, msg, nil)
}

// NotifyMessagesRead publishes a message_read event for the ids that were
// flipped by readerID. Callers must only invoke this after the store write
// succeeded.
func (r *Router) NotifyMessagesRead(conversationID string, messageIDs []string, readerID string) {
	if len(messageIDs) == 0 {
		return
	}
	r.Publish(conversationID, wire.TypeMessageRead, wire.MessageReadData{
		MessageIDs: messageIDs,
		UserID:     readerID,
	}, nil)
}
