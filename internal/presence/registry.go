// ABOUTME: In-memory registry mapping live connections to (user, conversation) bindings
// ABOUTME: Process-local only; a restart clears all presence state by design

package presence

import (
	"log/slog"
	"sync"
)

// Conn is the minimal connection surface the registry and router need.
// Send must be safe for concurrent use and must not block; implementations
// return an error when the connection is no longer writable.
type Conn interface {
	Send(payload []byte) error
}

// Binding associates a live connection with the user and conversation it
// authenticated into.
type Binding struct {
	Conn           Conn
	UserID         string
	ConversationID string
}

// Registry tracks which connections are currently bound to which
// conversation. It holds no persistent state: bindings live and die with
// the server process, and clients re-authenticate on reconnect.
type Registry struct {
	mu            sync.RWMutex
	byConn        map[Conn]*Binding
	conversations map[string]map[Conn]*Binding
	logger        *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byConn:        make(map[Conn]*Binding),
		conversations: make(map[string]map[Conn]*Binding),
		logger:        logger.With("component", "presence"),
	}
}

// Bind associates conn with a (user, conversation) pair, replacing any
// prior binding for the same connection.
func (r *Registry) Bind(conn Conn, userID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unbindLocked(conn)

	binding := &Binding{Conn: conn, UserID: userID, ConversationID: conversationID}
	r.byConn[conn] = binding

	conv := r.conversations[conversationID]
	if conv == nil {
		conv = make(map[Conn]*Binding)
		r.conversations[conversationID] = conv
	}
	conv[conn] = binding

	r.logger.Debug("connection bound",
		"user_id", userID,
		"conversation_id", conversationID)
}

// Unbind removes the binding for conn. It is idempotent and safe to call
// for a connection that was never bound.
func (r *Registry) Unbind(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbindLocked(conn)
}

// unbindLocked removes conn's binding. Must be called with mu held.
func (r *Registry) unbindLocked(conn Conn) {
	binding, ok := r.byConn[conn]
	if !ok {
		return
	}
	delete(r.byConn, conn)

	conv := r.conversations[binding.ConversationID]
	if conv != nil {
		delete(conv, conn)
		if len(conv) == 0 {
			delete(r.conversations, binding.ConversationID)
		}
	}

	r.logger.Debug("connection unbound",
		"user_id", binding.UserID,
		"conversation_id", binding.ConversationID)
}

// ConnectionsFor returns a snapshot of the bindings currently attached to
// the conversation. The slice reflects state at call time; concurrent
// binds and unbinds may change membership immediately after.
func (r *Registry) ConnectionsFor(conversationID string) []*Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv := r.conversations[conversationID]
	if len(conv) == 0 {
		return nil
	}
	bindings := make([]*Binding, 0, len(conv))
	for _, b := range conv {
		bindings = append(bindings, b)
	}
	return bindings
}

// Lookup returns the current binding for conn, if any.
func (r *Registry) Lookup(conn Conn) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byConn[conn]
	return b, ok
}

// Len returns the number of live bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
