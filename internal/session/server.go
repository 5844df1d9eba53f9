// ABOUTME: WebSocket endpoint handling upgrade, read loop, and session lifecycle
// ABOUTME: Each connection gets a Session; presence is unbound unconditionally on close

package session

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pawhaven/chat-gateway/internal/broadcast"
	"github.com/pawhaven/chat-gateway/internal/presence"
	"github.com/pawhaven/chat-gateway/internal/wire"
)

// Options holds timing and limit knobs for the WebSocket server.
type Options struct {
	// PingInterval is how often the write pump sends protocol pings.
	PingInterval time.Duration
	// WriteTimeout bounds every socket write.
	WriteTimeout time.Duration
	// ReadTimeout is the idle deadline, refreshed on pong and on every frame.
	ReadTimeout time.Duration
	// ReadLimit caps inbound frame size in bytes.
	ReadLimit int64
	// FrameRate caps inbound frames per second per connection; 0 disables.
	FrameRate float64
	// FrameBurst is the rate limiter burst.
	FrameBurst int
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  75 * time.Second,
		ReadLimit:    64 * 1024,
		FrameRate:    20,
		FrameBurst:   40,
	}
}

// Server accepts WebSocket connections and runs the conversation session
// protocol over them.
type Server struct {
	registry *presence.Registry
	router   *broadcast.Router
	convs    ConversationGetter
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a WebSocket server. Pass nil logger for default.
func NewServer(registry *presence.Registry, router *broadcast.Router, convs ConversationGetter, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: registry,
		router:   router,
		convs:    convs,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The browser origin is not a trust boundary here; the auth
				// frame is validated against the store instead.
				return true
			},
		},
		logger: logger.With("component", "ws"),
	}
}

// HandleWebSocket upgrades the request and runs the connection until the
// transport closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := newConn(ws, s.opts.WriteTimeout, s.opts.PingInterval)
	conn.Start()

	// Greeting goes out immediately on accept, before any auth.
	if greeting, err := wire.Encode(wire.TypeConnected, wire.ConnectedData{
		Message: "connected to chat gateway",
	}); err == nil {
		_ = conn.Send(greeting)
	}

	sess := NewSession(conn, s.registry, s.router, s.convs, s.opts.FrameRate, s.opts.FrameBurst, s.logger)
	s.readLoop(r, ws, conn, sess)
}

// readLoop processes inbound frames in arrival order until the transport
// drops, then tears the session down. A malformed frame never ends the
// loop; only a transport error does.
func (s *Server) readLoop(r *http.Request, ws *websocket.Conn, conn *Conn, sess *Session) {
	defer func() {
		sess.Close()
		conn.Close()
	}()

	ws.SetReadLimit(s.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		sess.HandleFrame(r.Context(), data)
	}
}
