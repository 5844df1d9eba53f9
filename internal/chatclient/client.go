// ABOUTME: Reconnecting WebSocket client for a single conversation
// ABOUTME: Dials, authenticates, relays events, and retries unclean drops

package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pawhaven/chat-gateway/internal/dedupe"
	"github.com/pawhaven/chat-gateway/internal/store"
	"github.com/pawhaven/chat-gateway/internal/wire"
)

// State describes the controller's connection lifecycle.
type State int

const (
	// StateDisconnected means no connection exists and no retry is pending.
	StateDisconnected State = iota
	// StateConnecting means a dial attempt is in flight.
	StateConnecting
	// StateActive means the connection is authenticated and receiving events.
	StateActive
	// StateReconnecting means the connection dropped uncleanly and a retry
	// is scheduled.
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrAlreadyStarted is returned by Start when the controller is running.
	ErrAlreadyStarted = errors.New("controller already started")
	// ErrNotConnected is returned when a frame cannot be sent because no
	// connection is active.
	ErrNotConnected = errors.New("not connected")
)

// Handler receives conversation events from the controller. Callbacks run
// on the controller's read goroutine and must not block.
type Handler interface {
	// OnMessage fires once per distinct message, after the local log
	// absorbed it. Replays of an already-known id are swallowed.
	OnMessage(msg *store.Message)
	// OnMessagesRead fires with the ids that actually flipped to read
	// in the local log.
	OnMessagesRead(messageIDs []string, readerID string)
	// OnTyping fires when a peer starts typing.
	OnTyping(userID string)
	// OnStopTyping fires when a peer stops typing, whether the peer said
	// so or the indicator went stale.
	OnStopTyping(userID string)
	// OnStateChange fires on every connection state transition.
	OnStateChange(state State)
}

// Options configures a Controller.
type Options struct {
	// URL is the WebSocket endpoint, e.g. ws://host/ws.
	URL string
	// UserID is the local user to authenticate as.
	UserID string
	// ConversationID is the conversation to bind to.
	ConversationID string
	// Handler receives events. Required.
	Handler Handler

	// PingInterval is the application-level ping cadence. Default 30s.
	PingInterval time.Duration
	// ReconnectDelay is how long to wait after an unclean drop before
	// redialing. Default 5s.
	ReconnectDelay time.Duration
	// TypingWindow bounds both the staleness of peer typing indicators
	// and the idle timeout of outbound typing. Default 3s.
	TypingWindow time.Duration

	// Dialer overrides the WebSocket dialer. Defaults to
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Logger is the parent logger. Defaults to slog.Default().
	Logger *slog.Logger
}

const (
	defaultPingInterval   = 30 * time.Second
	defaultReconnectDelay = 5 * time.Second
	defaultTypingWindow   = 3 * time.Second

	writeTimeout = 10 * time.Second

	// dedupeTTL bounds how long applied event ids are remembered. Replays
	// cluster right after a reconnect, so a few minutes is plenty.
	dedupeTTL     = 5 * time.Minute
	dedupeMaxSize = 10000
)

// Controller maintains a conversation connection across network failures.
// It dials, authenticates with an auth frame, keeps the link alive with
// pings, and retries unclean drops after a fixed delay. A clean Close
// never retries.
type Controller struct {
	opts   Options
	logger *slog.Logger

	log      *MessageLog
	seen     *dedupe.Cache
	tracker  *typingTracker
	notifier *typingNotifier

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	writeMu sync.Mutex

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	started   bool
}

// New validates opts, applies defaults, and returns an unstarted controller.
func New(opts Options) (*Controller, error) {
	if opts.URL == "" {
		return nil, errors.New("url is required")
	}
	if opts.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if opts.ConversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("handler is required")
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.TypingWindow <= 0 {
		opts.TypingWindow = defaultTypingWindow
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Controller{
		opts:   opts,
		logger: opts.Logger.With("component", "chatclient", "conversation_id", opts.ConversationID),
		log:    NewMessageLog(opts.UserID),
		seen:   dedupe.New(dedupeTTL, dedupeMaxSize),
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}
	c.tracker = newTypingTracker(opts.TypingWindow, func(userID string) {
		opts.Handler.OnStopTyping(userID)
	})
	c.notifier = newTypingNotifier(opts.TypingWindow, c.emitTyping)
	return c, nil
}

// Start begins connecting in the background. It returns immediately.
func (c *Controller) Start() error {
	var err error = ErrAlreadyStarted
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.cancel = cancel
		c.started = true
		c.mu.Unlock()
		go c.run(ctx)
		err = nil
	})
	return err
}

// Close tears the controller down. The connection closes cleanly and no
// reconnect is attempted. Safe to call multiple times.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		started := c.started
		if c.cancel != nil {
			c.cancel()
		}
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		}

		c.notifier.stop()
		c.tracker.stop()
		c.seen.Close()

		if started {
			<-c.done
		}
	})
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns the local message log in chronological order.
func (c *Controller) Messages() []*store.Message {
	return c.log.Messages()
}

// TypingPeers returns the peers currently marked as typing.
func (c *Controller) TypingPeers() []string {
	return c.tracker.typingUsers()
}

// SyncMessages merges a batch fetched over REST into the local log and
// returns how many were new. Used after a reconnect to close the gap the
// socket missed.
func (c *Controller) SyncMessages(msgs []*store.Message) int {
	for _, msg := range msgs {
		c.seen.CheckAndMark(msg.ID)
	}
	return c.log.Merge(msgs)
}

// InputActivity reports the state of the local compose box. A non-empty
// input emits at most one typing frame until input goes idle for the
// typing window or empties, at which point a stop_typing frame goes out.
func (c *Controller) InputActivity(inputEmpty bool) {
	c.notifier.activity(inputEmpty)
}

func (c *Controller) emitTyping(typing bool) {
	frameType := wire.TypeTyping
	if !typing {
		frameType = wire.TypeStopTyping
	}
	payload := wire.TypingFrame{
		ConversationID: c.opts.ConversationID,
		UserID:         c.opts.UserID,
	}
	if err := c.writeFrame(frameType, payload); err != nil {
		c.logger.Debug("typing frame not sent", "type", frameType, "error", err)
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		c.setState(StateConnecting)
		ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
				return
			}
			c.logger.Warn("dial failed", "error", err)
			if !c.waitReconnect(ctx) {
				return
			}
			continue
		}

		clean := c.serve(ctx, ws)
		if clean {
			c.setState(StateDisconnected)
			return
		}
		if !c.waitReconnect(ctx) {
			return
		}
	}
}

// serve runs one connection to completion. Returns true when the
// connection ended cleanly and no reconnect should happen.
func (c *Controller) serve(ctx context.Context, ws *websocket.Conn) bool {
	c.mu.Lock()
	c.conn = ws
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		ws.Close()
	}()

	// Cancellation must unblock the read below even if Close raced the
	// conn handoff above.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-watchDone:
		}
	}()

	auth := wire.AuthFrame{
		UserID:         c.opts.UserID,
		ConversationID: c.opts.ConversationID,
	}
	if err := c.writeFrame(wire.TypeAuth, auth); err != nil {
		c.logger.Warn("auth frame failed", "error", err)
		return ctx.Err() != nil
	}

	c.setState(StateActive)
	c.logger.Info("connected", "user_id", c.opts.UserID)

	pingDone := make(chan struct{})
	go c.pingLoop(pingDone)
	defer close(pingDone)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("connection closed by server")
				return true
			}
			c.logger.Warn("connection dropped", "error", err)
			return false
		}
		c.handleServerFrame(data)
	}
}

func (c *Controller) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.writeFrame(wire.TypePing, nil); err != nil {
				c.logger.Debug("ping not sent", "error", err)
			}
		case <-done:
			return
		}
	}
}

// waitReconnect sleeps out the reconnect delay. Returns false when the
// controller was closed while waiting.
func (c *Controller) waitReconnect(ctx context.Context) bool {
	c.setState(StateReconnecting)
	c.logger.Info("reconnecting", "delay", c.opts.ReconnectDelay)

	timer := time.NewTimer(c.opts.ReconnectDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		c.setState(StateDisconnected)
		return false
	}
}

func (c *Controller) handleServerFrame(data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Debug("unparseable frame", "error", err)
		return
	}

	switch env.Type {
	case wire.TypeConnected, wire.TypePong:
		// Liveness only.

	case wire.TypeNewMessage:
		var msg store.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			c.logger.Debug("bad new_message payload", "error", err)
			return
		}
		if c.seen.CheckAndMark(msg.ID) {
			return
		}
		if c.log.Insert(&msg) {
			// A message from a peer means they are no longer composing.
			if msg.SenderID != c.opts.UserID && c.tracker.clear(msg.SenderID) {
				c.opts.Handler.OnStopTyping(msg.SenderID)
			}
			c.opts.Handler.OnMessage(&msg)
		}

	case wire.TypeMessageRead:
		var rd wire.MessageReadData
		if err := json.Unmarshal(env.Data, &rd); err != nil {
			c.logger.Debug("bad message_read payload", "error", err)
			return
		}
		flipped := c.log.ApplyRead(rd.MessageIDs, rd.UserID)
		if len(flipped) > 0 {
			c.opts.Handler.OnMessagesRead(flipped, rd.UserID)
		}

	case wire.TypeTyping:
		var u wire.UserData
		if err := json.Unmarshal(env.Data, &u); err != nil {
			c.logger.Debug("bad typing payload", "error", err)
			return
		}
		if u.UserID == c.opts.UserID {
			return
		}
		if c.tracker.set(u.UserID) {
			c.opts.Handler.OnTyping(u.UserID)
		}

	case wire.TypeStopTyping:
		var u wire.UserData
		if err := json.Unmarshal(env.Data, &u); err != nil {
			c.logger.Debug("bad stop_typing payload", "error", err)
			return
		}
		if c.tracker.clear(u.UserID) {
			c.opts.Handler.OnStopTyping(u.UserID)
		}

	default:
		c.logger.Debug("unknown frame type", "type", env.Type)
	}
}

func (c *Controller) writeFrame(frameType string, payload any) error {
	data, err := wire.Encode(frameType, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.conn
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.opts.Handler.OnStateChange(s)
}
