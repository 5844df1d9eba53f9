// ABOUTME: End-to-end controller tests against a live gateway WebSocket server
// ABOUTME: Exercises connect, dedupe, typing relay, and reconnect behavior

package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawhaven/chat-gateway/internal/broadcast"
	"github.com/pawhaven/chat-gateway/internal/presence"
	"github.com/pawhaven/chat-gateway/internal/session"
	"github.com/pawhaven/chat-gateway/internal/store"
	"github.com/pawhaven/chat-gateway/internal/wire"
)

type staticConvs struct {
	conversations map[string]*store.Conversation
}

func (s *staticConvs) GetConversation(_ context.Context, id string) (*store.Conversation, error) {
	conv, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return conv, nil
}

type recordingHandler struct {
	mu       sync.Mutex
	messages []*store.Message
	reads    [][]string
	typing   []string
	stops    []string
	states   []State
}

func (h *recordingHandler) OnMessage(msg *store.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *recordingHandler) OnMessagesRead(ids []string, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reads = append(h.reads, ids)
}

func (h *recordingHandler) OnTyping(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.typing = append(h.typing, userID)
}

func (h *recordingHandler) OnStopTyping(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops = append(h.stops, userID)
}

func (h *recordingHandler) OnStateChange(state State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, state)
}

func (h *recordingHandler) messageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func (h *recordingHandler) sawState(want State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.states {
		if s == want {
			return true
		}
	}
	return false
}

func (h *recordingHandler) typingUsers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.typing...)
}

func (h *recordingHandler) stopUsers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.stops...)
}

func (h *recordingHandler) readBatches() [][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]string(nil), h.reads...)
}

type clientFixture struct {
	registry *presence.Registry
	router   *broadcast.Router
	wsURL    string
}

func newClientFixture(t *testing.T) *clientFixture {
	t.Helper()

	registry := presence.NewRegistry(nil)
	router := broadcast.NewRouter(registry, nil)
	convs := &staticConvs{conversations: map[string]*store.Conversation{
		"conv-7": {ID: "conv-7", PetID: "pet-1", AdopterID: "adopter-1", OwnerID: "owner-1"},
	}}

	wsServer := session.NewServer(registry, router, convs, session.DefaultOptions(), nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.HandleWebSocket)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &clientFixture{
		registry: registry,
		router:   router,
		wsURL:    "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
	}
}

func testOptions(wsURL, userID string, h Handler) Options {
	return Options{
		URL:            wsURL,
		UserID:         userID,
		ConversationID: "conv-7",
		Handler:        h,
		PingInterval:   time.Second,
		ReconnectDelay: 50 * time.Millisecond,
		TypingWindow:   150 * time.Millisecond,
	}
}

func startController(t *testing.T, opts Options) *Controller {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func waitForBindings(t *testing.T, registry *presence.Registry, convID string, want int) {
	t.Helper()
	waitFor(t, func() bool {
		return len(registry.ConnectionsFor(convID)) == want
	}, "timed out waiting for presence bindings")
}

// dialPeer opens a raw socket bound as the given participant, for driving
// traffic at a controller under test.
func dialPeer(t *testing.T, wsURL, userID string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	// Drain the greeting, then authenticate.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	require.NoError(t, err)

	data, err := wire.Encode(wire.TypeAuth, wire.AuthFrame{UserID: userID, ConversationID: "conv-7"})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) wire.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var env wire.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestNew_ValidatesOptions(t *testing.T) {
	h := &recordingHandler{}

	cases := []struct {
		name string
		opts Options
	}{
		{"missing url", Options{UserID: "u", ConversationID: "c", Handler: h}},
		{"missing user", Options{URL: "ws://x", ConversationID: "c", Handler: h}},
		{"missing conversation", Options{URL: "ws://x", UserID: "u", Handler: h}},
		{"missing handler", Options{URL: "ws://x", UserID: "u", ConversationID: "c"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.opts)
			assert.Error(t, err)
		})
	}
}

func TestController_ConnectsAndBinds(t *testing.T) {
	f := newClientFixture(t)
	h := &recordingHandler{}

	c := startController(t, testOptions(f.wsURL, "adopter-1", h))

	waitFor(t, func() bool { return c.State() == StateActive }, "controller never became active")
	waitForBindings(t, f.registry, "conv-7", 1)
	assert.True(t, h.sawState(StateConnecting))
	assert.True(t, h.sawState(StateActive))
}

func TestController_DeliversEachMessageOnce(t *testing.T) {
	f := newClientFixture(t)
	h := &recordingHandler{}

	c := startController(t, testOptions(f.wsURL, "adopter-1", h))
	waitForBindings(t, f.registry, "conv-7", 1)

	msg := &store.Message{
		ID:             "msg-1",
		ConversationID: "conv-7",
		SenderID:       "owner-1",
		Content:        "Is Biscuit still available?",
		CreatedAt:      time.Now().UTC(),
	}
	f.router.NotifyNewMessage("conv-7", msg)
	f.router.NotifyNewMessage("conv-7", msg) // replay of the same id

	waitFor(t, func() bool { return h.messageCount() >= 1 }, "message never delivered")
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, h.messageCount(), "replayed id must not be re-delivered")
	require.Len(t, c.Messages(), 1)
	assert.Equal(t, "msg-1", c.Messages()[0].ID)
}

func TestController_SyncMergesWithLiveDelivery(t *testing.T) {
	f := newClientFixture(t)
	h := &recordingHandler{}

	c := startController(t, testOptions(f.wsURL, "adopter-1", h))
	waitForBindings(t, f.registry, "conv-7", 1)

	base := time.Now().UTC()
	synced := &store.Message{ID: "msg-1", ConversationID: "conv-7", SenderID: "owner-1", Content: "hello", CreatedAt: base}
	c.SyncMessages([]*store.Message{synced})

	// The socket replays the synced message plus one genuinely new one.
	f.router.NotifyNewMessage("conv-7", synced)
	f.router.NotifyNewMessage("conv-7", &store.Message{
		ID: "msg-2", ConversationID: "conv-7", SenderID: "owner-1", Content: "still there?", CreatedAt: base.Add(time.Second),
	})

	waitFor(t, func() bool { return c.log.Len() == 2 }, "log never reached 2 messages")
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 2, c.log.Len())
	assert.Equal(t, 1, h.messageCount(), "only the unseen message should reach the handler")
}

func TestController_ReadReceiptsFlipOwnMessages(t *testing.T) {
	f := newClientFixture(t)
	h := &recordingHandler{}

	c := startController(t, testOptions(f.wsURL, "adopter-1", h))
	waitForBindings(t, f.registry, "conv-7", 1)

	mine := &store.Message{ID: "msg-1", ConversationID: "conv-7", SenderID: "adopter-1", Content: "ping", CreatedAt: time.Now().UTC()}
	f.router.NotifyNewMessage("conv-7", mine)
	waitFor(t, func() bool { return h.messageCount() == 1 }, "message never delivered")

	f.router.NotifyMessagesRead("conv-7", []string{"msg-1"}, "owner-1")
	waitFor(t, func() bool { return len(h.readBatches()) == 1 }, "read receipt never delivered")

	assert.Equal(t, []string{"msg-1"}, h.readBatches()[0])
	assert.True(t, c.Messages()[0].IsRead)
}

func TestController_PeerTypingWithStaleExpiry(t *testing.T) {
	f := newClientFixture(t)
	h := &recordingHandler{}

	startController(t, testOptions(f.wsURL, "owner-1", h))
	waitForBindings(t, f.registry, "conv-7", 1)

	peer := dialPeer(t, f.wsURL, "adopter-1")
	waitForBindings(t, f.registry, "conv-7", 2)

	data, err := wire.Encode(wire.TypeTyping, wire.TypingFrame{ConversationID: "conv-7", UserID: "adopter-1"})
	require.NoError(t, err)
	require.NoError(t, peer.WriteMessage(websocket.TextMessage, data))

	waitFor(t, func() bool { return len(h.typingUsers()) == 1 }, "typing event never delivered")
	assert.Equal(t, "adopter-1", h.typingUsers()[0])

	// The peer never sends stop_typing; the staleness sweep synthesizes it.
	waitFor(t, func() bool { return len(h.stopUsers()) == 1 }, "stale typing indicator never expired")
	assert.Equal(t, "adopter-1", h.stopUsers()[0])
}

func TestController_OutboundTypingDebounce(t *testing.T) {
	f := newClientFixture(t)
	h := &recordingHandler{}

	c := startController(t, testOptions(f.wsURL, "adopter-1", h))
	waitForBindings(t, f.registry, "conv-7", 1)

	peer := dialPeer(t, f.wsURL, "owner-1")
	waitForBindings(t, f.registry, "conv-7", 2)

	// A burst of keystrokes produces one typing frame.
	for i := 0; i < 5; i++ {
		c.InputActivity(false)
	}

	env := readEnvelope(t, peer)
	require.Equal(t, wire.TypeTyping, env.Type)
	var user wire.UserData
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, "adopter-1", user.UserID)

	// Idle past the window produces the stop.
	env = readEnvelope(t, peer)
	assert.Equal(t, wire.TypeStopTyping, env.Type)
}

func TestController_ReconnectsAfterUncleanDrop(t *testing.T) {
	registry := presence.NewRegistry(nil)
	router := broadcast.NewRouter(registry, nil)
	convs := &staticConvs{conversations: map[string]*store.Conversation{
		"conv-7": {ID: "conv-7", PetID: "pet-1", AdopterID: "adopter-1", OwnerID: "owner-1"},
	}}
	wsServer := session.NewServer(registry, router, convs, session.DefaultOptions(), nil)

	var connCount int32
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&connCount, 1) == 1 {
			// First connection dies without a close handshake.
			ws, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			ws.Close()
			return
		}
		wsServer.HandleWebSocket(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	h := &recordingHandler{}
	c := startController(t, testOptions(wsURL, "adopter-1", h))

	waitFor(t, func() bool { return c.State() == StateActive }, "controller never recovered")
	waitForBindings(t, registry, "conv-7", 1)
	assert.True(t, h.sawState(StateReconnecting), "unclean drop should schedule a reconnect")
	assert.GreaterOrEqual(t, atomic.LoadInt32(&connCount), int32(2))
}

func TestController_CleanCloseDoesNotReconnect(t *testing.T) {
	f := newClientFixture(t)
	h := &recordingHandler{}

	c := startController(t, testOptions(f.wsURL, "adopter-1", h))
	waitFor(t, func() bool { return c.State() == StateActive }, "controller never became active")
	waitForBindings(t, f.registry, "conv-7", 1)

	c.Close()

	assert.Equal(t, StateDisconnected, c.State())
	waitForBindings(t, f.registry, "conv-7", 0)

	// No redial happens after a clean close.
	time.Sleep(4 * 50 * time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 0, len(f.registry.ConnectionsFor("conv-7")))
}

func TestController_ServerNormalClosureDoesNotReconnect(t *testing.T) {
	var connCount int32
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&connCount, 1)
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "going away")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		// Let the client read the close frame before the socket drops.
		_, _, _ = ws.ReadMessage()
		ws.Close()
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	h := &recordingHandler{}
	c := startController(t, testOptions(wsURL, "adopter-1", h))

	waitFor(t, func() bool { return c.State() == StateDisconnected }, "controller never settled")
	time.Sleep(4 * 50 * time.Millisecond)

	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&connCount), "normal closure must not trigger a redial")
}

func TestController_StartTwiceFails(t *testing.T) {
	f := newClientFixture(t)
	h := &recordingHandler{}

	c := startController(t, testOptions(f.wsURL, "adopter-1", h))
	assert.ErrorIs(t, c.Start(), ErrAlreadyStarted)
}
