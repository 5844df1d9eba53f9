// ABOUTME: WebSocket connection wrapper with buffered outbound writes
// ABOUTME: A write pump serializes frames and protocol pings onto the socket

package session

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const sendBufferSize = 64

// ErrConnClosed is returned by Send after the connection has closed.
var ErrConnClosed = errors.New("connection closed")

// ErrBufferFull is returned by Send when the outbound buffer is full.
// The frame is dropped; delivery is best-effort.
var ErrBufferFull = errors.New("send buffer full")

// Conn wraps a websocket and coordinates outbound writes via a buffered
// channel. Send never blocks: a full buffer drops the frame so one slow
// connection cannot stall a broadcast fan-out.
type Conn struct {
	ws           *websocket.Conn
	send         chan []byte
	closed       chan struct{}
	once         sync.Once
	writeTimeout time.Duration
	pingInterval time.Duration
}

// newConn wraps ws. Start must be called exactly once to launch the write pump.
func newConn(ws *websocket.Conn, writeTimeout, pingInterval time.Duration) *Conn {
	return &Conn{
		ws:           ws,
		send:         make(chan []byte, sendBufferSize),
		closed:       make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
}

// Start launches the write pump.
func (c *Conn) Start() {
	go c.writePump()
}

// Send enqueues payload for delivery. It returns an error when the
// connection is closed or the buffer is full; in both cases the frame is
// simply not delivered.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return ErrConnClosed
	default:
		return ErrBufferFull
	}
}

// Close terminates the connection and stops the write pump. Safe to call
// multiple times.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeTimeout))
		_ = c.ws.Close()
	})
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			if err := c.writeMessage(payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) writeMessage(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}
