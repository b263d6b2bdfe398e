package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-relay/backend/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// heartbeatPeriod is how often pings go out on an Active connection.
	heartbeatPeriod = 30 * time.Second

	// pongWait is how long after a ping a pong must arrive. A peer
	// that misses it is forcibly disconnected on the next read.
	pongWait = heartbeatPeriod + 5*time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// sendBufferSize is the per-client outbound queue depth. A client
	// that cannot drain it is closed.
	sendBufferSize = 256
)

// Close codes for the pre-auth handshake. Rate limiting is kept
// distinct from unauthorized so clients back off instead of retrying
// credentials.
const (
	CloseUnauthorized  = 4001
	CloseMalformedAuth = 4002
	CloseRateLimited   = 4029
)

// outbound is one queued WebSocket frame.
type outbound struct {
	kind int
	data []byte
}

// Client wraps one Active connection. All outbound traffic — replayed
// history, live poll deliveries, broadcasts, terminal output — funnels
// through the same buffered send queue, which preserves relative
// ordering per client. Client implements watcher.Subscriber.
type Client struct {
	conn *websocket.Conn

	send   chan outbound
	mu     sync.Mutex
	closed bool
}

// NewClient creates a client for an authenticated connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan outbound, sendBufferSize),
	}
}

// SendEvent marshals and queues one event as its own text frame.
func (c *Client) SendEvent(ev *model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("ws: failed to marshal %s event: %v", ev.Type, err)
		return
	}
	c.enqueue(outbound{kind: websocket.TextMessage, data: data})
}

// SendClose queues a close frame. Nothing can be sent afterwards; the
// write pump terminates once the frame goes out.
func (c *Client) SendClose(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	msg := outbound{kind: websocket.CloseMessage, data: websocket.FormatCloseMessage(code, reason)}
	select {
	case c.send <- msg:
		c.closed = true
	default:
		c.closeLocked()
	}
}

// Close tears the client down immediately.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) enqueue(msg outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		// Queue full: the peer is not draining. Drop it.
		c.closeLocked()
	}
}

var pingFrame, _ = json.Marshal(&model.Event{Type: model.EventPing})

// writePump drains the send queue onto the connection, one JSON object
// per text frame, and drives the heartbeat.
func (c *Client) writePump() {
	ticker := time.NewTicker(heartbeatPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if msg.kind == websocket.CloseMessage {
				c.conn.WriteMessage(websocket.CloseMessage, msg.data)
				return
			}
			if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, pingFrame); err != nil {
				return
			}
		}
	}
}
