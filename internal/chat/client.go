package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait   = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.

	defaultMaxMessageSize = 4096
	defaultSendBuffer     = 256
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	ID       string
	Identity Identity
	Conn     *websocket.Conn

	hub            *Hub
	send           chan []byte
	maxMessageSize int64

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an admitted connection. conn may be nil for a client that
// only buffers outbound frames.
func NewClient(hub *Hub, conn *websocket.Conn, identity Identity, maxMessageSize int64, sendBuffer int) *Client {
	if maxMessageSize <= 0 {
		maxMessageSize = defaultMaxMessageSize
	}
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Client{
		ID:             uuid.NewString(),
		Identity:       identity,
		Conn:           conn,
		hub:            hub,
		send:           make(chan []byte, sendBuffer),
		maxMessageSize: maxMessageSize,
	}
}

// Outbound exposes the buffered frames waiting for the write pump.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// enqueue never blocks. It fails with ErrDelivery when the buffer is full
// and ErrUnknownConnection once the client is shut down.
func (c *Client) enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrUnknownConnection
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("%w: send buffer of %s is full", ErrDelivery, c.ID)
	}
}

// shutdown closes the send channel once, which stops the write pump.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump pumps frames from the websocket connection to the hub. Whatever
// ends the loop, the deferred cleanup unregisters the connection.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.OnDisconnect(c.ID)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.maxMessageSize)

	// Heartbeat logic (Keep-Alive)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("Unexpected websocket close", "connection", c.ID, "error", err)
			}
			break
		}

		evt, err := DecodeEvent(data)
		if err != nil {
			c.hub.log.Warn("Frame dropped", "connection", c.ID, "username", c.Identity.Username, "error", err)
			continue
		}
		// PIPELINE: Browser -> ReadPump -> Hub -> Router
		c.hub.HandleEvent(c.hub.ctx, c.ID, evt)
	}
}

// WritePump pumps frames from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush whatever queued up meanwhile in the same frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				queued, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(queued)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
