package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 8 * 1024
	sendBuffer   = 256
)

// Client is one live websocket connection bound to an authenticated user.
type Client struct {
	id     string
	userID string
	hub    *Hub
	conn   *websocket.Conn

	// mu guards send and closed so no frame is ever queued on a channel
	// that close has already shut.
	mu     sync.Mutex
	send   chan []byte
	closed bool

	// rooms is guarded by hub.mu.
	rooms map[string]bool
}

func newClient(hub *Hub, id, userID string, conn *websocket.Conn) *Client {
	return &Client{
		id:     id,
		userID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[string]bool),
	}
}

// enqueue hands a frame to the write pump without blocking the hub. Frames
// arriving after close are dropped. A client whose buffer is full is
// considered stuck and gets disconnected.
func (c *Client) enqueue(frame []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- frame:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.hub.logger.Warn("relay client send buffer full, closing", "userId", c.userID)
		go c.close()
	}
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.hub.unregister(c)
	_ = c.conn.Close()
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.hub.logger.Warn("undecodable relay frame dropped", "error", err, "userId", c.userID)
			continue
		}
		c.hub.dispatch(c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
