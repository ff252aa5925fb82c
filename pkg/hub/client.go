package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4 * 1024            // subscribers only send pongs and closes
	sendBuffer     = 256
)

// Conn is the part of a websocket connection a Client uses.
// *websocket.Conn implements it.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one websocket subscriber.
type Client struct {
	hub    *Hub
	conn   Conn
	send   chan Message
	topics []string
	filter map[string]bool // nil accepts every topic
}

// NewClient subscribes conn to hub. With topics, only frames on those
// topics are delivered. It returns nil, after closing conn, if the hub has
// been stopped.
func NewClient(hub *Hub, conn Conn, topics ...string) *Client {
	c := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		topics: topics,
	}
	if len(topics) > 0 {
		c.filter = make(map[string]bool, len(topics))
		for _, t := range topics {
			c.filter[t] = true
		}
	}
	select {
	case hub.subscribe <- c:
		return c
	case <-hub.done:
		conn.Close()
		return nil
	}
}

func (c *Client) wants(topic string) bool {
	return c.filter == nil || c.filter[topic]
}

// Run pumps frames to the connection and blocks until it closes.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump detects disconnection; incoming data is discarded.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unsubscribe <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on conn.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
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
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
