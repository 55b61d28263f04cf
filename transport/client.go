package transport

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/concordlabs/concord/core"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// client is one connected WebSocket peer. All writes to the socket go
// through the send channel and a single writer goroutine; advisory
// messages are dropped instead of blocking when the peer is slow.
type client struct {
	conn   *websocket.Conn
	send   chan Outbound
	done   chan struct{}
	logger core.Logger
}

func newClient(conn *websocket.Conn, logger core.Logger) *client {
	return &client{
		conn:   conn,
		send:   make(chan Outbound, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// deliver queues a must-arrive message, blocking until the writer takes
// it or the connection closes
func (c *client) deliver(msg Outbound) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

// advise queues an advisory message. When the buffer is full the
// message is dropped; step updates are resendable state, not events.
func (c *client) advise(msg Outbound) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.logger.Debug("Advisory message dropped, peer is slow", map[string]interface{}{
			"operation": "ws_advise_drop",
			"type":      msg.Type,
		})
	}
}

// writePump is the single writer for this connection. It also owns the
// keepalive pings.
func (c *client) writePump() {
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
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// close signals the writer to stop. Safe to call once from the reader.
func (c *client) close() {
	close(c.done)
}
