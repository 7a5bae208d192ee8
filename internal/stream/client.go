package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/loopback/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

type message struct {
	kind int
	data []byte
}

// client is one websocket listener. Audio is queued on send and written by
// writePump; a client whose queue is full is dropped by the server.
type client struct {
	id   string
	conn *websocket.Conn
	send chan message

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, queue int) *client {
	return &client{
		id:   id,
		conn: conn,
		send: make(chan message, queue),
		done: make(chan struct{}),
	}
}

// enqueue reports false when the client cannot keep up.
func (c *client) enqueue(m message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- m:
		return true
	default:
		return false
	}
}

// close tears the connection down, sending reason as a normal close frame
// when it is not empty.
func (c *client) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn == nil {
			return
		}
		if reason != "" {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		}
		c.conn.Close()
	})
}

// readPump discards client messages and keeps the read deadline alive from
// pongs. It returns when the peer goes away.
func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("stream client read error", logging.KeyClientID, c.id, logging.KeyError, err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case m := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(m.kind, m.data); err != nil {
				log.Debug("stream client write error", logging.KeyClientID, c.id, logging.KeyError, err)
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
