package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/session-service/internal/config"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
)

// Client is one websocket connection. Conn may be nil for in-process
// clients (tests, tooling); frames then stay on Send for the caller to read.
type Client struct {
	ID      string
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	Session *domain.Session
	config  config.WebSocketConfig

	closeOnce sync.Once
	closed    chan struct{}
}

func NewClient(id string, hub *Hub, conn *websocket.Conn, identity domain.Identity, cfg config.WebSocketConfig) *Client {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	return &Client{
		ID:      id,
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, buf),
		Session: domain.NewSession(id, identity),
		config:  cfg,
		closed:  make(chan struct{}),
	}
}

// UserID is the verified user behind this connection.
func (c *Client) UserID() string {
	return c.Session.UserID()
}

// Close terminates the connection. The read loop then exits and runs the
// disconnect cleanup.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// ReadPump reads frames until the connection fails, handing each to handler
// in order. onExit runs on every exit path.
func (c *Client) ReadPump(handler func(*Client, []byte), onExit func(*Client)) {
	defer func() {
		onExit(c)
		c.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l := log.L()
				l.Debug().Err(err).Str(log.FieldSessionID, c.ID).Msg("websocket read error")
			}
			return
		}

		c.Session.UpdateActivity()
		handler(c, message)
	}
}

// WritePump drains Send to the connection and keeps it alive with pings.
// It returns when Send is closed by the hub or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}
