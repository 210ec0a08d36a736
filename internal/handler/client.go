package handler

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/weiawesome/chat-relay/internal/config"
	"github.com/weiawesome/chat-relay/internal/fanout"
	"github.com/weiawesome/chat-relay/pkg/log"
)

// Client binds a fan-out session to a websocket connection.
type Client struct {
	Session *fanout.Session
	Conn    *websocket.Conn
	config  config.WebSocketConfig
}

func NewClient(session *fanout.Session, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return &Client{
		Session: session,
		Conn:    conn,
		config:  cfg,
	}
}

// ReadPump reads frames until the connection fails, then calls onClose.
func (c *Client) ReadPump(handler func(*Client, []byte), onClose func()) {
	defer func() {
		onClose()
		c.Conn.Close()
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Warn().Err(err).Str(log.FieldSessionID, c.Session.ID).Msg("websocket read error")
			}
			break
		}

		handler(c, message)
	}
}

// WritePump drains the session queue to the connection. It returns when
// the queue is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	send := c.Session.Send()
	for {
		select {
		case message, ok := <-send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				l := log.L()
				l.Debug().Err(err).Str(log.FieldSessionID, c.Session.ID).Msg("websocket write failed")
				w.Close()
				return
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
