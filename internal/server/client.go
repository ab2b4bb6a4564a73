package server

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// Client runs the read and write pumps of one websocket session.
type Client struct {
	conn    *websocket.Conn
	cs      *ChatServer
	session *Session
	limiter *rateLimiter
	log     zerolog.Logger
}

func NewClient(conn *websocket.Conn, s *Session, cs *ChatServer) *Client {
	return &Client{
		conn:    conn,
		cs:      cs,
		session: s,
		limiter: newRateLimiter(cs.opts.RateLimitBurst, cs.opts.RateLimitInterval),
		log: cs.log.With().
			Str("session_id", string(s.id)).
			Int("user_id", s.user.Id).
			Logger(),
	}
}

// Write is the only goroutine writing to the connection, so frames reach
// the peer in the order they were queued. It closes the connection on exit.
func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.cs.sessions.OnDisconnect(c.session.id)
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case frame := <-c.session.Outbound():
			if !c.sendMessage(websocket.TextMessage, frame) {
				return
			}
		case <-c.session.Done():
			err := c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.log.Debug().Err(err).Msg("ws: write close")
			}
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.cs.sessions.OnDisconnect(c.session.id)
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws: read")
			}
			return
		}

		if !c.limiter.allow() {
			c.cs.router.SendError(c.session, ErrRateLimited, nil)
			continue
		}

		c.dispatch(raw)
	}
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("ws: write")
		}
		return false
	}

	return true
}
