package stream

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open stream connection.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens stream connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	// ReadTimeout bounds the wait for each frame. Zero disables it.
	ReadTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn, readTimeout: d.ReadTimeout}, nil
}

type wsConn struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

func (c *wsConn) WriteJSON(v any) error {
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, err
		}
	}
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
