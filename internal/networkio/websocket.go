package networkio

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// webSocketConn adapts a [*websocket.Conn] to [net.Conn]. Each Write becomes a binary
// message and Read returns the content of the binary messages as a stream.
type webSocketConn struct {
	conn   *websocket.Conn
	reader io.Reader
}

var _ net.Conn = &webSocketConn{}

func newWebSocketConn(conn *websocket.Conn) *webSocketConn {
	return &webSocketConn{conn: conn, reader: nil}
}

// Read implements net.Conn
func (c *webSocketConn) Read(b []byte) (int, error) {
	for {
		if c.reader == nil {
			kind, reader, err := c.conn.NextReader()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			if err != nil {
				return 0, err
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			c.reader = reader
		}
		n, err := c.reader.Read(b)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n <= 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

// Write implements net.Conn
func (c *webSocketConn) Write(b []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close implements net.Conn
func (c *webSocketConn) Close() error {
	return c.conn.Close()
}

// LocalAddr implements net.Conn
func (c *webSocketConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr implements net.Conn
func (c *webSocketConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline implements net.Conn
func (c *webSocketConn) SetDeadline(t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.conn.SetWriteDeadline(t)
}

// SetReadDeadline implements net.Conn
func (c *webSocketConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements net.Conn
func (c *webSocketConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
