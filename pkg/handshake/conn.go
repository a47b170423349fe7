package handshake

import "net"

// replayConn is a [net.Conn] whose Read returns the given leftover bytes before
// reading from the underlying conn.
type replayConn struct {
	leftover []byte
	net.Conn
}

var _ net.Conn = &replayConn{}

func newReplayConn(conn net.Conn, leftover []byte) net.Conn {
	if len(leftover) <= 0 {
		return conn
	}
	return &replayConn{leftover: leftover, Conn: conn}
}

// Read implements net.Conn
func (c *replayConn) Read(b []byte) (int, error) {
	if len(c.leftover) > 0 {
		n := copy(b, c.leftover)
		c.leftover = c.leftover[n:]
		return n, nil
	}
	return c.Conn.Read(b)
}
