// Package networkio moves the bytes of a transport over network connections. It knows how
// to dial plain TCP, TLS and WebSocket connections, and how to drive a [model.TransportWrapper]
// over a [net.Conn].
package networkio

import "errors"

var (
	// ErrDial is the error returned when we cannot establish a connection.
	ErrDial = errors.New("networkio: dial failed")

	// ErrTLSHandshake is the error returned when the TLS handshake fails.
	ErrTLSHandshake = errors.New("networkio: TLS handshake failed")

	// ErrSubprotocol is the error returned when a WebSocket server does not speak AMQP.
	ErrSubprotocol = errors.New("networkio: unexpected websocket subprotocol")

	// ErrNoCapacity means the transport cannot accept bytes until its consumer reads some.
	ErrNoCapacity = errors.New("networkio: transport has no capacity")
)
