package networkio

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/ooni/minisasl/internal/model"
	tls "github.com/refraction-networking/utls"
)

// WebSocketSubprotocol is the subprotocol AMQP peers negotiate over WebSocket.
const WebSocketSubprotocol = "amqp"

// Dialer dials network connections. The zero value of this structure is
// invalid; please, use the [NewDialer] constructor.
type Dialer struct {
	// clientHello is the fingerprint we use for TLS connections.
	clientHello tls.ClientHelloID

	// dialer is the underlying [model.Dialer] we use to dial.
	dialer model.Dialer

	// logger is the [model.Logger] with which we log.
	logger model.Logger
}

// NewDialer creates a new [Dialer] instance.
func NewDialer(logger model.Logger, dialer model.Dialer) *Dialer {
	return &Dialer{
		clientHello: tls.HelloGolang,
		dialer:      dialer,
		logger:      logger,
	}
}

// SetClientHello selects the ClientHello fingerprint used by [Dialer.DialTLSContext].
func (d *Dialer) SetClientHello(id tls.ClientHelloID) {
	d.clientHello = id
}

// DialContext establishes a connection. The returned connection has close once semantics.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		d.logger.Warnf("networkio: dial failed: %s", err.Error())
		return nil, fmt.Errorf("%w: %s", ErrDial, err)
	}
	d.logger.Debugf("networkio: connected to %s/%s", address, network)
	return newCloseOnceConn(conn), nil
}

// DialTLSContext is like [Dialer.DialContext] but also performs a TLS handshake using
// the given config. The handshake honors the context deadline and cancellation.
func (d *Dialer) DialTLSContext(ctx context.Context, network, address string, config *tls.Config) (net.Conn, error) {
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	client := tls.UClient(conn, config, d.clientHello)
	err = withContext(ctx, conn, client.Handshake)
	if err != nil {
		d.logger.Warnf("networkio: TLS handshake failed: %s", err.Error())
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrTLSHandshake, err)
	}
	state := client.ConnectionState()
	d.logger.Debugf("networkio: TLS version 0x%04x, cipher suite 0x%04x", state.Version, state.CipherSuite)
	return newCloseOnceConn(client), nil
}

// DialWebSocket dials the given ws:// or wss:// URL, negotiating the AMQP subprotocol,
// and returns a [net.Conn] carrying the stream inside binary messages.
func (d *Dialer) DialWebSocket(ctx context.Context, URL string) (net.Conn, error) {
	dialer := &websocket.Dialer{
		NetDialContext: d.dialer.DialContext,
		Subprotocols:   []string{WebSocketSubprotocol},
	}
	conn, resp, err := dialer.DialContext(ctx, URL, http.Header{})
	if err != nil {
		d.logger.Warnf("networkio: websocket dial failed: %s", err.Error())
		return nil, fmt.Errorf("%w: %s", ErrDial, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if proto := conn.Subprotocol(); proto != WebSocketSubprotocol {
		conn.Close()
		return nil, fmt.Errorf("%w: %q", ErrSubprotocol, proto)
	}
	d.logger.Debugf("networkio: websocket connected to %s", URL)
	return newCloseOnceConn(newWebSocketConn(conn)), nil
}
