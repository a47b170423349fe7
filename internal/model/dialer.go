package model

import (
	"context"
	"net"
)

// Dialer is a type allowing to dial the connections carrying the negotiation.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}
