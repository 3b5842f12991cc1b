package common

import (
	"context"
	"net"
)

// Dialer is satisfied by *net.Dialer
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}
