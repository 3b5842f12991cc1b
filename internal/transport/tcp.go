package transport

import (
	"context"
	"net"

	"github.com/rsockets2/rsockets2/internal/common"
)

type TCP struct {
	redialer
}

// NewTCP returns a transport dialing address with dialer on every Connect.
// A nil dialer means a plain *net.Dialer.
func NewTCP(address string, dialer common.Dialer) *TCP {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &TCP{redialer{
		name: "tcp",
		dial: func(ctx context.Context) (frameConn, error) {
			conn, err := dialer.DialContext(ctx, "tcp", address)
			if err != nil {
				return nil, err
			}
			return common.NewFramedConn(conn), nil
		},
	}}
}

// NewTCPConn wraps an accepted connection. It cannot reconnect once closed.
func NewTCPConn(conn net.Conn) *TCP {
	return &TCP{redialer{name: "tcp", conn: common.NewFramedConn(conn)}}
}
