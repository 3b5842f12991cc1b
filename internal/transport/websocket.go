package transport

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rsockets2/rsockets2/internal/common"
)

type WebSocket struct {
	redialer
}

// NewWebSocket returns a transport dialing url on every Connect
func NewWebSocket(url string, header http.Header) *WebSocket {
	return &WebSocket{redialer{
		name: "websocket",
		dial: func(ctx context.Context) (frameConn, error) {
			c, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
			if err != nil {
				return nil, err
			}
			return common.NewWebSocketConn(c), nil
		},
	}}
}

// NewWebSocketConn wraps an already upgraded connection
func NewWebSocketConn(c *websocket.Conn) *WebSocket {
	return &WebSocket{redialer{name: "websocket", conn: common.NewWebSocketConn(c)}}
}

// Upgrade turns an incoming HTTP request into a websocket transport
func Upgrade(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*WebSocket, error) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketConn(c), nil
}
