package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsockets2/rsockets2/internal/frame"
)

func segs(s string) *frame.Segments { return frame.NewSegments([]byte(s)) }

func exchange(t *testing.T, a, b Transport) {
	require.NoError(t, a.Send(frame.NewSegments([]byte("hel"), []byte("lo"))))
	got, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	require.NoError(t, b.Send(segs("world")))
	got, err = a.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), got)
}

func TestTCP(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	accepted := make(chan *TCP, 2)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			accepted <- NewTCPConn(conn)
		}
	}()

	client := NewTCP(listener.Addr().String(), nil)
	_, err = client.Receive()
	assert.Equal(t, ErrNotConnected, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	server := <-accepted
	exchange(t, client, server)

	t.Run("reconnect", func(t *testing.T) {
		require.NoError(t, client.Close())
		_, err := server.Receive()
		assert.Error(t, err)
		require.NoError(t, server.Close())
		assert.Equal(t, ErrNotRedialable, server.Connect(ctx))

		require.NoError(t, client.Connect(ctx))
		exchange(t, client, <-accepted)
	})
}

func TestTCPDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = NewTCP(addr, nil).Connect(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connecting tcp transport")
}

func TestWebSocket(t *testing.T) {
	upgrader := &websocket.Upgrader{}
	accepted := make(chan *WebSocket, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Upgrade(upgrader, w, r)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	defer srv.Close()

	client := NewWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	server := <-accepted
	exchange(t, client, server)

	require.NoError(t, client.Close())
	_, err := server.Receive()
	assert.Error(t, err)
}

func TestPipe(t *testing.T) {
	a, b := Pipe()
	require.NoError(t, a.Connect(context.Background()))
	exchange(t, a, b)

	require.NoError(t, a.Send(segs("last")))
	require.NoError(t, a.Close())
	got, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("last"), got)
	_, err = b.Receive()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, io.ErrClosedPipe, b.Send(segs("x")))
	assert.Equal(t, io.ErrClosedPipe, b.Connect(context.Background()))
}

func TestPipeBlocksUntilSend(t *testing.T) {
	a, b := Pipe()
	got := make(chan []byte)
	go func() {
		buf, _ := b.Receive()
		got <- buf
	}()
	select {
	case <-got:
		t.Fatal("receive returned before anything was sent")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, a.Send(segs("x")))
	assert.Equal(t, []byte("x"), <-got)
}
