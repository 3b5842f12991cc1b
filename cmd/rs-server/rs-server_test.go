package main

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rsockets2/rsockets2/internal/common"
	"github.com/rsockets2/rsockets2/internal/frame"
	"github.com/rsockets2/rsockets2/librsocket"
)

func TestResolveBindAddr(t *testing.T) {
	t.Run("port only", func(t *testing.T) {
		addrs, err := resolveBindAddr([]string{":7878"})
		require.NoError(t, err)
		assert.Equal(t, ":7878", addrs[0].String())
	})

	t.Run("specific address", func(t *testing.T) {
		addrs, err := resolveBindAddr([]string{"192.168.1.123:7878"})
		require.NoError(t, err)
		assert.Equal(t, "192.168.1.123:7878", addrs[0].String())
	})

	t.Run("ipv6", func(t *testing.T) {
		addrs, err := resolveBindAddr([]string{"[::]:7878"})
		require.NoError(t, err)
		assert.Equal(t, "[::]:7878", addrs[0].String())
	})

	t.Run("mixed", func(t *testing.T) {
		addrs, err := resolveBindAddr([]string{":80", "[::]:7878"})
		require.NoError(t, err)
		assert.Equal(t, ":80", addrs[0].String())
		assert.Equal(t, "[::]:7878", addrs[1].String())
	})

	t.Run("bad port", func(t *testing.T) {
		_, err := resolveBindAddr([]string{":http-alt-nope"})
		assert.Error(t, err)
	})
}

func TestHashOf(t *testing.T) {
	hash, err := hashOf("hunter2")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")))
}

func TestEchoResponder(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := &librsocket.Server{Responder: echoResponder{}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx, l)

	config := librsocket.Config{RemoteAddr: l.Addr().String()}
	cc, err := config.Process(common.RealWorldState)
	require.NoError(t, err)
	rs, err := librsocket.Dial(ctx, cc, nil)
	require.NoError(t, err)
	defer rs.Close()

	resp, err := rs.RequestResponse(ctx, librsocket.Payload{Data: []byte("ping")})
	require.NoError(t, err)
	assert.Equal(t, "ping", string(resp.Data))

	s, err := rs.RequestStream(librsocket.Payload{Data: []byte("a bb  ccc")}, frame.MaxRequestN)
	require.NoError(t, err)
	var got []string
	for {
		p, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, string(p.Data))
	}
	assert.Equal(t, []string{"a", "bb", "ccc"}, got)

	s, err = rs.RequestStream(librsocket.Payload{}, 1)
	require.NoError(t, err)
	_, err = s.Next(ctx)
	var appErr *librsocket.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "nothing to stream", appErr.Message)
}
