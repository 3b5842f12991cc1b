package librsocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsockets2/rsockets2/internal/common"
	"github.com/rsockets2/rsockets2/internal/frame"
	"github.com/rsockets2/rsockets2/librsocket/extension"
)

type echoResponder struct{}

func (echoResponder) RequestResponse(_ context.Context, req Payload, sink *ResponseSink) {
	if string(req.Data) == "fail" {
		_ = sink.Error(errors.New("asked to fail"))
		return
	}
	_ = sink.Success(req)
}

func (echoResponder) RequestStream(_ context.Context, req Payload, sink *StreamSink) {
	for _, b := range req.Data {
		_ = sink.Next(Payload{Data: []byte{b}})
	}
	_ = sink.Complete()
}

func (echoResponder) FireAndForget(context.Context, Payload) {}

func startTCPServer(t *testing.T) (*Server, string) {
	t.Helper()
	server := &Server{Responder: echoResponder{}}
	return server, serveTCP(t, server)
}

func serveTCP(t *testing.T, server *Server) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		_ = server.Serve(ctx, l)
		close(served)
	}()
	t.Cleanup(func() {
		cancel()
		<-served
	})
	return l.Addr().String()
}

func dial(t *testing.T, config Config) *RSocket {
	t.Helper()
	cc, err := config.Process(common.RealWorldState)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rs, err := Dial(ctx, cc, nil)
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })
	return rs
}

func exercise(t *testing.T, rs *RSocket) {
	ctx := context.Background()
	resp, err := rs.RequestResponse(ctx, Payload{Metadata: []byte("route"), Data: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, Payload{Metadata: []byte("route"), Data: []byte("hello")}, resp)

	_, err = rs.RequestResponse(ctx, Payload{Data: []byte("fail")})
	var appErr *ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "asked to fail", appErr.Message)

	s, err := rs.RequestStream(Payload{Data: []byte("abc")}, 2)
	require.NoError(t, err)
	var got []byte
	for i := 0; i < 2; i++ {
		p, err := s.Next(ctx)
		require.NoError(t, err)
		got = append(got, p.Data...)
	}
	require.NoError(t, s.Request(1))
	p, err := s.Next(ctx)
	require.NoError(t, err)
	got = append(got, p.Data...)
	_, err = s.Next(ctx)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "abc", string(got))

	assert.NoError(t, rs.FireAndForget(Payload{Data: []byte("fire")}))
}

func TestDialTCP(t *testing.T) {
	server, addr := startTCPServer(t)
	rs := dial(t, Config{Transport: "tcp", RemoteAddr: addr, KeepaliveInterval: Duration{2 * time.Second}})
	exercise(t, rs)

	require.Eventually(t, func() bool { return server.SessionCount() == 1 }, time.Second, 10*time.Millisecond)
	info := server.Sessions()[0]
	assert.Equal(t, "tcp", info.Transport)
	assert.Equal(t, "2s", info.KeepaliveInterval)
	assert.Greater(t, info.BytesIn, int64(0))

	rx, tx := rs.Usage()
	assert.Greater(t, rx, int64(0))
	assert.Greater(t, tx, int64(0))

	require.NoError(t, rs.Close())
	assert.Equal(t, ErrDisposed, rs.Err())
	require.Eventually(t, func() bool { return server.SessionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestDialWebSocket(t *testing.T) {
	server := &Server{Responder: echoResponder{}}
	hs := httptest.NewServer(server)
	defer hs.Close()

	rs := dial(t, Config{Transport: "websocket", RemoteAddr: "ws" + strings.TrimPrefix(hs.URL, "http")})
	exercise(t, rs)
	require.Eventually(t, func() bool { return server.SessionCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "websocket", server.Sessions()[0].Transport)
}

func TestDialAuthenticated(t *testing.T) {
	creds := extension.Credentials{}
	require.NoError(t, creds.Add("alice", []byte("hunter2")))
	server := &Server{Responder: echoResponder{}, Credentials: creds}
	addr := serveTCP(t, server)

	rs := dial(t, Config{RemoteAddr: addr, Username: "alice", Password: "hunter2"})
	exercise(t, rs)
	require.Eventually(t, func() bool { return server.SessionCount() == 1 }, time.Second, 10*time.Millisecond)
	info := server.Sessions()[0]
	assert.Equal(t, "alice", info.User)
	assert.Equal(t, extension.MimeTypeCompositeMetadata, info.MetadataMimeType)

	for name, config := range map[string]Config{
		"wrong password": {RemoteAddr: addr, Username: "alice", Password: "nope"},
		"anonymous":      {RemoteAddr: addr},
	} {
		t.Run(name, func(t *testing.T) {
			cc, err := config.Process(common.RealWorldState)
			require.NoError(t, err)
			_, err = Dial(context.Background(), cc, nil)
			var connErr *ConnectionError
			require.True(t, errors.As(err, &connErr), "got %v", err)
			assert.Equal(t, frame.ErrorCodeRejectedSetup, connErr.Code)
		})
	}
}

func TestDialRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	cc, err := (&Config{RemoteAddr: addr}).Process(common.RealWorldState)
	require.NoError(t, err)
	_, err = Dial(context.Background(), cc, nil)
	assert.Error(t, err)
}

func TestAdminRouter(t *testing.T) {
	server, addr := startTCPServer(t)
	rs := dial(t, Config{RemoteAddr: addr})
	require.Eventually(t, func() bool { return server.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	admin := httptest.NewServer(server.AdminRouter())
	defer admin.Close()

	resp, err := http.Get(admin.URL + "/admin/sessions")
	require.NoError(t, err)
	var infos []SessionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	resp.Body.Close()
	require.Len(t, infos, 1)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(admin.URL + "/admin/sessions/" + infos[0].ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(admin.URL + "/admin/sessions/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, admin.URL+"/admin/sessions/"+infos[0].ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	select {
	case <-rs.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client survived its session being closed")
	}
	assert.Error(t, rs.Err())
}
