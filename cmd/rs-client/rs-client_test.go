package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsockets2/rsockets2/internal/common"
	"github.com/rsockets2/rsockets2/internal/frame"
	"github.com/rsockets2/rsockets2/librsocket"
	"github.com/rsockets2/rsockets2/librsocket/extension"
)

func TestBuildMetadata(t *testing.T) {
	md, err := buildMetadata("", nil)
	require.NoError(t, err)
	assert.Nil(t, md)

	md, err = buildMetadata("raw", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), md)

	md, err = buildMetadata("raw", []string{"orders", "v2"})
	require.NoError(t, err)
	entries, err := extension.DecodeComposite(md)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	tags, err := extension.DecodeRoutes(entries[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "v2"}, tags)
	assert.Equal(t, []byte("raw"), entries[1].Payload)
}

type wordsResponder struct{}

func (wordsResponder) RequestResponse(_ context.Context, req librsocket.Payload, sink *librsocket.ResponseSink) {
	if len(req.Data) == 0 {
		_ = sink.Error(errors.New("empty"))
		return
	}
	_ = sink.Success(req)
}

func (wordsResponder) RequestStream(_ context.Context, req librsocket.Payload, sink *librsocket.StreamSink) {
	for _, w := range bytes.Fields(req.Data) {
		_ = sink.Next(librsocket.Payload{Data: w})
	}
	_ = sink.Complete()
}

func (wordsResponder) FireAndForget(context.Context, librsocket.Payload) {}

func TestRun(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go (&librsocket.Server{Responder: wordsResponder{}}).Serve(ctx, l)

	cc, err := (&librsocket.Config{RemoteAddr: l.Addr().String()}).Process(common.RealWorldState)
	require.NoError(t, err)
	rs, err := librsocket.Dial(ctx, cc, nil)
	require.NoError(t, err)
	defer rs.Close()

	var out bytes.Buffer
	require.NoError(t, run(ctx, rs, "rr", librsocket.Payload{Data: []byte("hello")}, 1, &out))
	assert.Equal(t, "hello\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, rs, "stream", librsocket.Payload{Data: []byte("x y z")}, 2, &out))
	assert.Equal(t, "x\ny\nz\n", out.String())

	assert.NoError(t, run(ctx, rs, "fnf", librsocket.Payload{Data: []byte("bye")}, 0, &out))
	assert.Error(t, run(ctx, rs, "rr", librsocket.Payload{}, 1, &out))
	assert.ErrorContains(t, run(ctx, rs, "stream", librsocket.Payload{Data: []byte("x")}, 0, &out), "request-n")
	assert.ErrorContains(t, run(ctx, rs, "stream", librsocket.Payload{Data: []byte("x")}, frame.MaxRequestN+1, &out), "request-n")
	assert.ErrorContains(t, run(ctx, rs, "channel", librsocket.Payload{}, 1, &out), "unknown mode")
}
