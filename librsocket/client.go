// Package librsocket is the public entry point: Dial connects a client,
// Server accepts connections, and both expose the request models to
// application code.
package librsocket

import (
	"context"

	"github.com/rsockets2/rsockets2/internal/interaction"
	"github.com/rsockets2/rsockets2/internal/multiplex"

	log "github.com/sirupsen/logrus"
)

type (
	Payload      = interaction.Payload
	Responder    = interaction.Responder
	NopResponder = interaction.NopResponder
	ResponseSink = interaction.ResponseSink
	StreamSink   = interaction.StreamSink
	Stream       = interaction.Stream

	ApplicationError = interaction.ApplicationError
	CanceledError    = interaction.CanceledError
	ProtocolError    = interaction.ProtocolError
	ConnectionError  = multiplex.ConnectionError
)

var (
	ErrStreamCanceledByPeer = interaction.ErrStreamCanceledByPeer
	ErrStreamClosed         = interaction.ErrStreamClosed
	ErrAlreadyTerminated    = interaction.ErrAlreadyTerminated
	ErrDisposed             = multiplex.ErrDisposed
)

// RSocket is an established connection to a server. Requests the server
// opens on it are handed to the Responder given to Dial.
type RSocket struct {
	conn *multiplex.Connection
}

// Dial connects, performs the SETUP handshake and starts serving the
// server's requests. A nil responder rejects them.
func Dial(ctx context.Context, cc ConnConfig, responder Responder) (*RSocket, error) {
	mc := cc.Multiplex
	if mc.Resume.Enabled {
		if cc.CacheMaker != nil {
			cache, err := cc.CacheMaker()
			if err != nil {
				return nil, err
			}
			mc.Resume.Cache = cache
		} else {
			mc.Resume.Cache = multiplex.NewMemorySendCache()
		}
	}
	conn := multiplex.NewConnection(cc.TransportMaker(), mc)
	if err := conn.Open(ctx); err != nil {
		return nil, err
	}
	go func() {
		err := interaction.NewDispatcher(conn, responder, cc.Workers).Serve(context.Background())
		log.Debugf("stopped serving server requests: %v", err)
	}()
	return &RSocket{conn: conn}, nil
}

// RequestResponse waits for the server's single reply. Canceling ctx cancels
// the request.
func (r *RSocket) RequestResponse(ctx context.Context, req Payload) (Payload, error) {
	return interaction.RequestResponse(ctx, r.conn, req)
}

// RequestStream opens a stream with initialN credits. Use frame.MaxRequestN,
// 0x7FFFFFFF, for an unbounded stream.
func (r *RSocket) RequestStream(req Payload, initialN uint32) (*Stream, error) {
	return interaction.RequestStream(r.conn, req, initialN)
}

func (r *RSocket) FireAndForget(req Payload) error {
	return interaction.FireAndForget(r.conn, req)
}

func (r *RSocket) Close() error { return r.conn.Close() }

func (r *RSocket) IsClosed() bool { return r.conn.IsClosed() }

func (r *RSocket) Done() <-chan struct{} { return r.conn.Done() }

// Err is the reason the connection ended, nil while it is open
func (r *RSocket) Err() error { return r.conn.Err() }

// Usage returns the bytes read from and written to the transport
func (r *RSocket) Usage() (rx, tx int64) { return r.conn.Valve.GetRx(), r.conn.Valve.GetTx() }
