// Package transport moves whole frames between two peers. Framing is the
// transport's job: TCP prefixes each frame with a 3-byte length, WebSocket
// sends one frame per binary message.
package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/rsockets2/rsockets2/internal/frame"
)

var (
	ErrNotConnected  = errors.New("transport is not connected")
	ErrNotRedialable = errors.New("an accepted transport cannot reconnect")
)

// Transport is one frame-oriented link to a peer. Connect may be called again
// after Close to establish a fresh link, which is how a session resumes.
type Transport interface {
	Connect(ctx context.Context) error
	Send(s *frame.Segments) error
	// Receive blocks until exactly one complete frame is available
	Receive() ([]byte, error)
	Close() error
}

type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(s *frame.Segments) error
	Close() error
}

type dialFunc func(ctx context.Context) (frameConn, error)

// redialer holds the current frameConn of a dialed or accepted transport
type redialer struct {
	name string
	dial dialFunc

	connM sync.RWMutex
	conn  frameConn
}

func (r *redialer) Connect(ctx context.Context) error {
	if r.dial == nil {
		r.connM.RLock()
		defer r.connM.RUnlock()
		if r.conn == nil {
			return ErrNotRedialable
		}
		return nil
	}
	conn, err := r.dial(ctx)
	if err != nil {
		return errors.Wrapf(err, "connecting %v transport", r.name)
	}
	r.connM.Lock()
	old := r.conn
	r.conn = conn
	r.connM.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (r *redialer) current() (frameConn, error) {
	r.connM.RLock()
	defer r.connM.RUnlock()
	if r.conn == nil {
		return nil, ErrNotConnected
	}
	return r.conn, nil
}

func (r *redialer) Send(s *frame.Segments) error {
	conn, err := r.current()
	if err != nil {
		return err
	}
	return conn.WriteFrame(s)
}

func (r *redialer) Receive() ([]byte, error) {
	conn, err := r.current()
	if err != nil {
		return nil, err
	}
	return conn.ReadFrame()
}

func (r *redialer) Close() error {
	r.connM.Lock()
	conn := r.conn
	r.conn = nil
	r.connM.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
