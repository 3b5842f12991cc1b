// Package interaction implements the request models on top of a multiplexed
// connection: request-response, request-stream and fire-and-forget, for both
// the requesting and the responding side.
package interaction

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rsockets2/rsockets2/internal/frame"
	"github.com/rsockets2/rsockets2/internal/multiplex"

	log "github.com/sirupsen/logrus"
)

// Conn is the part of *multiplex.Connection a requester needs
type Conn interface {
	QueueFrame(f frame.Frame) error
	NewStreamID() (uint32, error)
	FreeStreamID(id uint32) error
	Listen(filter multiplex.Filter) (*multiplex.Subscription, error)
}

// Payload is the application unit of every interaction. A nil Metadata means
// no metadata was sent, which is distinct from empty metadata.
type Payload struct {
	Metadata []byte
	Data     []byte
}

type streamState int

const (
	stateSent streamState = iota
	stateReceiving
	stateComplete
	stateErrored
	statePeerCanceled
	stateLocalCanceled
)

func (s streamState) String() string {
	switch s {
	case stateSent:
		return "sent"
	case stateReceiving:
		return "receiving"
	case stateComplete:
		return "complete"
	case stateErrored:
		return "errored"
	case statePeerCanceled:
		return "canceled by peer"
	}
	return "canceled"
}

func (s streamState) terminal() bool { return s >= stateComplete }

// Stream is a locally requested interaction. Responses are read with Next
// until it returns io.EOF on completion or the error that ended the stream.
// Whichever way the stream ends, its subscription is released and its id
// freed exactly once.
type Stream struct {
	conn   Conn
	id     uint32
	kind   frame.Type
	sub    *multiplex.Subscription
	single bool

	mu    sync.Mutex
	state streamState
	err   error

	teardownOnce sync.Once
}

func open(conn Conn, kind frame.Type, build func(id uint32) frame.Frame) (*Stream, error) {
	id, err := conn.NewStreamID()
	if err != nil {
		return nil, err
	}
	sub, err := conn.Listen(multiplex.StreamFilter(id))
	if err != nil {
		_ = conn.FreeStreamID(id)
		return nil, err
	}
	s := &Stream{
		conn:   conn,
		id:     id,
		kind:   kind,
		sub:    sub,
		single: kind == frame.TypeRequestResponse,
	}
	if err := conn.QueueFrame(build(id)); err != nil {
		s.mu.Lock()
		s.finish(stateErrored, err, false)
		s.mu.Unlock()
		return nil, err
	}
	log.Tracef("stream %v: %v sent", id, kind)
	return s, nil
}

// RequestStream sends REQUEST_STREAM with initialN credits. Further credit is
// granted with Request.
func RequestStream(conn Conn, req Payload, initialN uint32) (*Stream, error) {
	if initialN > frame.MaxRequestN {
		initialN = frame.MaxRequestN
	}
	return open(conn, frame.TypeRequestStream, func(id uint32) frame.Frame {
		return &frame.RequestStream{StreamID: id, InitialRequestN: initialN, Metadata: req.Metadata, Data: req.Data}
	})
}

// RequestResponse sends REQUEST_RESPONSE and waits for the single reply. A
// peer completing without a value yields an empty Payload. Canceling ctx
// before the reply arrives cancels the request on the peer.
func RequestResponse(ctx context.Context, conn Conn, req Payload) (Payload, error) {
	s, err := open(conn, frame.TypeRequestResponse, func(id uint32) frame.Frame {
		return &frame.RequestResponse{StreamID: id, Metadata: req.Metadata, Data: req.Data}
	})
	if err != nil {
		return Payload{}, err
	}
	p, err := s.Next(ctx)
	switch {
	case err == io.EOF:
		return Payload{}, nil
	case err != nil && ctx.Err() != nil:
		s.Cancel()
		return Payload{}, ctx.Err()
	}
	return p, err
}

// FireAndForget sends REQUEST_FNF. The stream id is freed as soon as the
// frame is queued since no reply ever comes back.
func FireAndForget(conn Conn, req Payload) error {
	id, err := conn.NewStreamID()
	if err != nil {
		return err
	}
	defer conn.FreeStreamID(id)
	return conn.QueueFrame(&frame.RequestFNF{StreamID: id, Metadata: req.Metadata, Data: req.Data})
}

func (s *Stream) StreamID() uint32 { return s.id }

// Next blocks for the next payload. A canceled ctx only abandons the wait;
// use Cancel to end the stream.
func (s *Stream) Next(ctx context.Context) (Payload, error) {
	for {
		s.mu.Lock()
		if s.state.terminal() {
			err := s.err
			s.mu.Unlock()
			return Payload{}, err
		}
		s.mu.Unlock()

		f, err := s.sub.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
				return Payload{}, err
			}
			s.mu.Lock()
			if !s.state.terminal() {
				// the connection went away under us
				s.finish(stateErrored, err, false)
			}
			err = s.err
			s.mu.Unlock()
			return Payload{}, err
		}

		if p, ok := s.handle(f); ok {
			return p, nil
		}
	}
}

func (s *Stream) handle(f frame.Frame) (Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return Payload{}, false
	}
	switch v := f.(type) {
	case *frame.Payload:
		s.state = stateReceiving
		if v.Complete || (v.Next && s.single) {
			s.finish(stateComplete, io.EOF, false)
		}
		if v.Next {
			return Payload{Metadata: v.Metadata, Data: v.Data}, true
		}
	case *frame.Error:
		s.finish(stateErrored, FromErrorFrame(v), false)
	case *frame.Cancel:
		s.finish(statePeerCanceled, ErrStreamCanceledByPeer, false)
	default:
		err := &ProtocolError{
			Code:    frame.ErrorCodeInvalid,
			Message: fmt.Sprintf("%v cannot handle %v", s.kind, f.Header().Type),
		}
		s.finish(stateErrored, err, true)
	}
	return Payload{}, false
}

// Request grants the peer n more payloads. It is a no-op for n == 0.
func (s *Stream) Request(n uint32) error {
	if n == 0 {
		return nil
	}
	if n > frame.MaxRequestN {
		n = frame.MaxRequestN
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return ErrStreamClosed
	}
	return s.conn.QueueFrame(&frame.RequestN{StreamID: s.id, N: n})
}

// Cancel ends the stream and tells the peer with a CANCEL frame, unless the
// stream already ended. Calling it more than once is harmless.
func (s *Stream) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return
	}
	s.finish(stateLocalCanceled, ErrStreamClosed, true)
}

// finish must be called with mu held
func (s *Stream) finish(state streamState, err error, cancelPeer bool) {
	log.Debugf("stream %v: %v -> %v", s.id, s.state, state)
	s.state = state
	s.err = err
	if cancelPeer {
		if qErr := s.conn.QueueFrame(&frame.Cancel{StreamID: s.id}); qErr != nil {
			log.Debugf("stream %v: could not send CANCEL: %v", s.id, qErr)
		}
	}
	s.teardownOnce.Do(func() {
		s.sub.Cancel()
		_ = s.conn.FreeStreamID(s.id)
	})
}
