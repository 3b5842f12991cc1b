package interaction

import (
	"sync"

	"github.com/rsockets2/rsockets2/internal/frame"

	log "github.com/sirupsen/logrus"
)

type frameQueuer interface {
	QueueFrame(f frame.Frame) error
}

// sinkState is shared by both sinks. done is closed on the first terminal
// signal or on cancellation by the peer.
type sinkState struct {
	conn     frameQueuer
	streamID uint32

	mu         sync.Mutex
	terminated bool
	canceled   bool
	done       chan struct{}
}

func (s *sinkState) init(conn frameQueuer, streamID uint32) {
	s.conn = conn
	s.streamID = streamID
	s.done = make(chan struct{})
}

// Done is closed once the stream needs no more signals from the handler
func (s *sinkState) Done() <-chan struct{} { return s.done }

// terminate must be called with mu held. It reports whether the caller may
// emit the terminal frame.
func (s *sinkState) terminate() error {
	if s.canceled {
		return ErrStreamClosed
	}
	if s.terminated {
		log.Errorf("stream %v: terminal signal after the stream terminated", s.streamID)
		return ErrAlreadyTerminated
	}
	s.terminated = true
	close(s.done)
	return nil
}

func (s *sinkState) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return
	}
	s.canceled = true
	if !s.terminated {
		close(s.done)
	}
	log.Debugf("stream %v canceled by peer", s.streamID)
}

// ResponseSink carries the single reply of a request-response handler. The
// first of Success, Complete and Error wins; later calls return
// ErrAlreadyTerminated and send nothing. After the peer canceled, every call
// returns ErrStreamClosed.
type ResponseSink struct {
	sinkState
}

func newResponseSink(conn frameQueuer, streamID uint32) *ResponseSink {
	s := &ResponseSink{}
	s.init(conn, streamID)
	return s
}

func (s *ResponseSink) emit(f frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.terminate(); err != nil {
		return err
	}
	return s.conn.QueueFrame(f)
}

func (s *ResponseSink) Success(p Payload) error {
	return s.emit(&frame.Payload{StreamID: s.streamID, Next: true, Complete: true, Metadata: p.Metadata, Data: p.Data})
}

// Complete finishes without a value by sending an empty completing PAYLOAD
func (s *ResponseSink) Complete() error {
	return s.emit(&frame.Payload{StreamID: s.streamID, Complete: true})
}

func (s *ResponseSink) Error(err error) error {
	return s.emit(toErrorFrame(s.streamID, err))
}

// StreamSink carries the payloads of a request-stream handler. Payloads are
// sent only against credit granted by the requester and buffered otherwise;
// Next never blocks. Complete is deferred until the buffer drained, Error is
// sent at once and drops whatever is still buffered. Once Complete was
// accepted, Error returns ErrAlreadyTerminated like any other late signal.
type StreamSink struct {
	sinkState
	buf        creditBuffer
	completing bool
}

func newStreamSink(conn frameQueuer, streamID uint32, initialN uint32) *StreamSink {
	s := &StreamSink{}
	s.init(conn, streamID)
	s.buf.grant(initialN)
	return s
}

// mu must be held
func (s *StreamSink) send(ready []Payload) error {
	for _, p := range ready {
		f := &frame.Payload{StreamID: s.streamID, Next: true, Metadata: p.Metadata, Data: p.Data}
		if err := s.conn.QueueFrame(f); err != nil {
			return err
		}
	}
	if s.completing && s.buf.empty() {
		s.completing = false
		if err := s.terminate(); err != nil {
			return err
		}
		return s.conn.QueueFrame(&frame.Payload{StreamID: s.streamID, Complete: true})
	}
	return nil
}

func (s *StreamSink) Next(p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return ErrStreamClosed
	}
	if s.terminated || s.completing {
		log.Errorf("stream %v: payload after the stream terminated", s.streamID)
		return ErrAlreadyTerminated
	}
	return s.send(s.buf.push(p))
}

func (s *StreamSink) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return ErrStreamClosed
	}
	if s.terminated || s.completing {
		log.Errorf("stream %v: completed twice", s.streamID)
		return ErrAlreadyTerminated
	}
	s.completing = true
	return s.send(nil)
}

func (s *StreamSink) Error(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return ErrStreamClosed
	}
	if s.terminated || s.completing {
		log.Errorf("stream %v: error after the stream terminated: %v", s.streamID, err)
		return ErrAlreadyTerminated
	}
	if tErr := s.terminate(); tErr != nil {
		return tErr
	}
	s.buf.drop()
	return s.conn.QueueFrame(toErrorFrame(s.streamID, err))
}

func (s *StreamSink) request(n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled || s.terminated {
		return
	}
	if err := s.send(s.buf.grant(n)); err != nil {
		log.Debugf("stream %v: %v", s.streamID, err)
	}
}

func (s *StreamSink) cancel() {
	s.sinkState.cancel()
	s.mu.Lock()
	s.buf.drop()
	s.mu.Unlock()
}
