package transport

import (
	"context"
	"io"
	"sync"

	"github.com/rsockets2/rsockets2/internal/frame"
)

// frameQueue blocks pop until a frame is available or the queue is closed
type frameQueue struct {
	cond   *sync.Cond
	frames [][]byte
	closed bool
}

func newFrameQueue() *frameQueue {
	return &frameQueue{cond: sync.NewCond(&sync.Mutex{})}
}

func (q *frameQueue) push(b []byte) error {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	if q.closed {
		return io.ErrClosedPipe
	}
	q.frames = append(q.frames, b)
	q.cond.Broadcast()
	return nil
}

func (q *frameQueue) pop() ([]byte, error) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	for len(q.frames) == 0 {
		if q.closed {
			return nil, io.EOF
		}
		q.cond.Wait()
	}
	b := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return b, nil
}

func (q *frameQueue) close() {
	q.cond.L.Lock()
	q.closed = true
	q.cond.L.Unlock()
	q.cond.Broadcast()
}

func (q *frameQueue) isClosed() bool {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	return q.closed
}

// PipeEnd is one side of an in-process transport
type PipeEnd struct {
	in  *frameQueue
	out *frameQueue
}

// Pipe returns two connected transports. Closing either end closes both
// directions, and a closed pipe cannot be reconnected.
func Pipe() (*PipeEnd, *PipeEnd) {
	a, b := newFrameQueue(), newFrameQueue()
	return &PipeEnd{in: a, out: b}, &PipeEnd{in: b, out: a}
}

func (p *PipeEnd) Connect(ctx context.Context) error {
	if p.out.isClosed() {
		return io.ErrClosedPipe
	}
	return ctx.Err()
}

func (p *PipeEnd) Send(s *frame.Segments) error {
	buf := make([]byte, 0, s.Len())
	for _, c := range s.Chunks() {
		buf = append(buf, c...)
	}
	return p.out.push(buf)
}

func (p *PipeEnd) Receive() ([]byte, error) { return p.in.pop() }

func (p *PipeEnd) Close() error {
	p.in.close()
	p.out.close()
	return nil
}
