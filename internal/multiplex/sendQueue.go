package multiplex

import (
	"sync"

	"github.com/rsockets2/rsockets2/internal/frame"
)

type outbound struct {
	header    frame.Header
	resumable bool
	segs      *frame.Segments
	// flushed marks a Flush barrier instead of a frame
	flushed chan struct{}
}

// sendQueue is an unbounded two-class priority queue. Connection-scoped
// frames (stream 0) always leave before stream-scoped ones, each class is
// FIFO.
type sendQueue struct {
	cond        *sync.Cond
	high        []outbound
	low         []outbound
	closed      bool
	interrupted bool
}

func newSendQueue() *sendQueue {
	return &sendQueue{cond: sync.NewCond(&sync.Mutex{})}
}

func (q *sendQueue) push(o outbound) error {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	if q.closed {
		return ErrDisposed
	}
	if o.header.StreamID == 0 {
		q.high = append(q.high, o)
	} else {
		q.low = append(q.low, o)
	}
	q.cond.Signal()
	return nil
}

func (q *sendQueue) pop() (outbound, error) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	for {
		if q.closed {
			return outbound{}, ErrDisposed
		}
		if q.interrupted {
			q.interrupted = false
			return outbound{}, errQueueInterrupted
		}
		if len(q.high) > 0 {
			o := q.high[0]
			q.high[0] = outbound{}
			q.high = q.high[1:]
			return o, nil
		}
		if len(q.low) > 0 {
			o := q.low[0]
			q.low[0] = outbound{}
			q.low = q.low[1:]
			return o, nil
		}
		q.cond.Wait()
	}
}

// interrupt makes the next pop return errQueueInterrupted
func (q *sendQueue) interrupt() {
	q.cond.L.Lock()
	q.interrupted = true
	q.cond.L.Unlock()
	q.cond.Broadcast()
}

func (q *sendQueue) close() {
	q.cond.L.Lock()
	q.closed = true
	q.high, q.low = nil, nil
	q.cond.L.Unlock()
	q.cond.Broadcast()
}

func (q *sendQueue) len() int {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	return len(q.high) + len(q.low)
}
