package interaction

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/rsockets2/rsockets2/internal/frame"
	"github.com/rsockets2/rsockets2/internal/multiplex"

	log "github.com/sirupsen/logrus"
)

// Responder handles requests opened by the peer. Handlers run on the
// dispatcher's worker pool and may reply asynchronously through the sink
// after returning. ctx is canceled once the sink is done, the peer cancels or
// the connection terminates.
type Responder interface {
	RequestResponse(ctx context.Context, req Payload, sink *ResponseSink)
	RequestStream(ctx context.Context, req Payload, sink *StreamSink)
	FireAndForget(ctx context.Context, req Payload)
}

// NopResponder rejects every request
type NopResponder struct{}

var errNoResponder = &ProtocolError{Code: frame.ErrorCodeRejected, Message: "no responder"}

func (NopResponder) RequestResponse(_ context.Context, _ Payload, sink *ResponseSink) {
	_ = sink.Error(errNoResponder)
}

func (NopResponder) RequestStream(_ context.Context, _ Payload, sink *StreamSink) {
	_ = sink.Error(errNoResponder)
}

func (NopResponder) FireAndForget(context.Context, Payload) {}

// ServerConn is the part of *multiplex.Connection a dispatcher needs
type ServerConn interface {
	QueueFrame(f frame.Frame) error
	Accept(ctx context.Context) (multiplex.Inbound, error)
}

const DefaultWorkers = 16

// Dispatcher accepts the peer's requests and runs them against a Responder
// on a bounded pool of workers, keeping user code off the connection loops.
type Dispatcher struct {
	conn      ServerConn
	responder Responder
	workers   *semaphore.Weighted
	wg        sync.WaitGroup
}

func NewDispatcher(conn ServerConn, responder Responder, workers int64) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if responder == nil {
		responder = NopResponder{}
	}
	return &Dispatcher{
		conn:      conn,
		responder: responder,
		workers:   semaphore.NewWeighted(workers),
	}
}

// Serve dispatches requests until the connection terminates or ctx is
// canceled, then waits for running handlers to return.
func (d *Dispatcher) Serve(ctx context.Context) error {
	defer d.wg.Wait()
	for {
		in, err := d.conn.Accept(ctx)
		if err != nil {
			return err
		}
		if err := d.dispatch(ctx, in); err != nil {
			if in.Stream != nil {
				in.Stream.Cancel()
			}
			return err
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, in multiplex.Inbound) error {
	switch req := in.Frame.(type) {
	case *frame.RequestFNF:
		p := Payload{Metadata: req.Metadata, Data: req.Data}
		return d.run(ctx, req.StreamID, nil, func(ctx context.Context) {
			d.responder.FireAndForget(ctx, p)
		})
	case *frame.RequestResponse:
		sink := newResponseSink(d.conn, req.StreamID)
		hctx, cancel := context.WithCancel(ctx)
		d.wg.Add(1)
		go d.watch(hctx, cancel, in.Stream, &sink.sinkState, nil)
		p := Payload{Metadata: req.Metadata, Data: req.Data}
		return d.run(hctx, req.StreamID, sink.Error, func(ctx context.Context) {
			d.responder.RequestResponse(ctx, p, sink)
		})
	case *frame.RequestStream:
		sink := newStreamSink(d.conn, req.StreamID, req.InitialRequestN)
		hctx, cancel := context.WithCancel(ctx)
		d.wg.Add(1)
		go d.watch(hctx, cancel, in.Stream, &sink.sinkState, sink)
		p := Payload{Metadata: req.Metadata, Data: req.Data}
		return d.run(hctx, req.StreamID, sink.Error, func(ctx context.Context) {
			d.responder.RequestStream(ctx, p, sink)
		})
	default:
		log.Warnf("no handler for inbound %v", in.Frame.Header())
		return nil
	}
}

// run waits for a free worker and calls handle on it. A panicking handler
// fails its stream through fail, when there is one.
func (d *Dispatcher) run(ctx context.Context, streamID uint32, fail func(error) error, handle func(context.Context)) error {
	if err := d.workers.Acquire(ctx, 1); err != nil {
		return err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.workers.Release(1)
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("stream %v: handler panicked: %v\n%s", streamID, r, debug.Stack())
				if fail != nil {
					_ = fail(fmt.Errorf("handler panicked: %v", r))
				}
			}
		}()
		handle(ctx)
	}()
	return nil
}

// watch follows the requester's frames on a responding stream until the
// sink is done. credit is nil for request-response.
func (d *Dispatcher) watch(ctx context.Context, cancel context.CancelFunc, sub *multiplex.Subscription, state *sinkState, credit *StreamSink) {
	defer d.wg.Done()
	defer sub.Cancel()
	defer cancel()
	stop := state.cancel
	if credit != nil {
		stop = credit.cancel
	}
	go func() {
		select {
		case <-state.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	for {
		f, err := sub.Next(ctx)
		if err != nil {
			return
		}
		switch v := f.(type) {
		case *frame.Cancel:
			stop()
			return
		case *frame.RequestN:
			if credit != nil {
				credit.request(v.N)
			}
		case *frame.Error:
			log.Debugf("stream %v: requester failed: %v", v.StreamID, FromErrorFrame(v))
			stop()
			return
		default:
			log.Warnf("stream %v: unexpected %v from requester", state.streamID, f.Header().Type)
		}
	}
}
