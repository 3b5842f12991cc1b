package multiplex

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rsockets2/rsockets2/internal/frame"
	"github.com/rsockets2/rsockets2/internal/transport"

	log "github.com/sirupsen/logrus"
)

type sessionState int

const (
	stateConnecting sessionState = iota
	stateConnected
	stateResuming
	stateDisconnected
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateResuming:
		return "resuming"
	}
	return "disconnected"
}

// Inbound is a request opened by the peer. Stream receives every later frame
// on the request's stream id and is nil for fire-and-forget.
type Inbound struct {
	Frame  frame.Frame
	Stream *Subscription
}

// positions are the byte counts of resumable frames sent and received
type positions struct {
	mu       sync.Mutex
	sent     uint64
	received uint64
}

func (p *positions) addSent(n int) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent += uint64(n)
	return p.sent
}

func (p *positions) addReceived(n int) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received += uint64(n)
	return p.received
}

func (p *positions) get() (sent, received uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent, p.received
}

// A Connection multiplexes streams over one transport. It owns a send loop
// draining a priority queue, a receive loop demultiplexing inbound frames to
// subscriptions, and a keepalive loop. With resumption enabled it survives
// transport failures by reconnecting and replaying unacknowledged frames.
type Connection struct {
	Config

	transport   transport.Transport
	ids         *StreamIDAllocator
	sendQ       *sendQueue
	registry    *registry
	reassembler *frame.Reassembler
	inbound     *mailbox[Inbound]
	pos         positions
	metrics     *metrics

	stateCond  *sync.Cond
	state      sessionState
	recvParked bool

	resumeToken []byte
	peerSetup   *frame.Setup

	// unix nano of the last KEEPALIVE from the peer
	lastKeepalive atomic.Int64

	closed            uint32
	terminalErrSetter sync.Once
	terminalErr       error
	done              chan struct{}
}

func NewConnection(t transport.Transport, config Config) *Connection {
	config.SetDefaultIfNotDefined()
	c := &Connection{
		Config:      config,
		transport:   t,
		ids:         NewStreamIDAllocator(config.Role),
		sendQ:       newSendQueue(),
		reassembler: frame.NewReassembler(config.MaxPendingFragments, config.MaxFragmentedSize),
		inbound:     newMailbox[Inbound](),
		metrics:     newMetrics(config.MeterProvider, config.Role),
		stateCond:   sync.NewCond(&sync.Mutex{}),
		done:        make(chan struct{}),
	}
	c.registry = newRegistry(c.reassembler.Evict)
	return c
}

func durationToMillis(d time.Duration) uint32 {
	ms := d / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return uint32(ms)
}

// Open performs the setup handshake and starts the connection's loops. A
// client connects the transport, sends SETUP and waits up to SetupTimeout for
// the first frame: a KEEPALIVE activates the connection, an ERROR is returned
// as a *ConnectionError and anything else is a protocol violation. A server
// waits for the peer's SETUP instead.
func (c *Connection) Open(ctx context.Context) error {
	var err error
	if c.Role == RoleServer {
		err = c.acceptSetup(ctx)
	} else {
		err = c.sendSetup(ctx)
	}
	if err != nil {
		c.closeWithError(err)
		return err
	}
	c.lastKeepalive.Store(c.WorldState.Now().UnixNano())
	c.setState(stateConnected)

	go c.sendLoop()
	go c.recvLoop()
	go c.keepaliveLoop()
	if c.Resume.Enabled && c.Resume.CacheTTL > 0 {
		go c.cacheJanitor()
	}
	log.Infof("%v connection established (keepalive %v, lifetime %v)", c.Role, c.KeepaliveInterval, c.MaxLifetime)
	return nil
}

func (c *Connection) sendSetup(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	setup := &frame.Setup{
		MajorVersion:      MajorVersion,
		MinorVersion:      MinorVersion,
		KeepaliveInterval: durationToMillis(c.KeepaliveInterval),
		MaxLifetime:       durationToMillis(c.MaxLifetime),
		HonorsLease:       c.HonorsLease,
		MetadataMimeType:  c.MetadataMimeType,
		DataMimeType:      c.DataMimeType,
		Metadata:          c.SetupMetadata,
		Data:              c.SetupData,
	}
	if c.Resume.Enabled {
		token, err := c.WorldState.ResumeToken()
		if err != nil {
			return fmt.Errorf("generating resume token: %w", err)
		}
		c.resumeToken = token
		setup.ResumeToken = token
	}
	if err := c.writeDirect(setup); err != nil {
		return err
	}
	if err := c.writeDirect(&frame.Keepalive{Respond: true}); err != nil {
		return err
	}

	f, err := c.receiveWithin(ctx, c.SetupTimeout)
	if err == errReceiveTimeout {
		return ErrSetupTimeout
	}
	if err != nil {
		return err
	}
	switch v := f.(type) {
	case *frame.Keepalive:
		if v.Respond {
			_, received := c.pos.get()
			return c.QueueFrame(&frame.Keepalive{LastReceivedPosition: received, Data: v.Data})
		}
		return nil
	case *frame.Error:
		return &ConnectionError{Code: v.Code, Message: v.Message}
	default:
		return fmt.Errorf("%w: %v in response to SETUP", ErrProtocol, f.Header())
	}
}

func (c *Connection) acceptSetup(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	f, err := c.receiveWithin(ctx, c.SetupTimeout)
	if err == errReceiveTimeout {
		return ErrSetupTimeout
	}
	if err != nil {
		return err
	}
	switch v := f.(type) {
	case *frame.Setup:
		if v.MajorVersion != MajorVersion {
			return c.reject(frame.ErrorCodeUnsupportedSetup, fmt.Sprintf("unsupported version %v.%v", v.MajorVersion, v.MinorVersion))
		}
		if c.AcceptSetup != nil {
			if err := c.AcceptSetup(v); err != nil {
				return c.reject(frame.ErrorCodeRejectedSetup, err.Error())
			}
		}
		if v.KeepaliveInterval > 0 {
			c.KeepaliveInterval = time.Duration(v.KeepaliveInterval) * time.Millisecond
		}
		if v.MaxLifetime > 0 {
			c.MaxLifetime = time.Duration(v.MaxLifetime) * time.Millisecond
		}
		c.MetadataMimeType = v.MetadataMimeType
		c.DataMimeType = v.DataMimeType
		c.HonorsLease = v.HonorsLease
		c.peerSetup = v
		if v.ResumeToken != nil {
			log.Debug("peer asked for resumption, which this responder does not offer")
		}
		return nil
	case *frame.Resume:
		return c.reject(frame.ErrorCodeRejectedResume, "resumption is not supported")
	default:
		return c.reject(frame.ErrorCodeInvalidSetup, fmt.Sprintf("expected SETUP, got %v", f.Header().Type))
	}
}

// reject tells the peer why the connection is refused
func (c *Connection) reject(code frame.ErrorCode, msg string) error {
	if err := c.writeDirect(&frame.Error{Code: code, Message: msg}); err != nil {
		log.Debugf("failed to send %v: %v", code, err)
	}
	return &ConnectionError{Code: code, Message: msg}
}

// writeDirect bypasses the send queue. It is only used for frames that do not
// count towards resume positions.
func (c *Connection) writeDirect(f frame.Frame) error {
	segs, err := f.Encode()
	if err != nil {
		return err
	}
	c.Valve.txWait(segs.Len())
	if err := c.transport.Send(segs); err != nil {
		return err
	}
	c.metrics.sent(f.Header().Type, segs.Len())
	log.Tracef("sent %v", f.Header())
	return nil
}

// receiveWithin reads one frame outside the receive loop. On timeout the
// transport is closed, which also unblocks the pending read.
func (c *Connection) receiveWithin(ctx context.Context, d time.Duration) (frame.Frame, error) {
	type received struct {
		buf []byte
		err error
	}
	ch := make(chan received, 1)
	go func() {
		buf, err := c.transport.Receive()
		ch <- received{buf, err}
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return c.decode(r.buf)
	case <-timer.C:
		_ = c.transport.Close()
		return nil, errReceiveTimeout
	case <-ctx.Done():
		_ = c.transport.Close()
		return nil, ctx.Err()
	}
}

func (c *Connection) decode(buf []byte) (frame.Frame, error) {
	c.Valve.rxWait(len(buf))
	f, err := frame.Decode(buf)
	if err != nil {
		return nil, err
	}
	c.metrics.received(f.Header().Type, len(buf))
	if frame.IsResumable(f) {
		c.pos.addReceived(len(buf))
	}
	log.Tracef("received %v", f.Header())
	return f, nil
}

// QueueFrame encodes f and queues it for the send loop. Frames on stream 0
// jump ahead of stream frames.
func (c *Connection) QueueFrame(f frame.Frame) error {
	if c.IsClosed() {
		return c.Err()
	}
	segs, err := f.Encode()
	if err != nil {
		return err
	}
	if err := c.sendQ.push(outbound{header: f.Header(), resumable: frame.IsResumable(f), segs: segs}); err != nil {
		return c.Err()
	}
	return nil
}

// Flush blocks until every frame queued before the call has been handed to
// the transport
func (c *Connection) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	if err := c.sendQ.push(outbound{header: frame.Header{StreamID: frame.MaxStreamID}, flushed: flushed}); err != nil {
		return c.Err()
	}
	select {
	case <-flushed:
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) NewStreamID() (uint32, error) {
	if c.IsClosed() {
		return 0, c.Err()
	}
	id, err := c.ids.Next()
	if err != nil {
		return 0, err
	}
	c.metrics.streamOpened("local")
	return id, nil
}

func (c *Connection) FreeStreamID(id uint32) error { return c.ids.Free(id) }

// Listen subscribes to inbound frames matching filter
func (c *Connection) Listen(filter Filter) (*Subscription, error) {
	return c.registry.add(filter)
}

// Accept blocks until the peer opens a request or the connection terminates
func (c *Connection) Accept(ctx context.Context) (Inbound, error) {
	return c.inbound.next(ctx)
}

func (c *Connection) sendLoop() {
	for {
		o, err := c.sendQ.pop()
		if err == ErrDisposed {
			return
		}
		if err == errQueueInterrupted {
			if c.currentState() == stateResuming {
				if err := c.resume(); err != nil {
					c.closeWithError(err)
					return
				}
			}
			continue
		}
		if o.flushed != nil {
			close(o.flushed)
			continue
		}
		if err := c.write(o); err != nil {
			if c.IsClosed() {
				return
			}
			if !c.startResuming(err) {
				c.closeWithError(fmt.Errorf("sending %v: %w", o.header, err))
				return
			}
		}
	}
}

// write caches resumable frames before they hit the wire so that a frame lost
// with a failing transport is replayed
func (c *Connection) write(o outbound) error {
	n := o.segs.Len()
	if o.resumable {
		end := c.pos.addSent(n)
		if c.Resume.Enabled {
			entry := CacheEntry{Position: end, Time: c.WorldState.Now(), Frame: o.segs.Bytes()}
			if err := c.Resume.Cache.Append(entry); err != nil {
				log.Warnf("failed to cache %v for resumption: %v", o.header, err)
			}
		}
	}
	c.Valve.txWait(n)
	if err := c.transport.Send(o.segs); err != nil {
		return err
	}
	c.metrics.sent(o.header.Type, n)
	log.Tracef("sent %v", o.header)
	return nil
}

func (c *Connection) recvLoop() {
	for {
		buf, err := c.transport.Receive()
		if err != nil {
			if c.IsClosed() {
				return
			}
			if c.startResuming(err) {
				if !c.parkUntilResumed() {
					return
				}
				continue
			}
			c.closeWithError(fmt.Errorf("receiving: %w", err))
			return
		}
		f, err := c.decode(buf)
		if err != nil {
			_ = c.reject(frame.ErrorCodeConnectionError, err.Error())
			c.closeWithError(err)
			return
		}
		c.handleFrame(f)
	}
}

func (c *Connection) handleFrame(f frame.Frame) {
	h := f.Header()
	if h.StreamID == 0 {
		c.handleConnectionFrame(f)
		c.registry.deliver(f, false)
		return
	}

	// a PAYLOAD fragment only continues a live stream or an inbound request
	// still being assembled
	_, isPayload := f.(*frame.Payload)
	if isPayload && !c.reassembler.Has(h.StreamID) && !c.registry.wants(h) {
		log.Tracef("dropping %v for an unknown stream", h)
		return
	}

	complete, err := c.reassembler.Feed(f)
	if err != nil {
		log.Warnf("stream %v: %v", h.StreamID, err)
		errFrame := &frame.Error{StreamID: h.StreamID, Code: frame.ErrorCodeInvalid, Message: err.Error()}
		_ = c.QueueFrame(errFrame)
		c.registry.deliver(errFrame, false)
		return
	}
	if complete == nil {
		if isPayload && !c.registry.wants(h) {
			// the stream went away while the fragment was buffered
			c.reassembler.EvictOrphan(h.StreamID)
		}
		return
	}

	switch v := complete.(type) {
	case *frame.Unsupported:
		c.handleUnsupported(v)
		return
	case *frame.RequestFNF:
		c.metrics.streamOpened("remote")
		if handled, _ := c.registry.deliver(complete, false); !handled {
			c.inbound.push(Inbound{Frame: complete})
		}
		return
	case *frame.RequestResponse, *frame.RequestStream:
		if _, sub := c.registry.deliver(complete, true); sub != nil {
			c.metrics.streamOpened("remote")
			if !c.inbound.push(Inbound{Frame: complete, Stream: sub}) {
				sub.Cancel()
			}
		}
		return
	}
	if handled, _ := c.registry.deliver(complete, false); !handled {
		log.Tracef("dropping %v for an unknown stream", h)
	}
}

func (c *Connection) handleUnsupported(f *frame.Unsupported) {
	switch {
	case f.Hdr.Type == frame.TypeRequestChannel:
		log.Debugf("rejecting REQUEST_CHANNEL on stream %v", f.Hdr.StreamID)
		_ = c.QueueFrame(&frame.Error{StreamID: f.Hdr.StreamID, Code: frame.ErrorCodeRejected, Message: "REQUEST_CHANNEL is not supported"})
	case f.Hdr.Type == frame.TypeMetadataPush, f.Hdr.Flags.Has(frame.FlagIgnore):
		log.Debugf("ignoring %v", f.Hdr)
	default:
		c.closeWithError(&frame.DecodeError{Type: f.Hdr.Type, Err: frame.ErrUnsupportedFrameType})
	}
}

func (c *Connection) handleConnectionFrame(f frame.Frame) {
	switch v := f.(type) {
	case *frame.Keepalive:
		c.onKeepalive(v)
	case *frame.Error:
		log.Errorf("connection error from peer: %v", v)
		c.closeWithError(&ConnectionError{Code: v.Code, Message: v.Message})
	case *frame.Lease:
		log.Debugf("ignoring LEASE (ttl %vms, %v requests)", v.TTL, v.NumberOfRequests)
	case *frame.Unsupported:
		c.handleUnsupported(v)
	default:
		log.Warnf("unexpected %v on an established connection", f.Header())
	}
}

func (c *Connection) currentState() sessionState {
	c.stateCond.L.Lock()
	defer c.stateCond.L.Unlock()
	return c.state
}

func (c *Connection) setState(s sessionState) {
	c.stateCond.L.Lock()
	if c.state != stateDisconnected {
		log.Debugf("connection %v -> %v", c.state, s)
		c.state = s
	}
	c.stateCond.L.Unlock()
	c.stateCond.Broadcast()
}

func (c *Connection) closeWithError(err error) {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return
	}
	c.terminalErrSetter.Do(func() {
		c.terminalErr = err
	})
	if err == ErrDisposed {
		log.Debugf("%v connection disposed", c.Role)
	} else {
		log.Debugf("%v connection terminated: %v", c.Role, err)
	}
	c.setState(stateDisconnected)
	close(c.done)
	c.sendQ.close()
	c.registry.closeAll(err)
	c.inbound.close(err)
	_ = c.transport.Close()
	if c.Resume.Cache != nil {
		_ = c.Resume.Cache.Close()
	}
}

// Close disposes the connection: every subscription and pending Accept
// fails with ErrDisposed and the transport is closed. Closing twice is a
// no-op.
func (c *Connection) Close() error {
	c.closeWithError(ErrDisposed)
	return nil
}

func (c *Connection) IsClosed() bool {
	return atomic.LoadUint32(&c.closed) == 1
}

func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection terminated, or nil while it is open
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.terminalErr
	default:
		return nil
	}
}

// Positions returns the send and receive positions
func (c *Connection) Positions() (sent, received uint64) { return c.pos.get() }

// PeerSetup is the SETUP frame a server accepted, nil for a client
func (c *Connection) PeerSetup() *frame.Setup { return c.peerSetup }
