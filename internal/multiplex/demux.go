package multiplex

import (
	"context"
	"sync"

	"github.com/rsockets2/rsockets2/internal/frame"
)

// Filter selects inbound frames by stream id, by frame type, by both, or
// matches everything.
type Filter struct {
	StreamID uint32
	Type     frame.Type
	byStream bool
	byType   bool
}

func StreamFilter(id uint32) Filter { return Filter{StreamID: id, byStream: true} }

func TypeFilter(t frame.Type) Filter { return Filter{Type: t, byType: true} }

func StreamTypeFilter(id uint32, t frame.Type) Filter {
	return Filter{StreamID: id, Type: t, byStream: true, byType: true}
}

func AllFrames() Filter { return Filter{} }

func (f Filter) Match(h frame.Header) bool {
	if f.byStream && h.StreamID != f.StreamID {
		return false
	}
	if f.byType && h.Type != f.Type {
		return false
	}
	return true
}

// Subscription receives the inbound frames matching its filter in arrival
// order
type Subscription struct {
	filter Filter
	box    *mailbox[frame.Frame]
	reg    *registry
	once   sync.Once
}

// Next blocks until a frame arrives, the subscription is canceled or the
// connection terminates. In the last case the connection's terminal error is
// returned.
func (s *Subscription) Next(ctx context.Context) (frame.Frame, error) {
	return s.box.next(ctx)
}

func (s *Subscription) Filter() Filter { return s.filter }

// Cancel unregisters the subscription. Frames not yet consumed are dropped.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.reg.remove(s)
		s.box.discard(ErrUnsubscribed)
	})
}

type registry struct {
	mu       sync.Mutex
	byStream map[uint32][]*Subscription
	others   []*Subscription
	err      error

	// onStreamIdle is called when the last subscription of a stream goes away
	onStreamIdle func(streamID uint32)
}

func newRegistry(onStreamIdle func(uint32)) *registry {
	return &registry{
		byStream:     make(map[uint32][]*Subscription),
		onStreamIdle: onStreamIdle,
	}
}

func (r *registry) addLocked(f Filter) *Subscription {
	sub := &Subscription{filter: f, box: newMailbox[frame.Frame](), reg: r}
	if f.byStream {
		r.byStream[f.StreamID] = append(r.byStream[f.StreamID], sub)
	} else {
		r.others = append(r.others, sub)
	}
	return sub
}

func (r *registry) add(f Filter) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.addLocked(f), nil
}

// deliver hands f to every matching subscription. If no subscription is
// bound to f's stream and accept is set, a stream subscription is created
// before anything else can observe the frame, and returned.
func (r *registry) deliver(f frame.Frame, accept bool) (handled bool, accepted *Subscription) {
	h := f.Header()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return true, nil
	}
	streamSubs := r.byStream[h.StreamID]
	for _, sub := range streamSubs {
		if sub.filter.Match(h) {
			sub.box.push(f)
			handled = true
		}
	}
	for _, sub := range r.others {
		if sub.filter.Match(h) {
			sub.box.push(f)
		}
	}
	if len(streamSubs) == 0 && accept {
		accepted = r.addLocked(StreamFilter(h.StreamID))
		handled = true
	}
	return handled, accepted
}

// wants reports whether any subscription would receive a frame with header h
func (r *registry) wants(h frame.Header) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byStream[h.StreamID]) > 0 {
		return true
	}
	for _, sub := range r.others {
		if sub.filter.Match(h) {
			return true
		}
	}
	return false
}

func (r *registry) remove(sub *Subscription) {
	r.mu.Lock()
	idle := false
	if sub.filter.byStream {
		id := sub.filter.StreamID
		subs := r.byStream[id]
		for i, s := range subs {
			if s == sub {
				subs = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(subs) == 0 {
			delete(r.byStream, id)
			idle = true
		} else {
			r.byStream[id] = subs
		}
	} else {
		for i, s := range r.others {
			if s == sub {
				r.others = append(r.others[:i], r.others[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if idle && r.onStreamIdle != nil {
		r.onStreamIdle(sub.filter.StreamID)
	}
}

// closeAll fans err out to every subscription
func (r *registry) closeAll(err error) {
	r.mu.Lock()
	if r.err != nil {
		r.mu.Unlock()
		return
	}
	r.err = err
	byStream := r.byStream
	others := r.others
	r.byStream = make(map[uint32][]*Subscription)
	r.others = nil
	r.mu.Unlock()

	for _, subs := range byStream {
		for _, sub := range subs {
			sub.box.close(err)
		}
	}
	for _, sub := range others {
		sub.box.close(err)
	}
}

func (r *registry) streams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byStream)
}
