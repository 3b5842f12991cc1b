package frame

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrFragmentInterleaved = errors.New("new fragmented request on a stream with a pending fragment sequence")
	ErrOrphanFragment      = errors.New("fragment continuation of an unexpected type")
	ErrReassemblyLimit     = errors.New("fragment reassembly limit exceeded")
)

const (
	DefaultMaxPendingStreams = 1024
	DefaultMaxReassemblySize = 16 << 20
)

type partial struct {
	first       Frame
	metadata    Segments
	hasMetadata bool
	data        Segments
}

func (p *partial) add(metadata, data []byte) {
	if metadata != nil {
		p.hasMetadata = true
		p.metadata.Append(metadata)
	}
	p.data.Append(data)
}

func (p *partial) size() int { return p.metadata.Len() + p.data.Len() }

func (p *partial) joined() (metadata []byte, data []byte) {
	if p.hasMetadata {
		metadata = p.metadata.Bytes()
	}
	if p.data.Len() > 0 {
		data = p.data.Bytes()
	}
	return
}

// Reassembler joins frames carrying the follows flag into the logical frame
// they are fragments of. Pending sequences are keyed by stream id and evicted
// explicitly once a stream terminates.
type Reassembler struct {
	mu         sync.Mutex
	pending    map[uint32]*partial
	maxStreams int
	maxSize    int
}

func NewReassembler(maxStreams, maxSize int) *Reassembler {
	if maxStreams <= 0 {
		maxStreams = DefaultMaxPendingStreams
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxReassemblySize
	}
	return &Reassembler{
		pending:    make(map[uint32]*partial),
		maxStreams: maxStreams,
		maxSize:    maxSize,
	}
}

func fragmentOf(f Frame) (follows bool, metadata, data []byte, ok bool) {
	switch v := f.(type) {
	case *RequestResponse:
		return v.Follows, v.Metadata, v.Data, true
	case *RequestFNF:
		return v.Follows, v.Metadata, v.Data, true
	case *RequestStream:
		return v.Follows, v.Metadata, v.Data, true
	case *Payload:
		return v.Follows, v.Metadata, v.Data, true
	}
	return false, nil, nil, false
}

// Feed returns the complete frame once f finishes a logical frame, or nil if
// f is a fragment still waiting for its continuation. Non-fragmentable frames
// pass straight through; a CANCEL or ERROR drops any pending sequence on its
// stream.
func (r *Reassembler) Feed(f Frame) (Frame, error) {
	sid := f.Header().StreamID
	follows, metadata, data, fragmentable := fragmentOf(f)

	r.mu.Lock()
	defer r.mu.Unlock()
	p, pending := r.pending[sid]
	if !fragmentable {
		if pending {
			switch f.(type) {
			case *Cancel, *Error:
				delete(r.pending, sid)
			}
		}
		return f, nil
	}

	if !pending {
		if !follows {
			return f, nil
		}
		if len(r.pending) >= r.maxStreams {
			return nil, fmt.Errorf("%v pending streams: %w", len(r.pending), ErrReassemblyLimit)
		}
		p = &partial{first: f}
		p.add(metadata, data)
		r.pending[sid] = p
		return nil, nil
	}

	if _, isPayload := f.(*Payload); !isPayload {
		delete(r.pending, sid)
		return nil, fmt.Errorf("stream %v got %v: %w", sid, f.Header().Type, ErrFragmentInterleaved)
	}
	if p.size()+len(metadata)+len(data) > r.maxSize {
		delete(r.pending, sid)
		return nil, fmt.Errorf("stream %v over %v bytes: %w", sid, r.maxSize, ErrReassemblyLimit)
	}
	p.add(metadata, data)
	if follows {
		return nil, nil
	}
	delete(r.pending, sid)
	last := f.(*Payload)
	return p.complete(last), nil
}

func (p *partial) complete(last *Payload) Frame {
	metadata, data := p.joined()
	switch v := p.first.(type) {
	case *RequestResponse:
		return &RequestResponse{StreamID: v.StreamID, Metadata: metadata, Data: data}
	case *RequestFNF:
		return &RequestFNF{StreamID: v.StreamID, Metadata: metadata, Data: data}
	case *RequestStream:
		return &RequestStream{StreamID: v.StreamID, InitialRequestN: v.InitialRequestN, Metadata: metadata, Data: data}
	default:
		return &Payload{StreamID: last.StreamID, Complete: last.Complete, Next: last.Next, Metadata: metadata, Data: data}
	}
}

// Evict drops any pending fragment sequence for streamID
func (r *Reassembler) Evict(streamID uint32) {
	r.mu.Lock()
	delete(r.pending, streamID)
	r.mu.Unlock()
}

// EvictOrphan drops the pending sequence of streamID unless it is an inbound
// request still being assembled
func (r *Reassembler) EvictOrphan(streamID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pending[streamID]; ok {
		if _, isPayload := p.first.(*Payload); isPayload {
			delete(r.pending, streamID)
		}
	}
}

// Has reports whether a fragment sequence is pending on streamID
func (r *Reassembler) Has(streamID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[streamID]
	return ok
}

func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// IsResumable reports whether f counts towards the resume positions: REQUEST_*,
// REQUEST_N, CANCEL, PAYLOAD and stream-scoped ERROR frames.
func IsResumable(f Frame) bool {
	switch v := f.(type) {
	case *RequestResponse, *RequestFNF, *RequestStream, *RequestN, *Cancel, *Payload:
		return true
	case *Error:
		return v.StreamID != 0
	case *Unsupported:
		return v.Hdr.Type == TypeRequestChannel
	}
	return false
}
