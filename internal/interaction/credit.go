package interaction

import "github.com/rsockets2/rsockets2/internal/frame"

// creditBuffer holds payloads produced while the requester has not granted
// credit for them. Every payload handed back for sending consumes one credit.
type creditBuffer struct {
	credit  uint32
	pending []Payload
}

func (b *creditBuffer) grant(n uint32) []Payload {
	if frame.MaxRequestN-b.credit < n {
		b.credit = frame.MaxRequestN
	} else {
		b.credit += n
	}
	return b.take()
}

func (b *creditBuffer) push(p Payload) []Payload {
	b.pending = append(b.pending, p)
	return b.take()
}

func (b *creditBuffer) take() []Payload {
	n := uint32(len(b.pending))
	if n > b.credit {
		n = b.credit
	}
	if n == 0 {
		return nil
	}
	ready := b.pending[:n:n]
	b.pending = b.pending[n:]
	if len(b.pending) == 0 {
		b.pending = nil
	}
	b.credit -= n
	return ready
}

func (b *creditBuffer) empty() bool { return len(b.pending) == 0 }

func (b *creditBuffer) drop() { b.pending = nil }
