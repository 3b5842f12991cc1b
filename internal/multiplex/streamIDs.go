package multiplex

import (
	"fmt"
	"sync"

	"github.com/rsockets2/rsockets2/internal/frame"

	log "github.com/sirupsen/logrus"
)

// idsPerParity is how many stream ids of one parity fit in 31 bits
const idsPerParity = 1 << 30

// StreamIDAllocator hands out stream ids of one parity and recycles freed
// ones. Clients use odd ids, servers even ids.
type StreamIDAllocator struct {
	mu    sync.Mutex
	first uint32
	next  uint32
	inUse map[uint32]struct{}
}

func NewStreamIDAllocator(role Role) *StreamIDAllocator {
	first := uint32(1)
	if role == RoleServer {
		first = 2
	}
	return &StreamIDAllocator{
		first: first,
		next:  first,
		inUse: make(map[uint32]struct{}),
	}
}

// Next reserves the next free id, wrapping past the 31-bit maximum
func (a *StreamIDAllocator) Next() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.inUse) >= idsPerParity {
		return 0, ErrStreamIDsExhausted
	}
	for {
		id := a.next
		a.next += 2
		if a.next > frame.MaxStreamID {
			a.next = a.first
		}
		if _, taken := a.inUse[id]; !taken {
			a.inUse[id] = struct{}{}
			return id, nil
		}
	}
}

func (a *StreamIDAllocator) Free(id uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.inUse[id]; !ok {
		log.Errorf("stream id %v freed but not reserved", id)
		return fmt.Errorf("stream %v: %w", id, ErrStreamIDNotReserved)
	}
	delete(a.inUse, id)
	return nil
}

func (a *StreamIDAllocator) InUse(id uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.inUse[id]
	return ok
}

func (a *StreamIDAllocator) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}
