package multiplex

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO whose push never blocks, so the receive loop
// is never held up by a slow consumer. Items pushed before close are still
// handed out before the close error.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	err    error
	signal chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{signal: make(chan struct{}, 1)}
}

func (m *mailbox[T]) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox[T]) push(v T) bool {
	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()
	m.notify()
	return true
}

func (m *mailbox[T]) close(err error) {
	m.mu.Lock()
	if m.err == nil {
		m.err = err
	}
	m.mu.Unlock()
	m.notify()
}

// discard drops pending items and closes with err
func (m *mailbox[T]) discard(err error) {
	m.mu.Lock()
	m.items = nil
	if m.err == nil {
		m.err = err
	}
	m.mu.Unlock()
	m.notify()
}

func (m *mailbox[T]) next(ctx context.Context) (T, error) {
	var zero T
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.items[0]
			m.items[0] = zero
			m.items = m.items[1:]
			more := len(m.items) > 0 || m.err != nil
			m.mu.Unlock()
			if more {
				m.notify()
			}
			return v, nil
		}
		if m.err != nil {
			err := m.err
			m.mu.Unlock()
			m.notify()
			return zero, err
		}
		m.mu.Unlock()

		select {
		case <-m.signal:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (m *mailbox[T]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
