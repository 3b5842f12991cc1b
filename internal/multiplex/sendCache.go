package multiplex

import (
	"sync"
	"time"
)

// CacheEntry is a sent frame kept for replay. Position is the send position
// right after the frame, so the frame starts at Position-len(Frame).
type CacheEntry struct {
	Position uint64
	Time     time.Time
	Frame    []byte
}

func (e CacheEntry) Start() uint64 { return e.Position - uint64(len(e.Frame)) }

// SendCache keeps sent resumable frames until the peer acknowledges them.
// Entries are appended in increasing Position order.
type SendCache interface {
	Append(e CacheEntry) error
	// Release drops every entry with Position <= acked
	Release(acked uint64) error
	// ReleaseBefore drops every entry older than t
	ReleaseBefore(t time.Time) error
	// Since returns the entries with Position > acked, oldest first
	Since(acked uint64) ([]CacheEntry, error)
	// First returns the oldest entry still cached
	First() (CacheEntry, bool, error)
	Len() int
	Close() error
}

type MemorySendCache struct {
	mu      sync.Mutex
	entries []CacheEntry
}

func NewMemorySendCache() *MemorySendCache { return &MemorySendCache{} }

func (c *MemorySendCache) Append(e CacheEntry) error {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
	return nil
}

func (c *MemorySendCache) dropWhile(drop func(CacheEntry) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := 0
	for i < len(c.entries) && drop(c.entries[i]) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(c.entries, c.entries[i:])
	for j := n; j < len(c.entries); j++ {
		c.entries[j] = CacheEntry{}
	}
	c.entries = c.entries[:n]
}

func (c *MemorySendCache) Release(acked uint64) error {
	c.dropWhile(func(e CacheEntry) bool { return e.Position <= acked })
	return nil
}

func (c *MemorySendCache) ReleaseBefore(t time.Time) error {
	c.dropWhile(func(e CacheEntry) bool { return e.Time.Before(t) })
	return nil
}

func (c *MemorySendCache) Since(acked uint64) ([]CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ret []CacheEntry
	for _, e := range c.entries {
		if e.Position > acked {
			ret = append(ret, e)
		}
	}
	return ret, nil
}

func (c *MemorySendCache) First() (CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return CacheEntry{}, false, nil
	}
	return c.entries[0], true, nil
}

func (c *MemorySendCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemorySendCache) Close() error {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
	return nil
}
