package multiplex

import (
	"fmt"
	"time"

	"github.com/rsockets2/rsockets2/internal/frame"

	log "github.com/sirupsen/logrus"
)

// keepaliveLoop runs at 80% of the keepalive interval. A client emits a
// KEEPALIVE asking for a response; both roles fail the connection once the
// peer has been silent for longer than MaxLifetime.
func (c *Connection) keepaliveLoop() {
	ticker := time.NewTicker(c.KeepaliveInterval * 8 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		if c.currentState() != stateConnected {
			continue
		}
		if c.Role == RoleClient {
			_, received := c.pos.get()
			if err := c.QueueFrame(&frame.Keepalive{Respond: true, LastReceivedPosition: received}); err != nil {
				return
			}
		}
		last := time.Unix(0, c.lastKeepalive.Load())
		if silence := c.WorldState.Now().Sub(last); silence > c.MaxLifetime {
			log.Warnf("no keepalive from peer for %v", silence)
			c.closeWithError(fmt.Errorf("%w: silent for %v", ErrKeepaliveTimeout, silence))
			return
		}
	}
}

func (c *Connection) onKeepalive(ka *frame.Keepalive) {
	c.lastKeepalive.Store(c.WorldState.Now().UnixNano())
	if c.Resume.Enabled {
		if err := c.Resume.Cache.Release(ka.LastReceivedPosition); err != nil {
			log.Warnf("failed to prune send cache: %v", err)
		}
	}
	if ka.Respond {
		_, received := c.pos.get()
		_ = c.QueueFrame(&frame.Keepalive{LastReceivedPosition: received, Data: ka.Data})
	}
}

// cacheJanitor ages out cached frames independently of acknowledgement
func (c *Connection) cacheJanitor() {
	ticker := time.NewTicker(c.Resume.CacheTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		if err := c.Resume.Cache.ReleaseBefore(c.WorldState.Now().Add(-c.Resume.CacheTTL)); err != nil {
			log.Warnf("failed to age out send cache: %v", err)
		}
	}
}
