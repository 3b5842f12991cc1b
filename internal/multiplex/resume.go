package multiplex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rsockets2/rsockets2/internal/frame"

	log "github.com/sirupsen/logrus"
)

const parkTimeout = 5 * time.Second

// startResuming moves a connected session to resuming after a transport
// failure and wakes the send loop, which drives the attempt. It reports
// whether the failure is being handled by resumption.
func (c *Connection) startResuming(cause error) bool {
	if !c.Resume.Enabled {
		return false
	}
	c.stateCond.L.Lock()
	switch c.state {
	case stateConnected:
		log.Warnf("transport failed, resuming: %v", cause)
		c.state = stateResuming
	case stateResuming:
	default:
		c.stateCond.L.Unlock()
		return false
	}
	c.stateCond.L.Unlock()
	c.stateCond.Broadcast()
	c.sendQ.interrupt()
	return true
}

// parkUntilResumed blocks the receive loop while a resume is in progress. It
// returns false if the session did not come back.
func (c *Connection) parkUntilResumed() bool {
	c.stateCond.L.Lock()
	defer c.stateCond.L.Unlock()
	c.recvParked = true
	c.stateCond.Broadcast()
	for c.state == stateResuming {
		c.stateCond.Wait()
	}
	c.recvParked = false
	return c.state == stateConnected
}

func (c *Connection) waitRecvParked() {
	deadline := time.Now().Add(parkTimeout)
	timer := time.AfterFunc(parkTimeout, c.stateCond.Broadcast)
	defer timer.Stop()
	c.stateCond.L.Lock()
	defer c.stateCond.L.Unlock()
	for !c.recvParked && c.state == stateResuming && time.Now().Before(deadline) {
		c.stateCond.Wait()
	}
	if !c.recvParked {
		log.Warn("receive loop did not park before resuming")
	}
}

func isTerminalResumeError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr) || errors.Is(err, ErrProtocol) || errors.Is(err, ErrResumeRejected)
}

// resume reconnects until the peer accepts or rejects the session. Transport
// errors are retried every RetryInterval for as long as the connection is
// not closed.
func (c *Connection) resume() error {
	_ = c.transport.Close()
	c.waitRecvParked()
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.Resume.RetryInterval):
			case <-c.done:
				return c.Err()
			}
		}
		if c.IsClosed() {
			return c.Err()
		}
		replayed, err := c.resumeOnce()
		if err == nil {
			c.metrics.resumeAttempt("resumed")
			log.Infof("session resumed after %v attempt(s), replayed %v frame(s)", attempt, replayed)
			return nil
		}
		if isTerminalResumeError(err) {
			c.metrics.resumeAttempt("rejected")
			log.Errorf("resume failed: %v", err)
			return err
		}
		c.metrics.resumeAttempt("failed")
		log.Debugf("resume attempt %v failed: %v", attempt, err)
		_ = c.transport.Close()
	}
}

func (c *Connection) resumeOnce() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.Resume.Timeout)
	defer cancel()
	if err := c.transport.Connect(ctx); err != nil {
		return 0, err
	}

	sent, received := c.pos.get()
	firstAvailable := sent
	first, ok, err := c.Resume.Cache.First()
	if err != nil {
		return 0, err
	}
	if ok {
		firstAvailable = first.Start()
	}
	err = c.writeDirect(&frame.Resume{
		MajorVersion:                 MajorVersion,
		MinorVersion:                 MinorVersion,
		Token:                        c.resumeToken,
		LastReceivedServerPosition:   received,
		FirstAvailableClientPosition: firstAvailable,
	})
	if err != nil {
		return 0, err
	}

	f, err := c.receiveWithin(ctx, c.Resume.Timeout)
	if err != nil {
		return 0, err
	}
	switch v := f.(type) {
	case *frame.ResumeOK:
		acked := v.LastReceivedClientPosition
		if acked < firstAvailable || acked > sent {
			return 0, fmt.Errorf("%w: peer position %v outside cached range [%v, %v]", ErrResumeRejected, acked, firstAvailable, sent)
		}
		entries, err := c.Resume.Cache.Since(acked)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			c.Valve.txWait(len(e.Frame))
			if err := c.transport.Send(frame.NewSegments(e.Frame)); err != nil {
				return 0, err
			}
		}
		if err := c.Resume.Cache.Release(acked); err != nil {
			log.Warnf("failed to prune send cache: %v", err)
		}
		c.lastKeepalive.Store(c.WorldState.Now().UnixNano())
		c.setState(stateConnected)
		return len(entries), nil
	case *frame.Error:
		return 0, &ConnectionError{Code: v.Code, Message: v.Message}
	default:
		return 0, fmt.Errorf("%w: %v in response to RESUME", ErrProtocol, f.Header())
	}
}
