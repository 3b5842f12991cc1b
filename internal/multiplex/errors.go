package multiplex

import (
	"errors"
	"fmt"

	"github.com/rsockets2/rsockets2/internal/frame"
)

var (
	ErrDisposed            = errors.New("connection disposed")
	ErrSetupTimeout        = errors.New("timed out waiting for the setup response")
	ErrProtocol            = errors.New("protocol violation")
	ErrKeepaliveTimeout    = errors.New("no keepalive received within max lifetime")
	ErrUnsubscribed        = errors.New("subscription canceled")
	ErrStreamIDNotReserved = errors.New("freeing a stream id that is not reserved")
	ErrStreamIDsExhausted  = errors.New("no stream id available")
	ErrResumeRejected      = errors.New("resume rejected by peer")

	errQueueInterrupted = errors.New("send queue interrupted")
	errReceiveTimeout   = errors.New("receive timed out")
)

// ConnectionError is a connection-scoped ERROR frame, either received from
// the peer or sent to it while rejecting a setup.
type ConnectionError struct {
	Code    frame.ErrorCode
	Message string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error %v: %v", e.Code, e.Message)
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrResumeRejected && e.Code == frame.ErrorCodeRejectedResume
}
