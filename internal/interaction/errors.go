package interaction

import (
	"errors"
	"fmt"

	"github.com/rsockets2/rsockets2/internal/frame"
)

var (
	ErrStreamCanceledByPeer = errors.New("stream canceled by peer")
	ErrAlreadyTerminated    = errors.New("stream already terminated")
	// ErrStreamClosed is returned once the local side canceled the stream
	ErrStreamClosed = errors.New("stream closed")
)

// ApplicationError is a failure the peer's handler reported with
// APPLICATION_ERROR
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string { return "application error: " + e.Message }

// CanceledError is the peer reporting CANCELED, as opposed to the stream
// failing
type CanceledError struct {
	Message string
}

func (e *CanceledError) Error() string { return "canceled: " + e.Message }

// ProtocolError covers every other error code, and frames a stream cannot
// accept in its current state.
type ProtocolError struct {
	Code    frame.ErrorCode
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %v: %v", e.Code, e.Message)
}

// FromErrorFrame maps an ERROR frame to ApplicationError, CanceledError or
// ProtocolError by its code
func FromErrorFrame(f *frame.Error) error {
	switch f.Code {
	case frame.ErrorCodeApplicationError:
		return &ApplicationError{Message: f.Message}
	case frame.ErrorCodeCanceled:
		return &CanceledError{Message: f.Message}
	default:
		return &ProtocolError{Code: f.Code, Message: f.Message}
	}
}

// toErrorFrame is the inverse used by responders. Errors that are not one of
// the typed errors become APPLICATION_ERROR.
func toErrorFrame(streamID uint32, err error) *frame.Error {
	var (
		protoErr    *ProtocolError
		canceledErr *CanceledError
		appErr      *ApplicationError
	)
	switch {
	case errors.As(err, &protoErr):
		return &frame.Error{StreamID: streamID, Code: protoErr.Code, Message: protoErr.Message}
	case errors.As(err, &canceledErr):
		return &frame.Error{StreamID: streamID, Code: frame.ErrorCodeCanceled, Message: canceledErr.Message}
	case errors.As(err, &appErr):
		return &frame.Error{StreamID: streamID, Code: frame.ErrorCodeApplicationError, Message: appErr.Message}
	default:
		return &frame.Error{StreamID: streamID, Code: frame.ErrorCodeApplicationError, Message: err.Error()}
	}
}
