package frame

import (
	"errors"
	"fmt"
)

var (
	ErrFrameTooShort        = errors.New("frame is shorter than its layout requires")
	ErrInvalidFrameType     = errors.New("invalid frame type")
	ErrReservedBitSet       = errors.New("reserved stream id bit is set")
	ErrUnsupportedFrameType = errors.New("unsupported frame type")
	ErrFrameTooLarge        = errors.New("field exceeds its length prefix")
	ErrStreamIDMismatch     = errors.New("connection frame on a non-zero stream id")
)

// DecodeError is returned for every malformed input to Decode
type DecodeError struct {
	Type Type
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %v frame: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(t Type, err error) error {
	return &DecodeError{Type: t, Err: err}
}

type ErrorCode uint32

const (
	ErrorCodeInvalidSetup     ErrorCode = 0x00000001
	ErrorCodeUnsupportedSetup ErrorCode = 0x00000002
	ErrorCodeRejectedSetup    ErrorCode = 0x00000003
	ErrorCodeRejectedResume   ErrorCode = 0x00000004
	ErrorCodeConnectionError  ErrorCode = 0x00000101
	ErrorCodeConnectionClose  ErrorCode = 0x00000102
	ErrorCodeApplicationError ErrorCode = 0x00000201
	ErrorCodeRejected         ErrorCode = 0x00000202
	ErrorCodeCanceled         ErrorCode = 0x00000203
	ErrorCodeInvalid          ErrorCode = 0x00000204
	ErrorCodeUnknown          ErrorCode = 0xEFFFFFFF
)

var errorCodeNames = map[ErrorCode]string{
	ErrorCodeInvalidSetup:     "INVALID_SETUP",
	ErrorCodeUnsupportedSetup: "UNSUPPORTED_SETUP",
	ErrorCodeRejectedSetup:    "REJECTED_SETUP",
	ErrorCodeRejectedResume:   "REJECTED_RESUME",
	ErrorCodeConnectionError:  "CONNECTION_ERROR",
	ErrorCodeConnectionClose:  "CONNECTION_CLOSE",
	ErrorCodeApplicationError: "APPLICATION_ERROR",
	ErrorCodeRejected:         "REJECTED",
	ErrorCodeCanceled:         "CANCELED",
	ErrorCodeInvalid:          "INVALID",
	ErrorCodeUnknown:          "UNKNOWN_ERROR",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_CODE(0x%08x)", uint32(c))
}

// knownErrorCode maps anything outside the table to ErrorCodeUnknown
func knownErrorCode(raw uint32) ErrorCode {
	c := ErrorCode(raw)
	if _, ok := errorCodeNames[c]; ok {
		return c
	}
	return ErrorCodeUnknown
}
