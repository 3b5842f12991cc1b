package common

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rsockets2/rsockets2/internal/frame"
)

const (
	lengthPrefixLen = 3
	MaxFrameLength  = 1<<24 - 1
)

var ErrFrameTooLarge = errors.New("frame does not fit a 24-bit length prefix")

// FramedConn delimits frames on a byte stream with a 3-byte big-endian
// length prefix. Each ReadFrame returns exactly one frame in a freshly
// allocated buffer.
type FramedConn struct {
	net.Conn
	writeM sync.Mutex
	header [lengthPrefixLen]byte
}

func NewFramedConn(conn net.Conn) *FramedConn {
	return &FramedConn{Conn: conn}
}

func (fc *FramedConn) ReadFrame() ([]byte, error) {
	// TCP is a stream. Several frames can arrive at once and a single frame
	// may be split across reads, so read the prefix then exactly that many bytes.
	_, err := io.ReadFull(fc.Conn, fc.header[:])
	if err != nil {
		return nil, err
	}
	length := int(fc.header[0])<<16 | int(fc.header[1])<<8 | int(fc.header[2])
	buf := make([]byte, length)
	_, err = io.ReadFull(fc.Conn, buf)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (fc *FramedConn) WriteFrame(s *frame.Segments) error {
	n := s.Len()
	if n > MaxFrameLength {
		return ErrFrameTooLarge
	}
	prefix := []byte{byte(n >> 16), byte(n >> 8), byte(n)}
	bufs := make(net.Buffers, 0, len(s.Chunks())+1)
	bufs = append(bufs, prefix)
	bufs = append(bufs, s.Chunks()...)

	fc.writeM.Lock()
	defer fc.writeM.Unlock()
	_, err := bufs.WriteTo(fc.Conn)
	return err
}
