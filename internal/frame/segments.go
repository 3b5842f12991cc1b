package frame

import (
	"io"
	"net"
)

// Segments is an ordered, append-only list of byte chunks that together make
// up one logical frame. Chunks are referenced, not copied, until Bytes is
// called.
type Segments struct {
	chunks [][]byte
	n      int
}

func NewSegments(chunks ...[]byte) *Segments {
	s := &Segments{chunks: make([][]byte, 0, len(chunks))}
	for _, c := range chunks {
		s.Append(c)
	}
	return s
}

func (s *Segments) Append(b []byte) {
	if len(b) == 0 {
		return
	}
	s.chunks = append(s.chunks, b)
	s.n += len(b)
}

func (s *Segments) AppendSegments(other *Segments) {
	for _, c := range other.chunks {
		s.Append(c)
	}
}

func (s *Segments) Len() int { return s.n }

func (s *Segments) Chunks() [][]byte { return s.chunks }

// Bytes flattens the chunks into one buffer of exactly Len bytes. The result
// is never nil.
func (s *Segments) Bytes() []byte {
	if len(s.chunks) == 1 {
		return s.chunks[0]
	}
	buf := make([]byte, s.n)
	i := 0
	for _, c := range s.chunks {
		i += copy(buf[i:], c)
	}
	return buf
}

func (s *Segments) WriteTo(w io.Writer) (int64, error) {
	bufs := make(net.Buffers, len(s.chunks))
	copy(bufs, s.chunks)
	return bufs.WriteTo(w)
}
