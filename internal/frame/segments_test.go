package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegments(t *testing.T) {
	s := NewSegments([]byte("ab"), nil, []byte("c"))
	other := NewSegments([]byte{}, []byte("de"))
	s.AppendSegments(other)

	assert.Equal(t, 5, s.Len())
	assert.Len(t, s.Chunks(), 3)
	assert.Equal(t, []byte("abcde"), s.Bytes())

	var buf bytes.Buffer
	n, err := s.WriteTo(&buf)
	assert.NoError(t, err)
	assert.EqualValues(t, 5, n)
	assert.Equal(t, "abcde", buf.String())
}

func TestSegmentsEmpty(t *testing.T) {
	s := NewSegments()
	assert.NotNil(t, s.Bytes())
	assert.Equal(t, 0, s.Len())
}
