package interaction

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rsockets2/rsockets2/internal/frame"
)

func TestCreditBufferConservation(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	var b creditBuffer
	var granted, sent, produced int
	var order []byte
	for produced < 1000 {
		if r.Intn(3) == 0 {
			n := uint32(r.Intn(5))
			granted += int(n)
			for _, p := range b.grant(n) {
				order = append(order, p.Data[0])
				sent++
			}
		} else {
			for _, p := range b.push(Payload{Data: []byte{byte(produced)}}) {
				order = append(order, p.Data[0])
				sent++
			}
			produced++
		}
		assert.LessOrEqual(t, sent, granted)
	}
	for i, v := range order {
		assert.Equal(t, byte(i), v)
	}
}

func TestCreditBufferSaturates(t *testing.T) {
	var b creditBuffer
	b.grant(frame.MaxRequestN)
	b.grant(frame.MaxRequestN)
	assert.Equal(t, uint32(frame.MaxRequestN), b.credit)

	assert.Len(t, b.push(Payload{}), 1)
	assert.Equal(t, uint32(frame.MaxRequestN-1), b.credit)
}

func TestCreditBufferZero(t *testing.T) {
	var b creditBuffer
	assert.Empty(t, b.push(Payload{Data: []byte("a")}))
	assert.Empty(t, b.push(Payload{Data: []byte("b")}))
	assert.Empty(t, b.grant(0))
	assert.False(t, b.empty())

	ready := b.grant(1)
	assert.Equal(t, []Payload{{Data: []byte("a")}}, ready)
	b.drop()
	assert.True(t, b.empty())
	assert.Empty(t, b.grant(3))
	assert.Equal(t, uint32(3), b.credit)
}
