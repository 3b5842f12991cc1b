package multiplex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsockets2/rsockets2/internal/frame"
)

func queued(streamID uint32) outbound {
	return outbound{header: frame.Header{StreamID: streamID, Type: frame.TypePayload}}
}

func TestSendQueuePriority(t *testing.T) {
	q := newSendQueue()
	require.NoError(t, q.push(queued(1)))
	require.NoError(t, q.push(queued(3)))
	require.NoError(t, q.push(queued(0)))
	assert.Equal(t, 3, q.len())

	var order []uint32
	for i := 0; i < 3; i++ {
		o, err := q.pop()
		require.NoError(t, err)
		order = append(order, o.header.StreamID)
	}
	assert.Equal(t, []uint32{0, 1, 3}, order)
}

func TestSendQueueInterruptAndClose(t *testing.T) {
	q := newSendQueue()
	popped := make(chan error, 1)
	go func() {
		_, err := q.pop()
		popped <- err
	}()
	time.Sleep(20 * time.Millisecond)
	q.interrupt()
	assert.Equal(t, errQueueInterrupted, <-popped)

	require.NoError(t, q.push(queued(1)))
	q.close()
	_, err := q.pop()
	assert.Equal(t, ErrDisposed, err)
	assert.Equal(t, ErrDisposed, q.push(queued(1)))
}

func TestMailbox(t *testing.T) {
	m := newMailbox[int]()
	ctx := context.Background()
	assert.True(t, m.push(1))
	assert.True(t, m.push(2))
	m.close(ErrDisposed)
	assert.False(t, m.push(3))

	v, err := m.next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = m.next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	_, err = m.next(ctx)
	assert.Equal(t, ErrDisposed, err)
}

func TestMailboxBlocksAndCancels(t *testing.T) {
	m := newMailbox[string]()
	got := make(chan string, 1)
	go func() {
		v, _ := m.next(context.Background())
		got <- v
	}()
	time.Sleep(20 * time.Millisecond)
	m.push("x")
	assert.Equal(t, "x", <-got)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.next(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRegistry(t *testing.T) {
	var idle []uint32
	r := newRegistry(func(id uint32) { idle = append(idle, id) })
	ctx := context.Background()

	stream, err := r.add(StreamFilter(1))
	require.NoError(t, err)
	typed, err := r.add(TypeFilter(frame.TypeCancel))
	require.NoError(t, err)
	both, err := r.add(StreamTypeFilter(1, frame.TypeRequestN))
	require.NoError(t, err)
	all, err := r.add(AllFrames())
	require.NoError(t, err)

	handled, accepted := r.deliver(&frame.RequestN{StreamID: 1, N: 3}, true)
	assert.True(t, handled)
	assert.Nil(t, accepted)
	handled, _ = r.deliver(&frame.Cancel{StreamID: 5}, false)
	assert.False(t, handled)

	f, _ := stream.Next(ctx)
	assert.Equal(t, &frame.RequestN{StreamID: 1, N: 3}, f)
	f, _ = both.Next(ctx)
	assert.Equal(t, &frame.RequestN{StreamID: 1, N: 3}, f)
	f, _ = typed.Next(ctx)
	assert.Equal(t, &frame.Cancel{StreamID: 5}, f)
	f, _ = all.Next(ctx)
	assert.Equal(t, frame.TypeRequestN, f.Header().Type)
	f, _ = all.Next(ctx)
	assert.Equal(t, frame.TypeCancel, f.Header().Type)

	handled, accepted = r.deliver(&frame.RequestResponse{StreamID: 2}, true)
	assert.True(t, handled)
	require.NotNil(t, accepted)
	assert.Equal(t, StreamFilter(2), accepted.Filter())

	stream.Cancel()
	assert.Empty(t, idle)
	both.Cancel()
	assert.Equal(t, []uint32{1}, idle)
	_, err = stream.Next(ctx)
	assert.Equal(t, ErrUnsubscribed, err)

	r.closeAll(ErrDisposed)
	_, err = accepted.Next(ctx)
	assert.Equal(t, ErrDisposed, err)
	_, err = r.add(AllFrames())
	assert.Equal(t, ErrDisposed, err)
}
