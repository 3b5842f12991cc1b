package interaction

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsockets2/rsockets2/internal/frame"
)

type recordingConn struct {
	mu     sync.Mutex
	frames []frame.Frame
}

func (c *recordingConn) QueueFrame(f frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *recordingConn) take() []frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs := c.frames
	c.frames = nil
	return fs
}

func countPayloads(fs []frame.Frame) (next int, complete bool) {
	for _, f := range fs {
		if p, ok := f.(*frame.Payload); ok {
			if p.Next {
				next++
			}
			complete = complete || p.Complete
		}
	}
	return
}

func TestResponseSinkAtMostOnce(t *testing.T) {
	conn := &recordingConn{}
	sink := newResponseSink(conn, 2)

	require.NoError(t, sink.Success(Payload{Data: []byte("ok")}))
	assert.Equal(t, ErrAlreadyTerminated, sink.Error(errors.New("late")))
	assert.Equal(t, ErrAlreadyTerminated, sink.Complete())
	assert.Equal(t, ErrAlreadyTerminated, sink.Success(Payload{}))

	assert.Equal(t, []frame.Frame{
		&frame.Payload{StreamID: 2, Next: true, Complete: true, Data: []byte("ok")},
	}, conn.take())
	select {
	case <-sink.Done():
	default:
		t.Fatal("sink not done")
	}
}

func TestResponseSinkCompleteWithoutValue(t *testing.T) {
	conn := &recordingConn{}
	sink := newResponseSink(conn, 4)
	require.NoError(t, sink.Complete())
	assert.Equal(t, []frame.Frame{&frame.Payload{StreamID: 4, Complete: true}}, conn.take())
}

func TestResponseSinkErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code frame.ErrorCode
		msg  string
	}{
		{errors.New("boom"), frame.ErrorCodeApplicationError, "boom"},
		{&ApplicationError{Message: "app"}, frame.ErrorCodeApplicationError, "app"},
		{&CanceledError{Message: "stop"}, frame.ErrorCodeCanceled, "stop"},
		{&ProtocolError{Code: frame.ErrorCodeRejected, Message: "no"}, frame.ErrorCodeRejected, "no"},
	}
	for _, tc := range cases {
		conn := &recordingConn{}
		sink := newResponseSink(conn, 2)
		require.NoError(t, sink.Error(tc.err))
		assert.Equal(t, []frame.Frame{&frame.Error{StreamID: 2, Code: tc.code, Message: tc.msg}}, conn.take())
	}
}

func TestResponseSinkCanceled(t *testing.T) {
	conn := &recordingConn{}
	sink := newResponseSink(conn, 2)
	sink.cancel()
	sink.cancel()
	assert.Equal(t, ErrStreamClosed, sink.Success(Payload{Data: []byte("late")}))
	assert.Equal(t, ErrStreamClosed, sink.Error(errors.New("late")))
	assert.Empty(t, conn.take())
	<-sink.Done()
}

func TestStreamSinkBackpressure(t *testing.T) {
	conn := &recordingConn{}
	sink := newStreamSink(conn, 2, 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Next(Payload{Data: []byte{byte(i)}}))
	}
	next, complete := countPayloads(conn.take())
	assert.Equal(t, 2, next)
	assert.False(t, complete)

	sink.request(2)
	next, _ = countPayloads(conn.take())
	assert.Equal(t, 2, next)

	// one payload is still buffered, so completion waits for credit
	require.NoError(t, sink.Complete())
	assert.Empty(t, conn.take())
	assert.Equal(t, ErrAlreadyTerminated, sink.Next(Payload{}))

	sink.request(10)
	fs := conn.take()
	require.Len(t, fs, 2)
	assert.Equal(t, &frame.Payload{StreamID: 2, Next: true, Data: []byte{4}}, fs[0])
	assert.Equal(t, &frame.Payload{StreamID: 2, Complete: true}, fs[1])
	<-sink.Done()

	sink.request(1)
	assert.Empty(t, conn.take())
}

func TestStreamSinkErrorDropsBuffer(t *testing.T) {
	conn := &recordingConn{}
	sink := newStreamSink(conn, 2, 1)
	require.NoError(t, sink.Next(Payload{Data: []byte("a")}))
	require.NoError(t, sink.Next(Payload{Data: []byte("b")}))
	require.NoError(t, sink.Error(errors.New("boom")))
	sink.request(5)

	fs := conn.take()
	require.Len(t, fs, 2)
	assert.Equal(t, &frame.Payload{StreamID: 2, Next: true, Data: []byte("a")}, fs[0])
	assert.Equal(t, &frame.Error{StreamID: 2, Code: frame.ErrorCodeApplicationError, Message: "boom"}, fs[1])
	assert.Equal(t, ErrAlreadyTerminated, sink.Error(errors.New("again")))
	assert.Equal(t, ErrAlreadyTerminated, sink.Complete())
}

func TestStreamSinkErrorAfterComplete(t *testing.T) {
	conn := &recordingConn{}
	sink := newStreamSink(conn, 2, 1)
	require.NoError(t, sink.Next(Payload{Data: []byte("a")}))
	require.NoError(t, sink.Next(Payload{Data: []byte("b")}))
	require.NoError(t, sink.Complete())
	assert.Equal(t, ErrAlreadyTerminated, sink.Error(errors.New("boom")))

	sink.request(5)
	fs := conn.take()
	require.Len(t, fs, 3)
	assert.Equal(t, &frame.Payload{StreamID: 2, Next: true, Data: []byte("a")}, fs[0])
	assert.Equal(t, &frame.Payload{StreamID: 2, Next: true, Data: []byte("b")}, fs[1])
	assert.Equal(t, &frame.Payload{StreamID: 2, Complete: true}, fs[2])
	<-sink.Done()
	assert.Equal(t, ErrAlreadyTerminated, sink.Error(errors.New("boom")))
}

func TestStreamSinkRequesterError(t *testing.T) {
	conn := &recordingConn{}
	sink := newStreamSink(conn, 2, 0)
	require.NoError(t, sink.Next(Payload{Data: []byte("a")}))
	sink.cancel()
	assert.True(t, sink.buf.empty())
	assert.Equal(t, ErrStreamClosed, sink.Error(errors.New("late")))
	assert.Empty(t, conn.take())
}

func TestStreamSinkCanceled(t *testing.T) {
	conn := &recordingConn{}
	sink := newStreamSink(conn, 2, 0)
	require.NoError(t, sink.Next(Payload{Data: []byte("a")}))
	sink.cancel()
	sink.request(5)
	assert.Equal(t, ErrStreamClosed, sink.Next(Payload{}))
	assert.Equal(t, ErrStreamClosed, sink.Complete())
	assert.Empty(t, conn.take())
	<-sink.Done()
}

func TestStreamSinkCreditNeverExceeded(t *testing.T) {
	conn := &recordingConn{}
	sink := newStreamSink(conn, 2, 3)
	granted := 3
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = sink.Next(Payload{Data: []byte{byte(i)}})
		}
	}()
	sent := 0
	for i := 0; i < 50; i++ {
		sink.request(4)
		granted += 4
		next, _ := countPayloads(conn.take())
		sent += next
		assert.LessOrEqual(t, sent, granted)
	}
	wg.Wait()
	next, _ := countPayloads(conn.take())
	sent += next
	assert.Equal(t, 200, sent)
}
