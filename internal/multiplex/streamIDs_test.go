package multiplex

import (
	"errors"
	"sync"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsockets2/rsockets2/internal/frame"
)

func TestStreamIDParity(t *testing.T) {
	client := NewStreamIDAllocator(RoleClient)
	server := NewStreamIDAllocator(RoleServer)
	for _, want := range []uint32{1, 3, 5} {
		id, err := client.Next()
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	for _, want := range []uint32{2, 4, 6} {
		id, err := server.Next()
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
}

func TestStreamIDConcurrentUnique(t *testing.T) {
	defer leaktest.Check(t)()
	const workers = 16
	const perWorker = 500
	a := NewStreamIDAllocator(RoleClient)

	var wg sync.WaitGroup
	results := make(chan uint32, workers*perWorker)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id, err := a.Next()
				if err != nil {
					t.Error(err)
					return
				}
				results <- id
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint32]bool)
	for id := range results {
		assert.Equal(t, uint32(1), id%2, "id %v is even", id)
		assert.False(t, seen[id], "id %v handed out twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, workers*perWorker, a.Reserved())
}

func TestStreamIDWrapAndSkip(t *testing.T) {
	a := NewStreamIDAllocator(RoleClient)
	first, _ := a.Next()
	assert.Equal(t, uint32(1), first)

	a.next = frame.MaxStreamID
	id, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(frame.MaxStreamID), id)

	// 1 is still reserved so the wrap lands on 3
	id, err = a.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), id)

	s := NewStreamIDAllocator(RoleServer)
	s.next = frame.MaxStreamID - 1
	id, _ = s.Next()
	assert.Equal(t, uint32(frame.MaxStreamID-1), id)
	id, _ = s.Next()
	assert.Equal(t, uint32(2), id)
}

func TestStreamIDFree(t *testing.T) {
	a := NewStreamIDAllocator(RoleClient)
	id, _ := a.Next()
	assert.True(t, a.InUse(id))
	require.NoError(t, a.Free(id))
	assert.False(t, a.InUse(id))

	err := a.Free(id)
	assert.True(t, errors.Is(err, ErrStreamIDNotReserved))

	a.next = id
	again, _ := a.Next()
	assert.Equal(t, id, again)
}
