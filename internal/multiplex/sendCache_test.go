package multiplex

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSendCache(t *testing.T, c SendCache) {
	base := time.Unix(1000, 0)
	entries := []CacheEntry{
		{Position: 10, Time: base, Frame: make([]byte, 10)},
		{Position: 25, Time: base.Add(time.Second), Frame: make([]byte, 15)},
		{Position: 30, Time: base.Add(2 * time.Second), Frame: []byte("abcde")},
	}
	for _, e := range entries {
		require.NoError(t, c.Append(e))
	}
	assert.Equal(t, 3, c.Len())

	first, ok, err := c.First()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(0), first.Start())

	since, err := c.Since(10)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, uint64(25), since[0].Position)
	assert.Equal(t, []byte("abcde"), since[1].Frame)
	assert.True(t, since[1].Time.Equal(base.Add(2*time.Second)))

	require.NoError(t, c.Release(25))
	assert.Equal(t, 1, c.Len())
	first, _, _ = c.First()
	assert.Equal(t, uint64(25), first.Start())

	require.NoError(t, c.ReleaseBefore(base.Add(3*time.Second)))
	assert.Equal(t, 0, c.Len())
	_, ok, err = c.First()
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, c.Close())
}

func TestMemorySendCache(t *testing.T) {
	testSendCache(t, NewMemorySendCache())
}

func TestBoltSendCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sendcache.db")
	c, err := OpenBoltSendCache(path)
	require.NoError(t, err)
	testSendCache(t, c)

	// leftovers from an earlier session are discarded on open
	c, err = OpenBoltSendCache(path)
	require.NoError(t, err)
	require.NoError(t, c.Append(CacheEntry{Position: 1, Time: time.Now(), Frame: []byte{1}}))
	require.NoError(t, c.Close())
	c, err = OpenBoltSendCache(path)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 0, c.Len())
}

func TestValve(t *testing.T) {
	v := MakeValve(1<<20, 1<<20)
	v.rxWait(10)
	v.txWait(20)
	assert.EqualValues(t, 10, v.GetRx())
	assert.EqualValues(t, 20, v.GetTx())
	rx, tx := v.Nullify()
	assert.EqualValues(t, 10, rx)
	assert.EqualValues(t, 20, tx)
	assert.EqualValues(t, 0, v.GetRx())
}
