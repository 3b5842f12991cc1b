package multiplex

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"
)

var sendCacheBucket = []byte("sendcache")

func u64ToB(value uint64) []byte {
	oct := make([]byte, 8)
	binary.BigEndian.PutUint64(oct, value)
	return oct
}

// BoltSendCache keeps the send cache in a bbolt file so a large backlog of
// unacknowledged frames does not have to live in memory. Keys are big-endian
// positions so the cursor walks entries in send order; a value is an 8-byte
// unix nano timestamp followed by the frame.
type BoltSendCache struct {
	db *bolt.DB
}

// OpenBoltSendCache opens or creates the database at path and discards any
// entries left over from a previous session
func OpenBoltSendCache(path string) (*BoltSendCache, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(sendCacheBucket) != nil {
			if err := tx.DeleteBucket(sendCacheBucket); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket(sendCacheBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltSendCache{db: db}, nil
}

func decodeEntry(k, v []byte) CacheEntry {
	f := make([]byte, len(v)-8)
	copy(f, v[8:])
	return CacheEntry{
		Position: binary.BigEndian.Uint64(k),
		Time:     time.Unix(0, int64(binary.BigEndian.Uint64(v[:8]))),
		Frame:    f,
	}
}

func (c *BoltSendCache) Append(e CacheEntry) error {
	v := make([]byte, 8+len(e.Frame))
	binary.BigEndian.PutUint64(v[:8], uint64(e.Time.UnixNano()))
	copy(v[8:], e.Frame)
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sendCacheBucket).Put(u64ToB(e.Position), v)
	})
}

func (c *BoltSendCache) dropWhile(drop func(k, v []byte) bool) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		cur := tx.Bucket(sendCacheBucket).Cursor()
		for k, v := cur.First(); k != nil && drop(k, v); k, v = cur.First() {
			if err := cur.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *BoltSendCache) Release(acked uint64) error {
	return c.dropWhile(func(k, _ []byte) bool {
		return binary.BigEndian.Uint64(k) <= acked
	})
}

func (c *BoltSendCache) ReleaseBefore(t time.Time) error {
	cutoff := t.UnixNano()
	return c.dropWhile(func(_, v []byte) bool {
		return int64(binary.BigEndian.Uint64(v[:8])) < cutoff
	})
}

func (c *BoltSendCache) Since(acked uint64) ([]CacheEntry, error) {
	var ret []CacheEntry
	err := c.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(sendCacheBucket).Cursor()
		for k, v := cur.Seek(u64ToB(acked + 1)); k != nil; k, v = cur.Next() {
			ret = append(ret, decodeEntry(k, v))
		}
		return nil
	})
	return ret, err
}

func (c *BoltSendCache) First() (e CacheEntry, ok bool, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		k, v := tx.Bucket(sendCacheBucket).Cursor().First()
		if k != nil {
			e, ok = decodeEntry(k, v), true
		}
		return nil
	})
	return
}

func (c *BoltSendCache) Len() int {
	var n int
	_ = c.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(sendCacheBucket).Stats().KeyN
		return nil
	})
	return n
}

func (c *BoltSendCache) Close() error {
	return c.db.Close()
}
