package pers

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"
)

var boltBucketName = []byte("pers")

// A Bolt cursor copies records out per read transaction in batches that start
// at boltCursorFirstBatch and double up to boltCursorBatch, so that short
// lookups stay cheap.
const (
	boltCursorFirstBatch = 16
	boltCursorBatch      = 256
)

type boltEngine struct {
	bdb *bbolt.DB
}

// OpenBolt opens (creating if needed) a Bolt database file and returns it as
// an Engine.
func OpenBolt(path string, opt Options) (Engine, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	if bopt.Timeout == 0 {
		bopt.Timeout = 10 * time.Second
	}
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("pers: %w", err)
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(boltBucketName)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("pers: creating bucket: %w", err)
	}
	return &boltEngine{bdb: bdb}, nil
}

func (e *boltEngine) Bolt() *bbolt.DB {
	return e.bdb
}

func (e *boltEngine) Get(key []byte) ([]byte, error) {
	var value []byte
	err := e.bdb.View(func(btx *bbolt.Tx) error {
		if v := btx.Bucket(boltBucketName).Get(key); v != nil {
			value = slices.Clone(v)
		}
		return nil
	})
	return value, err
}

func (e *boltEngine) Put(key, value []byte) error {
	return e.bdb.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(boltBucketName).Put(key, value)
	})
}

func (e *boltEngine) Delete(key []byte) (bool, error) {
	var found bool
	err := e.bdb.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket(boltBucketName)
		if b.Get(key) == nil {
			return nil
		}
		found = true
		return b.Delete(key)
	})
	return found, err
}

func (e *boltEngine) Has(key []byte) (bool, error) {
	var found bool
	err := e.bdb.View(func(btx *bbolt.Tx) error {
		found = btx.Bucket(boltBucketName).Get(key) != nil
		return nil
	})
	return found, err
}

func (e *boltEngine) Cursor() Cursor {
	return &boltCursor{e: e}
}

func (e *boltEngine) Sync() error {
	return e.bdb.Sync()
}

func (e *boltEngine) Close() error {
	err := e.bdb.Sync()
	if cerr := e.bdb.Close(); err == nil {
		err = cerr
	}
	return err
}

type boltRecord struct {
	key, value []byte
}

// boltCursor copies records out in batches so that no read transaction stays
// open between calls; a long-lived read transaction would block Bolt's mmap
// remapping when the caller writes while iterating.
type boltCursor struct {
	e       *boltEngine
	batch   []boltRecord
	limit   int
	pos     int
	started bool
	err     error
}

func (c *boltCursor) Seek(seek []byte) ([]byte, []byte) {
	c.started = true
	c.load(seek, false)
	return c.current()
}

func (c *boltCursor) Next() ([]byte, []byte) {
	if !c.started {
		return c.Seek(nil)
	}
	if c.pos+1 < len(c.batch) {
		c.pos++
		return c.current()
	}
	if len(c.batch) == 0 {
		return nil, nil
	}
	c.load(c.batch[len(c.batch)-1].key, true)
	return c.current()
}

func (c *boltCursor) Err() error {
	return c.err
}

func (c *boltCursor) current() ([]byte, []byte) {
	if c.pos >= len(c.batch) {
		return nil, nil
	}
	r := c.batch[c.pos]
	return r.key, r.value
}

func (c *boltCursor) load(from []byte, after bool) {
	c.batch = nil
	c.pos = 0
	if c.err != nil {
		return
	}
	if c.limit == 0 {
		c.limit = boltCursorFirstBatch
	} else {
		c.limit = min(c.limit*2, boltCursorBatch)
	}
	batch := make([]boltRecord, 0, c.limit)
	err := c.e.bdb.View(func(btx *bbolt.Tx) error {
		bc := btx.Bucket(boltBucketName).Cursor()
		var k, v []byte
		if len(from) == 0 {
			k, v = bc.First()
		} else {
			k, v = bc.Seek(from)
		}
		if after && k != nil && bytes.Equal(k, from) {
			k, v = bc.Next()
		}
		for ; k != nil && len(batch) < c.limit; k, v = bc.Next() {
			batch = append(batch, boltRecord{slices.Clone(k), slices.Clone(v)})
		}
		return nil
	})
	if err != nil {
		c.err = err
		return
	}
	c.batch = batch
}
