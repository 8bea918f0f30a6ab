package pers

import (
	"bytes"
	"slices"
	"sort"
	"sync"
)

type memEngine struct {
	mu     sync.Mutex
	items  []memKV // sorted by key
	closed bool
}

type memKV struct {
	key   []byte
	value []byte
}

// NewMemEngine returns a transient in-memory Engine, mostly useful for tests.
func NewMemEngine() Engine {
	return &memEngine{}
}

func (e *memEngine) Get(key []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	i, ok := e.find(key)
	if !ok {
		return nil, nil
	}
	return slices.Clone(e.items[i].value), nil
}

func (e *memEngine) Put(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	key = slices.Clone(key)
	value = slices.Clone(value)

	i, ok := e.find(key)
	if ok {
		e.items[i].value = value
		return nil
	}
	e.items = slices.Insert(e.items, i, memKV{key: key, value: value})
	return nil
}

func (e *memEngine) Delete(key []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, ErrClosed
	}
	i, ok := e.find(key)
	if !ok {
		return false, nil
	}
	e.items = slices.Delete(e.items, i, i+1)
	return true, nil
}

func (e *memEngine) Has(key []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, ErrClosed
	}
	_, ok := e.find(key)
	return ok, nil
}

func (e *memEngine) Cursor() Cursor {
	return &memCursor{e: e}
}

func (e *memEngine) Sync() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

func (e *memEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.items = nil
	return nil
}

func (e *memEngine) find(key []byte) (idx int, ok bool) {
	items := e.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

// memCursor remembers the last returned key rather than a position, so that
// inserts and deletes between calls don't make it skip or repeat records.
type memCursor struct {
	e       *memEngine
	last    []byte
	started bool
	done    bool
	err     error
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	c.started = true
	c.done = false
	return c.load(seek, false)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if !c.started {
		return c.Seek(nil)
	}
	if c.done {
		return nil, nil
	}
	return c.load(c.last, true)
}

func (c *memCursor) Err() error {
	return c.err
}

func (c *memCursor) load(from []byte, after bool) ([]byte, []byte) {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	if c.e.closed {
		c.err = ErrClosed
		c.done = true
		return nil, nil
	}
	i, ok := c.e.find(from)
	if ok && after {
		i++
	}
	if i >= len(c.e.items) {
		c.done = true
		return nil, nil
	}
	kv := c.e.items[i]
	c.last = kv.key
	return slices.Clone(kv.key), slices.Clone(kv.value)
}
