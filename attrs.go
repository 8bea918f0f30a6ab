package pers

import (
	"bytes"
	"iter"
)

// AttrCursor walks an object's persisted attribute names in key order. It
// is lazy and one-shot; call Object.Attrs again to start over.
//
//	c := obj.Attrs()
//	for c.Next() {
//		fmt.Println(c.Name())
//	}
//	if err := c.Err(); err != nil { ... }
type AttrCursor struct {
	obj    *Object
	prefix []byte
	cur    Cursor
	name   any
	key    string
	init   bool
	done   bool
	err    error
}

// Attrs returns a cursor over the names of o's persisted attributes. Since
// all attribute keys of o share the prefix key+Sep, they form one contiguous
// run of the engine's key order, starting right after o's own record.
func (o *Object) Attrs() *AttrCursor {
	return &AttrCursor{
		obj:    o,
		prefix: attrPrefix(o.key),
		cur:    o.store.engine.Cursor(),
	}
}

func (c *AttrCursor) Next() bool {
	if c.done {
		return false
	}
	if c.obj.store.closed {
		c.fail(ErrClosed)
		return false
	}
	var k []byte
	if c.init {
		k, _ = c.cur.Next()
	} else {
		c.init = true
		k, _ = c.cur.Seek(c.prefix)
	}
	if k == nil || !bytes.HasPrefix(k, c.prefix) {
		c.done = true
		c.name = nil
		if err := c.cur.Err(); err != nil {
			c.err = keyErr("scan", c.obj.key, err)
		}
		return false
	}

	name, err := decodeAttrName(k[len(c.prefix):], c.obj.store)
	if err != nil {
		c.fail(keyErr("scan", string(k), err))
		return false
	}
	c.name = name
	c.key = string(k)
	return true
}

// Name returns the current attribute name: a string, an int or an *Object.
func (c *AttrCursor) Name() any {
	return c.name
}

// Value returns the current attribute's value, as Object.Get would. The
// record is read under the exact key the cursor found, which matters for
// names stored in the legacy textual form.
func (c *AttrCursor) Value() (any, error) {
	v, found, err := c.obj.store.get(c.key)
	if err != nil {
		return nil, err
	}
	if found {
		return v, nil
	}
	return c.obj.Get(c.name)
}

func (c *AttrCursor) Err() error {
	return c.err
}

func (c *AttrCursor) fail(err error) {
	c.err = err
	c.done = true
	c.name = nil
	c.key = ""
}

// Names adapts the cursor to a range-over-func sequence. Check Err after
// the loop.
func (c *AttrCursor) Names() iter.Seq[any] {
	return func(yield func(any) bool) {
		for c.Next() {
			if !yield(c.name) {
				return
			}
		}
	}
}

// Items yields name-value pairs. A failure to read a value stops the
// sequence and is reported by Err.
func (c *AttrCursor) Items() iter.Seq2[any, any] {
	return func(yield func(any, any) bool) {
		for c.Next() {
			v, err := c.Value()
			if err != nil {
				c.fail(err)
				return
			}
			if !yield(c.name, v) {
				return
			}
		}
	}
}

// Keys returns the names of all persisted attributes of o, in key order:
// string names first (bytewise), then integer names (numerically), then
// object names.
func (o *Object) Keys() ([]any, error) {
	c := o.Attrs()
	var names []any
	for c.Next() {
		names = append(names, c.Name())
	}
	return names, c.Err()
}

// Values returns the values of all persisted attributes of o, in the order
// of Keys.
func (o *Object) Values() ([]any, error) {
	c := o.Attrs()
	var values []any
	for _, v := range c.Items() {
		values = append(values, v)
	}
	return values, c.Err()
}
