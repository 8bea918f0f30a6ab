package pers

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
)

// Object is one node of the persistent graph. Its persisted attributes are
// separate records in the store, keyed by the object's key followed by Sep
// and the encoded attribute name; the object's own record holds only a
// reference to itself.
//
// Attribute names are strings, integers or objects. String names starting
// with LocalPrefix are local: they live in this instance only and are never
// written to the store. The built-in locals _key and _store are read-only.
type Object struct {
	key    string
	store  *Store
	locals map[string]any
}

const (
	localKey   = LocalPrefix + "key"
	localStore = LocalPrefix + "store"
)

// NewObject returns the object with the given key in the default store. An
// empty key generates a fresh one.
func NewObject(key string) (*Object, error) {
	s, err := Default()
	if err != nil {
		return nil, err
	}
	return s.Object(key)
}

func (o *Object) Key() string {
	return o.key
}

func (o *Object) Store() *Store {
	return o.store
}

func (o *Object) String() string {
	return "Object(" + strconv.Quote(o.key) + ")"
}

// Get returns the value of an attribute. Reading a persisted attribute that
// was never set creates a new object, stores it under that attribute and
// returns it, so Get never fails with ErrNotFound for persisted names.
func (o *Object) Get(name any) (any, error) {
	if local, ok := localName(name); ok {
		return o.getLocal(local)
	}
	k, err := attrKey(o.key, name)
	if err != nil {
		return nil, err
	}
	v, found, err := o.store.get(k)
	if err != nil {
		return nil, err
	}
	if found {
		return v, nil
	}
	lk, found, err := o.findLegacy(name)
	if err != nil {
		return nil, err
	}
	if found {
		return o.store.Get(lk)
	}

	child, err := o.store.Object("")
	if err != nil {
		return nil, err
	}
	if err := o.store.Set(k, child); err != nil {
		return nil, err
	}
	if o.store.verbose {
		o.store.logger.LogAttrs(context.Background(), slog.LevelDebug, "pers: created attribute object", slog.String("owner", o.key), slog.String("attr", attrNameString(name)), slog.String("key", child.key))
	}
	return child, nil
}

// Object is Get for attributes expected to hold objects.
func (o *Object) Object(name any) (*Object, error) {
	v, err := o.Get(name)
	if err != nil {
		return nil, err
	}
	child, ok := v.(*Object)
	if !ok {
		return nil, fmt.Errorf("pers: %s.%s holds %T, not an object", o, attrNameString(name), v)
	}
	return child, nil
}

// Set stores an attribute. An attribute that only exists under a legacy
// spelling is overwritten in place.
func (o *Object) Set(name any, value any) error {
	if local, ok := localName(name); ok {
		return o.setLocal(local, value)
	}
	k, _, err := o.recordKey(name)
	if err != nil {
		return err
	}
	return o.store.Set(k, value)
}

// Delete removes an attribute. Deleting a persisted attribute that isn't
// set fails with ErrNotFound; a later Get creates a new object in its place.
func (o *Object) Delete(name any) error {
	if local, ok := localName(name); ok {
		return o.deleteLocal(local)
	}
	k, _, err := o.recordKey(name)
	if err != nil {
		return err
	}
	return o.store.Delete(k)
}

// Has reports whether an attribute is set, without creating it.
func (o *Object) Has(name any) (bool, error) {
	if local, ok := localName(name); ok {
		switch local {
		case localKey, localStore:
			return true, nil
		}
		_, found := o.locals[local]
		return found, nil
	}
	_, found, err := o.recordKey(name)
	return found, err
}

// recordKey returns the key holding a persisted attribute: the tagged
// spelling, or a legacy one if only that exists. If neither exists, it
// returns the tagged spelling and found is false.
func (o *Object) recordKey(name any) (key string, found bool, err error) {
	k, err := attrKey(o.key, name)
	if err != nil {
		return "", false, err
	}
	found, err = o.store.Has(k)
	if err != nil || found {
		return k, found, err
	}
	lk, found, err := o.findLegacy(name)
	if err != nil {
		return "", false, err
	}
	if found {
		return lk, true, nil
	}
	return k, false, nil
}

// findLegacy looks for name among o's attributes spelled in the legacy
// textual form. Those suffixes start with a printable byte, so they all sort
// after the tagged ones.
func (o *Object) findLegacy(name any) (string, bool, error) {
	if o.store.closed {
		return "", false, keyErr("get", o.key, ErrClosed)
	}
	want, err := canonicalAttrName(name)
	if err != nil {
		return "", false, err
	}
	prefix := attrPrefix(o.key)
	c := o.store.engine.Cursor()
	for k, _ := c.Seek(append(attrPrefix(o.key), legacyFirstByte)); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		got, err := decodeAttrName(k[len(prefix):], nil)
		if err != nil {
			continue
		}
		if got == want {
			return string(k), true, nil
		}
	}
	if err := c.Err(); err != nil {
		return "", false, keyErr("get", o.key, err)
	}
	return "", false, nil
}

func (o *Object) getLocal(name string) (any, error) {
	switch name {
	case localKey:
		return o.key, nil
	case localStore:
		return o.store, nil
	}
	v, found := o.locals[name]
	if !found {
		return nil, o.localErr(name, ErrAttrNotFound)
	}
	return v, nil
}

func (o *Object) setLocal(name string, value any) error {
	switch name {
	case localKey, localStore:
		return o.localErr(name, ErrReadOnlyAttr)
	}
	if o.locals == nil {
		o.locals = make(map[string]any)
	}
	o.locals[name] = value
	return nil
}

func (o *Object) deleteLocal(name string) error {
	switch name {
	case localKey, localStore:
		return o.localErr(name, ErrReadOnlyAttr)
	}
	if _, found := o.locals[name]; !found {
		return o.localErr(name, ErrAttrNotFound)
	}
	delete(o.locals, name)
	return nil
}

func (o *Object) localErr(name string, err error) error {
	return fmt.Errorf("pers: %s.%s: %w", o, name, err)
}
