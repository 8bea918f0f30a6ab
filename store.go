package pers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/andreyvit/pers/journal"
)

// InMemory can be passed to Open instead of a file path to get a transient
// in-memory store.
const InMemory = ":memory:"

type Options struct {
	// Codec encodes stored values. Defaults to MsgPack.
	Codec Codec

	// Journal, if set, receives every Set and Delete after it has been
	// applied to the engine. The store takes ownership and closes it.
	Journal *journal.Journal

	Logger  *slog.Logger
	Verbose bool

	// IsTesting trades durability for speed (no fsync, small mmap).
	IsTesting bool
	MmapSize  int
	Timeout   time.Duration
}

// Store maps string keys to values in an ordered engine, and guarantees that
// at most one live *Object exists per object key.
//
// A Store is meant to be used from one goroutine at a time.
type Store struct {
	engine  Engine
	codec   Codec
	journal *journal.Journal
	logger  *slog.Logger
	verbose bool
	objects *identityMap
	closed  bool
}

// Open opens a Bolt-backed store at path, or an in-memory store if path is
// InMemory. The caller must Close it.
func Open(path string, opt Options) (*Store, error) {
	var engine Engine
	if path == InMemory {
		engine = NewMemEngine()
	} else {
		var err error
		engine, err = OpenBolt(path, opt)
		if err != nil {
			return nil, err
		}
	}
	s := NewStore(engine, opt)
	if s.verbose {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "pers: opened", slog.String("path", path))
	}
	return s, nil
}

// NewStore wraps an engine. The store takes ownership of the engine.
func NewStore(engine Engine, opt Options) *Store {
	if opt.Codec == nil {
		opt.Codec = defaultEncoding
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Store{
		engine:  engine,
		codec:   opt.Codec,
		journal: opt.Journal,
		logger:  opt.Logger,
		verbose: opt.Verbose,
		objects: newIdentityMap(),
	}
}

func (s *Store) Engine() Engine {
	return s.engine
}

// Get returns the value stored under key. Objects come back as the live
// *Object for their key, whether key is the object's own key or a record
// holding a reference to it.
func (s *Store) Get(key string) (any, error) {
	v, found, err := s.get(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, keyErr("get", key, ErrNotFound)
	}
	return v, nil
}

func (s *Store) get(key string) (any, bool, error) {
	if s.closed {
		return nil, false, keyErr("get", key, ErrClosed)
	}
	if obj := s.objects.get(key); obj != nil {
		return obj, true, nil
	}
	raw, err := s.engine.Get([]byte(key))
	if err != nil {
		return nil, false, keyErr("get", key, err)
	}
	if raw == nil {
		return nil, false, nil
	}
	v, err := s.codec.Decode(raw)
	if err != nil {
		return nil, false, keyErr("get", key, err)
	}
	v, err = s.fromWire(v)
	if err != nil {
		return nil, false, keyErr("get", key, dataErrf(raw, 0, err, "invalid reference"))
	}
	return v, true, nil
}

// Set stores value under key. Objects, including ones nested in []any and
// map[string]any, are stored as references to their keys.
func (s *Store) Set(key string, value any) error {
	if s.closed {
		return keyErr("set", key, ErrClosed)
	}
	v, err := s.toWire(value)
	if err != nil {
		return keyErr("set", key, err)
	}
	data, err := s.codec.Encode(v)
	if err != nil {
		return keyErr("set", key, err)
	}
	if err := s.engine.Put([]byte(key), data); err != nil {
		return keyErr("set", key, err)
	}
	if s.journal != nil {
		if err := s.journal.Append(appendPutMutation(nil, key, data)); err != nil {
			return keyErr("set", key, fmt.Errorf("journal: %w", err))
		}
	}
	return nil
}

// Delete removes the record stored under key. A live object for that key,
// if any, stays in memory.
func (s *Store) Delete(key string) error {
	if s.closed {
		return keyErr("delete", key, ErrClosed)
	}
	found, err := s.engine.Delete([]byte(key))
	if err != nil {
		return keyErr("delete", key, err)
	}
	if !found {
		return keyErr("delete", key, ErrNotFound)
	}
	if s.journal != nil {
		if err := s.journal.Append(appendDeleteMutation(nil, key)); err != nil {
			return keyErr("delete", key, fmt.Errorf("journal: %w", err))
		}
	}
	return nil
}

// Has reports whether a record exists under key.
func (s *Store) Has(key string) (bool, error) {
	if s.closed {
		return false, keyErr("has", key, ErrClosed)
	}
	found, err := s.engine.Has([]byte(key))
	if err != nil {
		return false, keyErr("has", key, err)
	}
	return found, nil
}

// Object returns the object with the given key, generating a fresh key if
// key is empty. If no record exists for the key yet, a self-reference record
// is written so that the object can be found with Has. If the key holds a
// record that isn't this object's, Object fails with ErrKeyCollision.
func (s *Store) Object(key string) (*Object, error) {
	if s.closed {
		return nil, keyErr("object", key, ErrClosed)
	}
	if key == "" {
		key = uuid.NewString()
	} else if err := validateObjectKey(key); err != nil {
		return nil, err
	}

	raw, err := s.engine.Get([]byte(key))
	if err != nil {
		return nil, keyErr("object", key, err)
	}
	if raw == nil {
		if err := s.Set(key, Ref{key}); err != nil {
			return nil, err
		}
	} else {
		v, err := s.codec.Decode(raw)
		if err != nil {
			return nil, keyErr("object", key, err)
		}
		if ref, ok := v.(Ref); !ok || ref.Key != key {
			return nil, keyErr("object", key, ErrKeyCollision)
		}
	}

	if obj := s.objects.get(key); obj != nil {
		return obj, nil
	}
	obj := &Object{key: key, store: s}
	s.objects.put(obj)
	return obj, nil
}

// resolve returns the live object for key, creating an instance bound to
// this store if none is alive.
func (s *Store) resolve(key string) *Object {
	if obj := s.objects.get(key); obj != nil {
		return obj
	}
	obj := &Object{key: key, store: s}
	s.objects.put(obj)
	if s.verbose {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "pers: rehydrated", slog.String("key", key))
	}
	return obj
}

// LiveObjects returns the number of objects currently held by the identity
// map, i.e. still referenced from outside the store.
func (s *Store) LiveObjects() int {
	return s.objects.live()
}

// toWire replaces objects with Refs throughout v. Slices, arrays and
// string-keyed maps of any element type are converted to []any and
// map[string]any on the way.
func (s *Store) toWire(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case *Object:
		if v == nil {
			return nil, nil
		}
		if v.store != s {
			return nil, fmt.Errorf("%w: %s", ErrForeignObject, v.key)
		}
		return Ref{v.key}, nil
	case Ref:
		if err := validateObjectKey(v.Key); err != nil {
			return nil, err
		}
		return v, nil
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			w, err := s.toWire(el)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, el := range v {
			w, err := s.toWire(el)
			if err != nil {
				return nil, err
			}
			out[k] = w
		}
		return out, nil
	case bool, string, []byte, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v, nil
	default:
		return s.toWireValue(reflect.ValueOf(v))
	}
}

func (s *Store) toWireValue(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes(), nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			w, err := s.toWire(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key()
			if k.Kind() == reflect.Interface {
				k = k.Elem()
			}
			if k.Kind() != reflect.String {
				return nil, fmt.Errorf("%w: map key %v is not a string", ErrUnsupportedValue, iter.Key())
			}
			w, err := s.toWire(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[k.String()] = w
		}
		return out, nil
	default:
		return rv.Interface(), nil
	}
}

func (s *Store) fromWire(v any) (any, error) {
	var err error
	switch v := v.(type) {
	case Ref:
		if err := validateObjectKey(v.Key); err != nil {
			return nil, err
		}
		return s.resolve(v.Key), nil
	case []any:
		for i, el := range v {
			if v[i], err = s.fromWire(el); err != nil {
				return nil, err
			}
		}
		return v, nil
	case map[string]any:
		for k, el := range v {
			if v[k], err = s.fromWire(el); err != nil {
				return nil, err
			}
		}
		return v, nil
	case map[any]any:
		for k, el := range v {
			if v[k], err = s.fromWire(el); err != nil {
				return nil, err
			}
		}
		return v, nil
	default:
		return v, nil
	}
}

// Sync flushes the engine and the journal.
func (s *Store) Sync() error {
	if s.closed {
		return ErrClosed
	}
	err := s.engine.Sync()
	if s.journal != nil {
		err = errors.Join(err, s.journal.Sync())
	}
	return err
}

// Close flushes and closes the engine and the journal. Closing an already
// closed store is a no-op.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.objects.clear()
	err := s.engine.Close()
	if s.journal != nil {
		err = errors.Join(err, s.journal.Close())
	}
	if s.verbose {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "pers: closed", slog.Any("err", err))
	}
	if err != nil {
		return fmt.Errorf("pers: closing: %w", err)
	}
	return nil
}
