package pers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNotFound is returned when a store key or a persisted attribute does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrAttrNotFound is returned when a local (in-memory) attribute does not
	// exist.
	ErrAttrNotFound = errors.New("attribute not found")

	// ErrKeyCollision is returned when an object is requested under a key
	// that already holds something other than that object's own record.
	ErrKeyCollision = errors.New("key holds a non-object record")

	ErrInvalidKey      = errors.New("invalid object key")
	ErrInvalidAttrName = errors.New("invalid attribute name")
	ErrForeignObject   = errors.New("object belongs to another store")

	// ErrUnsupportedValue is returned for values that cannot be stored, like
	// maps with non-string keys, or objects inside struct fields.
	ErrUnsupportedValue = errors.New("unsupported value")

	ErrReadOnlyAttr   = errors.New("attribute is read-only")
	ErrNoDefaultStore = errors.New("default store not initialized")
	ErrClosed         = errors.New("store closed")
)

// DataError describes stored bytes that could not be decoded.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// KeyError reports a failed store operation on a particular key.
type KeyError struct {
	Op  string
	Key string
	Err error
}

func keyErr(op, key string, err error) error {
	return &KeyError{op, key, err}
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

func (e *KeyError) Error() string {
	var buf strings.Builder
	buf.WriteString("pers: ")
	buf.WriteString(e.Op)
	buf.WriteByte(' ')
	buf.WriteString(readableKey(e.Key))
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// readableKey renders an object key or attribute key for error messages.
func readableKey(key string) string {
	owner, suffix, ok := strings.Cut(key, string(Sep))
	if !ok {
		return strconv.Quote(key)
	}
	name, err := decodeAttrName([]byte(suffix), nil)
	if err != nil {
		return strconv.Quote(owner) + "." + fmt.Sprintf("%x", suffix)
	}
	return strconv.Quote(owner) + "." + attrNameString(name)
}
