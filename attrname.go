package pers

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Sep separates an object's key from the encoded name of one of its
// attributes. Object keys must not contain it.
const Sep byte = 0x00

// LocalPrefix marks attribute names that live only in process memory.
const LocalPrefix = "_"

// Attribute name suffix tags. Tags are control bytes, so they never collide
// with the first byte of a legacy textual suffix. String names sort before
// integer names; integer names sort numerically.
const (
	attrTagString byte = 0x01
	attrTagInt    byte = 0x02
	attrTagRef    byte = 0x03

	// legacyFirstByte is the lowest first byte of a legacy textual suffix.
	legacyFirstByte byte = 0x20
)

const intSignBit = uint64(1) << 63

func validateObjectKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.IndexByte(key, Sep) >= 0 {
		return fmt.Errorf("%w: %q contains separator byte", ErrInvalidKey, key)
	}
	return nil
}

// localName returns the name of a local attribute, if name denotes one.
func localName(name any) (string, bool) {
	s, ok := name.(string)
	if ok && strings.HasPrefix(s, LocalPrefix) {
		return s, true
	}
	return "", false
}

func attrPrefix(objKey string) []byte {
	buf := make([]byte, 0, len(objKey)+1)
	buf = appendString(buf, objKey)
	return appendUint8(buf, Sep)
}

func attrKey(objKey string, name any) (string, error) {
	buf := make([]byte, 0, len(objKey)+16)
	buf = appendString(buf, objKey)
	buf = appendUint8(buf, Sep)
	buf, err := appendAttrName(buf, name)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func appendAttrName(buf []byte, name any) ([]byte, error) {
	switch v := name.(type) {
	case string:
		buf = appendUint8(buf, attrTagString)
		return appendString(buf, v), nil
	case *Object:
		if v == nil {
			return buf, fmt.Errorf("%w: nil object", ErrInvalidAttrName)
		}
		buf = appendUint8(buf, attrTagRef)
		return appendString(buf, v.key), nil
	case Ref:
		if err := validateObjectKey(v.Key); err != nil {
			return buf, fmt.Errorf("%w: reference: %v", ErrInvalidAttrName, err)
		}
		buf = appendUint8(buf, attrTagRef)
		return appendString(buf, v.Key), nil
	}
	if i, ok := toInt64(name); ok {
		buf = appendUint8(buf, attrTagInt)
		return appendUint64(buf, uint64(i)^intSignBit), nil
	}
	return buf, fmt.Errorf("%w: %T", ErrInvalidAttrName, name)
}

// decodeAttrName turns an attribute key suffix back into the attribute name.
// Reference names resolve through s; with a nil store they come back as Ref.
func decodeAttrName(suffix []byte, s *Store) (any, error) {
	if len(suffix) == 0 {
		return nil, dataErrf(suffix, 0, nil, "empty attribute name")
	}
	switch tag := suffix[0]; tag {
	case attrTagString:
		return string(suffix[1:]), nil
	case attrTagInt:
		if len(suffix) != 9 {
			return nil, dataErrf(suffix, 1, nil, "invalid integer attribute name")
		}
		return int(int64(decodeUint64(suffix[1:]) ^ intSignBit)), nil
	case attrTagRef:
		key := string(suffix[1:])
		if err := validateObjectKey(key); err != nil {
			return nil, dataErrf(suffix, 1, err, "invalid reference attribute name")
		}
		return refName(Ref{key}, s), nil
	default:
		if tag < legacyFirstByte {
			return nil, dataErrf(suffix, 0, nil, "unknown attribute name tag 0x%02x", tag)
		}
		return decodeLegacyAttrName(suffix, s)
	}
}

// canonicalAttrName maps a valid attribute name to the form decodeAttrName
// returns for it without a store: a string, an int or a Ref.
func canonicalAttrName(name any) (any, error) {
	switch v := name.(type) {
	case string:
		return v, nil
	case *Object:
		if v == nil {
			return nil, fmt.Errorf("%w: nil object", ErrInvalidAttrName)
		}
		return Ref{v.key}, nil
	case Ref:
		return v, nil
	}
	if i, ok := toInt64(name); ok {
		return int(i), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrInvalidAttrName, name)
}

func refName(ref Ref, s *Store) any {
	if s == nil {
		return ref
	}
	return s.resolve(ref.Key)
}

func attrNameString(name any) string {
	switch v := name.(type) {
	case string:
		return strconv.Quote(v)
	case *Object:
		return "&" + v.key
	case Ref:
		return "&" + v.Key
	default:
		return fmt.Sprint(v)
	}
}

// toInt64 accepts any Go integer kind.
func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}
