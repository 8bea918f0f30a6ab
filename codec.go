package pers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Ref is the serialized form of an object: its key and nothing else.
type Ref struct {
	Key string
}

// Codec turns values into stored bytes and back. A codec must round-trip
// nil, bool, integers (decoded as int), float64, string, []any,
// map[string]any, and Ref, including Refs nested inside slices and maps.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Encoding is one of the built-in codecs.
type Encoding int

const (
	MsgPack Encoding = iota
	JSON

	defaultEncoding = MsgPack
)

const refExtID int8 = 0x50

var _ msgpack.Marshaler = (*Ref)(nil)
var _ msgpack.Unmarshaler = (*Ref)(nil)

func init() {
	msgpack.RegisterExt(refExtID, (*Ref)(nil))
}

func (r *Ref) MarshalMsgpack() ([]byte, error) {
	return []byte(r.Key), nil
}

func (r *Ref) UnmarshalMsgpack(b []byte) error {
	r.Key = string(b)
	return nil
}

var _ msgpack.Marshaler = (*Object)(nil)
var _ json.Marshaler = (*Object)(nil)

// MarshalMsgpack fails: an object reaching an encoder was nested somewhere
// Store.Set does not convert to a reference, such as a struct field.
func (o *Object) MarshalMsgpack() ([]byte, error) {
	return nil, fmt.Errorf("%w: %s nested in a struct", ErrUnsupportedValue, o)
}

func (o *Object) MarshalJSON() ([]byte, error) {
	return nil, fmt.Errorf("%w: %s nested in a struct", ErrUnsupportedValue, o)
}

func (enc Encoding) String() string {
	switch enc {
	case MsgPack:
		return "msgpack"
	case JSON:
		return "json"
	default:
		return fmt.Sprintf("Encoding(%d)", int(enc))
	}
}

func (enc Encoding) Encode(v any) ([]byte, error) {
	switch enc {
	case MsgPack:
		var buf bytes.Buffer
		e := msgpack.GetEncoder()
		e.Reset(&buf)
		e.SetSortMapKeys(true)
		err := e.Encode(msgpackWire(v))
		msgpack.PutEncoder(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
		}
		return buf.Bytes(), nil
	case JSON:
		raw, err := json.Marshal(jsonWire(v))
		if err != nil {
			return nil, fmt.Errorf("failed to encode %T to JSON: %w", v, err)
		}
		return raw, nil
	default:
		panic("unsupported encoding")
	}
}

func (enc Encoding) Decode(data []byte) (any, error) {
	switch enc {
	case MsgPack:
		var r bytes.Reader
		r.Reset(data)
		d := msgpack.GetDecoder()
		d.Reset(&r)
		v, err := d.DecodeInterfaceLoose()
		msgpack.PutDecoder(d)
		if err != nil {
			return nil, dataErrf(data, 0, err, "failed to decode msgpack")
		}
		if r.Len() != 0 {
			return nil, dataErrf(data, len(data)-r.Len(), nil, "trailing data after msgpack value")
		}
		return normalizeDecoded(v), nil
	case JSON:
		d := json.NewDecoder(bytes.NewReader(data))
		d.UseNumber()
		var v any
		if err := d.Decode(&v); err != nil {
			return nil, dataErrf(data, 0, err, "failed to decode JSON")
		}
		return normalizeJSON(v), nil
	default:
		panic("unsupported encoding")
	}
}

// msgpackWire replaces Ref values with *Ref, the type registered as an
// extension; msgpack can only use the pointer form for values held in
// interfaces.
func msgpackWire(v any) any {
	switch v := v.(type) {
	case Ref:
		return &Ref{v.Key}
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			out[i] = msgpackWire(el)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, el := range v {
			out[k] = msgpackWire(el)
		}
		return out
	default:
		return v
	}
}

func normalizeDecoded(v any) any {
	switch v := v.(type) {
	case *Ref:
		return *v
	case float32:
		return float64(v)
	case []any:
		for i, el := range v {
			v[i] = normalizeDecoded(el)
		}
		return v
	case map[string]any:
		for k, el := range v {
			v[k] = normalizeDecoded(el)
		}
		return v
	case map[any]any:
		for k, el := range v {
			v[k] = normalizeDecoded(el)
		}
		return v
	}
	if i, ok := toInt64(v); ok {
		return int(i)
	}
	return v
}

// JSON spells a reference as {"$ref": key}. A stored map whose only key
// starts with "$" is wrapped as {"$map": m} so it cannot be mistaken for one.
// Floats are always written with a fraction or exponent, so that integral
// floats stay floats.
const (
	jsonRefField = "$ref"
	jsonMapField = "$map"
)

func jsonWire(v any) any {
	switch v := v.(type) {
	case Ref:
		return map[string]any{jsonRefField: v.Key}
	case float64:
		return jsonFloat(v, 64)
	case float32:
		return jsonFloat(float64(v), 32)
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			out[i] = jsonWire(el)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, el := range v {
			out[k] = jsonWire(el)
		}
		if isJSONMarker(v) {
			return map[string]any{jsonMapField: out}
		}
		return out
	default:
		return v
	}
}

func jsonFloat(f float64, bitSize int) json.Number {
	s := strconv.FormatFloat(f, 'g', -1, bitSize)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return json.Number(s)
}

func isJSONMarker(m map[string]any) bool {
	if len(m) != 1 {
		return false
	}
	for k := range m {
		return strings.HasPrefix(k, "$")
	}
	return false
}

func normalizeJSON(v any) any {
	switch v := v.(type) {
	case json.Number:
		if !strings.ContainsAny(string(v), ".eE") {
			if i, err := v.Int64(); err == nil {
				return int(i)
			}
		}
		f, _ := v.Float64()
		return f
	case []any:
		for i, el := range v {
			v[i] = normalizeJSON(el)
		}
		return v
	case map[string]any:
		if isJSONMarker(v) {
			if key, ok := v[jsonRefField].(string); ok {
				return Ref{key}
			}
			if m, ok := v[jsonMapField].(map[string]any); ok {
				for k, el := range m {
					m[k] = normalizeJSON(el)
				}
				return m
			}
		}
		for k, el := range v {
			v[k] = normalizeJSON(el)
		}
		return v
	default:
		return v
	}
}
