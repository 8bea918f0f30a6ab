package pers

import (
	"encoding/binary"
	"reflect"
	"testing"
)

func TestByteUtil_AppendHelpers(t *testing.T) {
	buf := appendRaw(nil, []byte{0xAA, 0xBB})
	buf = appendString(buf, "hi")
	buf = appendUint8(buf, 0x42)
	buf = appendUint64(buf, 0x0102030405060708)

	want := []byte{0xAA, 0xBB, 'h', 'i', 0x42}
	want = binary.BigEndian.AppendUint64(want, 0x0102030405060708)
	if !reflect.DeepEqual(buf, want) {
		t.Fatalf("buf = %x, wanted %x", buf, want)
	}
	if v := decodeUint64(buf[5:]); v != 0x0102030405060708 {
		t.Fatalf("decodeUint64 = %x, wanted 0102030405060708", v)
	}
}

func TestByteUtil_ensureCapacity(t *testing.T) {
	buf := ensureCapacity([]byte{1, 2}, 3)
	if cap(buf) < 16 || !reflect.DeepEqual(buf, []byte{1, 2}) {
		t.Fatalf("ensureCapacity = (%x, cap %d), wanted (0102, cap >= 16)", buf, cap(buf))
	}
	buf = ensureCapacity(buf, 100)
	if cap(buf) < 100 || len(buf) != 2 {
		t.Fatalf("ensureCapacity = (len %d, cap %d), wanted (2, >= 100)", len(buf), cap(buf))
	}

	off, buf := grow(buf, 5)
	if off != 2 || len(buf) != 7 {
		t.Fatalf("grow = (%d, len %d), wanted (2, 7)", off, len(buf))
	}
}
