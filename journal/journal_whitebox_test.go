package journal

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestParseName(t *testing.T) {
	j := New(t.TempDir(), Options{FileName: "x*y"})
	seq, err := j.parseSegmentName("x000000000123-20230101T000000-11223344aabbccddy")
	if err != nil {
		t.Fatal(err)
	}
	if e := uint32(123); seq != e {
		t.Errorf("seq = %v, expected %v", seq, e)
	}

	for _, name := range []string{
		"000000000123-20230101T000000-11223344aabbccddy",
		"x000000000123-20230101T000000-11223344aabbccdd",
		"x123y",
		"xabc-20230101T000000-11223344aabbccddy",
		"x000000000123-2023-11223344aabbccddy",
		"x000000000123-20230101T000000-zzy",
	} {
		if _, err := j.parseSegmentName(name); err == nil {
			t.Errorf("parseSegmentName(%q) succeeded, wanted error", name)
		}
	}
}

func TestFormatName(t *testing.T) {
	j := New(t.TempDir(), Options{FileName: "x*y"})
	name := j.formatSegmentName(123, 1672531200, 0x11223344_aabbccdd)
	exp := "x000000000123-20230101T000000-11223344aabbccddy"
	if name != exp {
		t.Errorf("name = %q, expected %q", name, exp)
	}
}

func TestSegmentHeaderSize(t *testing.T) {
	var buf [segmentHeaderSize]byte
	fillSegmentHeader(buf[:], 7, 1672531200, 42)

	var h segmentHeader
	if err := readHeader(bytesReader(buf[:]), &h); err != nil {
		t.Fatal(err)
	}
	if h.SegmentOrdinal != 7 || h.Timestamp != 1672531200 || h.FirstRecord != 42 {
		t.Errorf("header = %+v", h)
	}

	buf[20] ^= 1
	if err := readHeader(bytesReader(buf[:]), &h); err != errCorruptedHeader {
		t.Errorf("readHeader(corrupted) = %v, wanted errCorruptedHeader", err)
	}
}

func TestAppend_rejectsOversizeRecord(t *testing.T) {
	defer func(v uint64) { maxRecordSize = v }(maxRecordSize)
	maxRecordSize = 8

	j := New(t.TempDir(), Options{FileName: "j*.wal"})
	defer j.Close()
	if err := j.Append([]byte("small")); err != nil {
		t.Fatal(err)
	}
	if err := j.Append([]byte("much too large")); !errors.Is(err, ErrRecordTooLarge) {
		t.Fatalf("Append(oversize) = %v, wanted ErrRecordTooLarge", err)
	}
	// the journal stays usable
	if err := j.Append([]byte("again")); err != nil {
		t.Fatalf("Append after rejected record = %v", err)
	}

	var got []string
	err := j.Read(func(rec Record) error {
		got = append(got, string(rec.Data))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "small" || got[1] != "again" {
		t.Fatalf("records = %q, wanted [small again]", got)
	}
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
