package journal_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/andreyvit/pers/journal"
	"github.com/andreyvit/pers/journal/journaltest"
)

func TestJournal_trivial(t *testing.T) {
	j := journaltest.New(t, journal.Options{})
	ensure(j.Append([]byte("hello")))
	ensure(j.Append([]byte("w")))
	j.Advance(1000 * time.Second)
	ensure(j.Append([]byte("orld")))
	ensure(j.Sync())

	deepEq(t, j.FileNames(), []string{"j000000000001-20240101T000000-0000000000000001.wal"})
	deepEq(t, j.Records(), []string{"hello", "w", "orld"})

	// header + 3 records of uvarint size, uvarint delta, data, checksum
	size := len(j.Data(j.FileNames()[0]))
	if e := 40 + (2 + 5 + 8) + (2 + 1 + 8) + (3 + 4 + 8); size != e {
		t.Errorf("file size = %d, wanted %d", size, e)
	}

	var recs []journal.Record
	ensure(j.Read(func(rec journal.Record) error {
		recs = append(recs, rec)
		return nil
	}))
	if len(recs) != 3 {
		t.Fatalf("got %d records, wanted 3", len(recs))
	}
	for i, rec := range recs {
		if e := uint64(i + 1); rec.Seq != e {
			t.Errorf("recs[%d].Seq = %d, wanted %d", i, rec.Seq, e)
		}
		if rec.Segment != 1 {
			t.Errorf("recs[%d].Segment = %d, wanted 1", i, rec.Segment)
		}
	}
	if e := journaltest.Start; !recs[1].Time.Equal(e) {
		t.Errorf("recs[1].Time = %v, wanted %v", recs[1].Time, e)
	}
	if e := journaltest.Start.Add(1000 * time.Second); !recs[2].Time.Equal(e) {
		t.Errorf("recs[2].Time = %v, wanted %v", recs[2].Time, e)
	}
}

func TestJournal_empty(t *testing.T) {
	j := journaltest.New(t, journal.Options{})
	deepEq(t, j.Records(), []string(nil))

	missing := journal.New(filepath.Join(t.TempDir(), "nope"), journal.Options{})
	ensure(missing.Read(func(rec journal.Record) error {
		t.Errorf("unexpected record %q", rec.Data)
		return nil
	}))
}

func TestJournal_reopenAppendsToLastSegment(t *testing.T) {
	j := journaltest.New(t, journal.Options{})
	ensure(j.Append([]byte("a")))
	ensure(j.Append([]byte("b")))
	j.Reopen()
	j.Advance(5 * time.Second)
	ensure(j.Append([]byte("c")))

	deepEq(t, len(j.FileNames()), 1)
	deepEq(t, j.Records(), []string{"a", "b", "c"})

	var last journal.Record
	ensure(j.Read(func(rec journal.Record) error {
		last = rec
		return nil
	}))
	deepEq(t, last.Seq, uint64(3))
	if e := journaltest.Start.Add(5 * time.Second); !last.Time.Equal(e) {
		t.Errorf("last.Time = %v, wanted %v", last.Time, e)
	}
}

func TestJournal_rotation(t *testing.T) {
	j := journaltest.New(t, journal.Options{MaxFileSize: 64})
	for _, s := range []string{"first record", "second record", "third record", "fourth record"} {
		ensure(j.Append([]byte(s)))
	}
	files := j.FileNames()
	if len(files) < 2 {
		t.Fatalf("got %d files, wanted rotation: %v", len(files), files)
	}
	deepEq(t, j.Records(), []string{"first record", "second record", "third record", "fourth record"})

	var seqs []uint64
	ensure(j.Read(func(rec journal.Record) error {
		seqs = append(seqs, rec.Seq)
		return nil
	}))
	deepEq(t, seqs, []uint64{1, 2, 3, 4})
}

func TestJournal_explicitRotate(t *testing.T) {
	j := journaltest.New(t, journal.Options{})
	ensure(j.Append([]byte("a")))
	j.Rotate()
	ensure(j.Append([]byte("b")))

	deepEq(t, j.FileNames(), []string{
		"j000000000001-20240101T000000-0000000000000001.wal",
		"j000000000002-20240101T000000-0000000000000002.wal",
	})
	deepEq(t, j.Records(), []string{"a", "b"})
}

func TestJournal_trimsCorruptedTail(t *testing.T) {
	j := journaltest.New(t, journal.Options{})
	ensure(j.Append([]byte("a")))
	ensure(j.Append([]byte("b")))
	j.Reopen()

	name := j.FileNames()[0]
	good := j.Data(name)
	j.Put(name, append(append([]byte(nil), good...), 0x05, 0x00, 'x', 'y'))

	deepEq(t, j.Records(), []string{"a", "b"})

	ensure(j.Append([]byte("c")))
	deepEq(t, j.Records(), []string{"a", "b", "c"})
	deepEq(t, len(j.Data(name)), len(good)+(1+1+1+8))
}

func TestJournal_corruptedChecksum(t *testing.T) {
	j := journaltest.New(t, journal.Options{})
	ensure(j.Append([]byte("a")))
	ensure(j.Append([]byte("b")))
	j.Reopen()

	name := j.FileNames()[0]
	data := j.Data(name)
	data[len(data)-1] ^= 0xFF
	j.Put(name, data)

	deepEq(t, j.Records(), []string{"a"})
}

func TestJournal_corruptedEarlierSegmentFails(t *testing.T) {
	j := journaltest.New(t, journal.Options{})
	ensure(j.Append([]byte("a")))
	j.Rotate()
	ensure(j.Append([]byte("b")))
	j.Reopen()

	name := j.FileNames()[0]
	data := j.Data(name)
	data[len(data)-1] ^= 0xFF
	j.Put(name, data)

	err := j.Read(func(rec journal.Record) error { return nil })
	if !errors.Is(err, journal.ErrCorrupted) {
		t.Fatalf("Read() = %v, wanted ErrCorrupted", err)
	}
}

func TestJournal_foreignFile(t *testing.T) {
	j := journaltest.New(t, journal.Options{})
	j.Put("j000000000001-20240101T000000-0000000000000001.wal", make([]byte, 64))

	err := j.Append([]byte("a"))
	if !errors.Is(err, journal.ErrIncompatible) {
		t.Fatalf("Append() = %v, wanted ErrIncompatible", err)
	}
	// the error sticks
	if err := j.Append([]byte("b")); !errors.Is(err, journal.ErrIncompatible) {
		t.Fatalf("second Append() = %v, wanted ErrIncompatible", err)
	}
}

func TestJournal_callbackErrorStopsRead(t *testing.T) {
	j := journaltest.New(t, journal.Options{})
	ensure(j.Append([]byte("a")))
	ensure(j.Append([]byte("b")))

	stop := errors.New("stop")
	var n int
	err := j.Read(func(rec journal.Record) error {
		n++
		return stop
	})
	if err != stop || n != 1 {
		t.Fatalf("Read() = %v after %d records, wanted stop after 1", err, n)
	}
}

func TestJournal_closed(t *testing.T) {
	j := journaltest.New(t, journal.Options{})
	ensure(j.Close())
	if err := j.Append([]byte("a")); !errors.Is(err, journal.ErrClosed) {
		t.Fatalf("Append() after Close = %v, wanted ErrClosed", err)
	}
	if _, err := os.Stat(j.Dir); err != nil {
		t.Fatal(err)
	}
}

func deepEq[T any](t testing.TB, a, e T) bool {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
		return false
	}
	return true
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
