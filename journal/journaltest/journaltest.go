// Package journaltest helps testing code that writes or reads journals.
package journaltest

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/andreyvit/pers/journal"
)

var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// TestJournal is a journal in a temporary directory with a manual clock.
type TestJournal struct {
	*journal.Journal

	T   testing.TB
	Dir string

	opt journal.Options
	now time.Time
}

// New creates a journal in a fresh temporary directory. It is closed when
// the test ends.
func New(t testing.TB, o journal.Options) *TestJournal {
	j := &TestJournal{
		T:   t,
		Dir: t.TempDir(),
		now: Start,
	}
	if o.FileName == "" {
		o.FileName = "j*.wal"
	}
	o.Now = func() time.Time { return j.now }
	o.Logger = Logger(t)
	o.Verbose = true
	j.opt = o

	j.Journal = journal.New(j.Dir, o)
	t.Cleanup(func() {
		if err := j.Close(); err != nil {
			t.Error(err)
		}
	})
	return j
}

// Reopen closes the journal and opens a new one over the same directory.
func (j *TestJournal) Reopen() {
	j.T.Helper()
	if err := j.Close(); err != nil {
		j.T.Fatalf("closing journal: %v", err)
	}
	j.Journal = journal.New(j.Dir, j.opt)
}

// Records reads back the data of every record.
func (j *TestJournal) Records() []string {
	j.T.Helper()
	var out []string
	err := j.Read(func(rec journal.Record) error {
		out = append(out, string(rec.Data))
		return nil
	})
	if err != nil {
		j.T.Fatalf("reading journal: %v", err)
	}
	return out
}

func (j *TestJournal) Data(fileName string) []byte {
	b, err := os.ReadFile(filepath.Join(j.Dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		j.T.Fatalf("when reading %v: %v", fileName, err)
	}
	return b
}

// Put overwrites a file in the journal directory.
func (j *TestJournal) Put(fileName string, data []byte) {
	j.T.Helper()
	if err := os.WriteFile(filepath.Join(j.Dir, fileName), data, 0o644); err != nil {
		j.T.Fatal(err)
	}
}

func (j *TestJournal) Now() time.Time {
	return j.now
}

func (j *TestJournal) Advance(d time.Duration) {
	j.now = j.now.Add(d)
}

func (j *TestJournal) FileNames() []string {
	j.T.Helper()
	ents, err := os.ReadDir(j.Dir)
	if err != nil {
		j.T.Fatal(err)
	}
	var names []string
	for _, ent := range ents {
		names = append(names, ent.Name())
	}
	slices.Sort(names)
	return names
}

// Logger returns a debug-level logger that writes to the test log.
func Logger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(&logWriter{t}, &slog.HandlerOptions{
		AddSource: false,
		Level:     slog.LevelDebug,
	}))
}

type logWriter struct{ t testing.TB }

func (c *logWriter) Write(buf []byte) (int, error) {
	msg := string(buf)
	origLen := len(msg)
	msg = strings.TrimSuffix(msg, "\n")
	c.t.Log(msg)
	return origLen, nil
}
