// Package journal implements append-only, checksummed log files split into
// numbered segments.
//
// A journal is used as a mutation log: every record is a self-contained
// opaque byte string, written in order and read back in the same order.
//
// Features:
//
//  1. Crash-resistant (if followed by Sync). Every record carries an xxhash
//     checksum; a torn or corrupted tail of the last segment is trimmed when
//     the journal is next opened for writing, and ignored when reading.
//
//  2. Rotates segment files when they reach a certain size. Rotation can also
//     be triggered explicitly.
//
//  3. Manages segment file naming.
//
// File format:
//
//   - segment = header record*
//   - header = magic:64 version:8 pad:24 ordinal:32 timestamp:32 pad:32 firstRecord:64 checksum:64
//   - record = size:uvarint tsDelta:uvarint data checksum:64
//
// All fixed-size integers are little-endian. A record checksum covers the
// record's size, timestamp delta and data.
package journal

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/pers/fsync"
)

var (
	ErrIncompatible       = errors.New("incompatible journal")
	ErrUnsupportedVersion = errors.New("unsupported journal version")
	ErrCorrupted          = errors.New("corrupted journal segment")
	ErrClosed             = errors.New("journal closed")
	ErrRecordTooLarge     = errors.New("journal record too large")

	errCorruptedHeader = errors.New("corrupted journal segment header")
	errCorruptedTail   = errors.New("corrupted journal segment tail")
)

type Options struct {
	Context     context.Context
	FileName    string // e.g. "mutations-*.log"
	MaxFileSize int64  // new segment after this size
	DebugName   string
	Now         func() time.Time

	Logger  *slog.Logger
	Verbose bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

// maxRecordSize bounds a single record, both when writing and when reading.
var maxRecordSize uint64 = 1 << 30

const (
	magic          = 0x4c4e524a53524550 // "PERSJRNL" as little-endian uint64
	version0 uint8 = 0
)

const segmentHeaderSize = 40

type segmentHeader struct {
	Magic          uint64
	Version        uint8
	_              [3]uint8
	SegmentOrdinal uint32
	Timestamp      uint32
	_              uint32
	FirstRecord    uint64
	Checksum       uint64
}

const timestampFmt = "20060102T150405"

// Record is a single journal entry as read back by Read.
type Record struct {
	Segment uint32
	Seq     uint64
	Time    time.Time
	Data    []byte
}

// Journal is a directory of segment files sharing a name pattern.
type Journal struct {
	context        context.Context
	maxFileSize    int64
	fileNamePrefix string
	fileNameSuffix string
	debugName      string
	dir            string
	now            func() time.Time
	logger         *slog.Logger
	verbose        bool

	writeLock sync.Mutex
	writeErr  error
	prepared  bool
	closed    bool
	lastSeg   uint32
	lastRec   uint64
	lastTS    uint32
	segWriter *segmentWriter
}

// New returns a journal over dir. Nothing is touched on disk until the first
// Append or Read.
func New(dir string, o Options) *Journal {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.FileName == "" {
		o.FileName = "*"
	}
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	if o.DebugName == "" {
		o.DebugName = "journal"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Journal{
		context:        o.Context,
		maxFileSize:    o.MaxFileSize,
		fileNamePrefix: prefix,
		fileNameSuffix: suffix,
		debugName:      o.DebugName,
		dir:            dir,
		now:            o.Now,
		logger:         o.Logger,
		verbose:        o.Verbose,
	}
}

func (j *Journal) String() string {
	return j.debugName
}

func (j *Journal) timestamp() uint32 {
	v := j.now().Unix()
	if v < 0 {
		panic("time travel disallowed")
	}
	u := uint64(v)
	if u&0xFFFF_FFFF_0000_0000 != 0 {
		panic("time travel disallowed both ways")
	}
	return uint32(u)
}

// Append writes one record, starting a new segment if needed.
func (j *Journal) Append(data []byte) error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.closed {
		return ErrClosed
	}
	if j.writeErr != nil {
		return j.writeErr
	}
	if uint64(len(data)) > maxRecordSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrRecordTooLarge, len(data), maxRecordSize)
	}
	if !j.prepared {
		if err := j.fail(j.prepareToWrite_locked()); err != nil {
			return err
		}
		j.prepared = true
	}

	ts := j.timestamp()
	if ts < j.lastTS {
		ts = j.lastTS
	}

	if j.segWriter != nil && j.segWriter.size >= j.maxFileSize {
		j.segWriter.close()
		j.segWriter = nil
	}
	if j.segWriter == nil {
		sw, err := startSegment(j, j.lastSeg+1, ts, j.lastRec+1)
		if err != nil {
			return j.fail(err)
		}
		j.segWriter = sw
		j.lastSeg++
		if j.verbose {
			j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: started segment", slog.String("jrnl", j.debugName), slog.String("file", sw.f.Name()))
		}
	}

	if err := j.segWriter.writeRecord(ts, data); err != nil {
		return j.fail(err)
	}
	j.lastRec++
	j.lastTS = ts
	return nil
}

// Rotate makes the next Append start a new segment.
func (j *Journal) Rotate() {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.segWriter != nil {
		j.segWriter.close()
		j.segWriter = nil
	}
}

// Sync flushes the current segment to stable storage.
func (j *Journal) Sync() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.closed {
		return ErrClosed
	}
	if j.segWriter == nil {
		return nil
	}
	return j.fail(fsync.Fdatasync(j.segWriter.f))
}

func (j *Journal) Close() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if j.segWriter == nil {
		return nil
	}
	err := fsync.Fdatasync(j.segWriter.f)
	j.segWriter.close()
	j.segWriter = nil
	return err
}

func (j *Journal) fail(err error) error {
	if err == nil {
		return nil
	}
	j.logger.LogAttrs(j.context, slog.LevelError, "journal: failed", slog.String("jrnl", j.debugName), slog.Any("err", err))
	if j.segWriter != nil {
		j.segWriter.close()
		j.segWriter = nil
	}
	if j.writeErr == nil {
		j.writeErr = err
	}
	return err
}

// prepareToWrite_locked finds the last segment, trims its corrupted tail if
// any, and reopens it for appending.
func (j *Journal) prepareToWrite_locked() error {
	if err := os.MkdirAll(j.dir, 0o777); err != nil {
		return err
	}
	for {
		names, err := j.segmentNames()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return nil
		}
		lastName := names[len(names)-1]
		seq, err := j.parseSegmentName(lastName)
		if err != nil {
			return err
		}

		f, err := j.openFile(lastName, true)
		if err != nil {
			return err
		}
		res, err := readSegment(f, seq, nil)
		if err == errCorruptedHeader {
			f.Close()
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: deleting corrupted file", slog.String("jrnl", j.debugName), slog.String("file", lastName))
			if err := os.Remove(filepath.Join(j.dir, lastName)); err != nil {
				return fmt.Errorf("journal: failed to delete corrupted file: %w", err)
			}
			continue
		} else if err == errCorruptedTail {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: trimming corrupted tail", slog.String("jrnl", j.debugName), slog.String("file", lastName), slog.Int64("size", res.size), slog.Int64("valid", res.validEnd))
			if err := f.Truncate(res.validEnd); err != nil {
				f.Close()
				return err
			}
		} else if err != nil {
			f.Close()
			return err
		}

		if _, err := f.Seek(res.validEnd, io.SeekStart); err != nil {
			f.Close()
			return err
		}
		j.lastSeg = seq
		j.lastRec = res.lastRec
		j.lastTS = res.lastTS
		j.segWriter = &segmentWriter{f: f, ts: res.lastTS, size: res.validEnd}
		return nil
	}
}

// Read calls fn for every record in the journal, oldest first. A corrupted
// tail of the last segment ends the journal; corruption anywhere else fails
// with ErrCorrupted. Record.Data is owned by fn.
func (j *Journal) Read(fn func(rec Record) error) error {
	names, err := j.segmentNames()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}

	for i, name := range names {
		if err := j.context.Err(); err != nil {
			return err
		}
		seq, err := j.parseSegmentName(name)
		if err != nil {
			return err
		}
		f, err := j.openFile(name, false)
		if err != nil {
			return err
		}
		res, err := readSegment(f, seq, fn)
		f.Close()

		last := (i == len(names)-1)
		if (err == errCorruptedTail || err == errCorruptedHeader) && last {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: ignoring corrupted tail", slog.String("jrnl", j.debugName), slog.String("file", name), slog.Int64("valid", res.validEnd))
			return nil
		} else if err == errCorruptedTail || err == errCorruptedHeader {
			return fmt.Errorf("%v: %s: %w", j.debugName, name, ErrCorrupted)
		} else if err != nil {
			return err
		}
	}
	return nil
}

type segmentReadResult struct {
	size     int64
	validEnd int64
	lastRec  uint64
	lastTS   uint32
}

func readSegment(f *os.File, expectedSeq uint32, fn func(rec Record) error) (segmentReadResult, error) {
	var res segmentReadResult
	stat, err := f.Stat()
	if err != nil {
		return res, err
	}
	res.size = stat.Size()

	r := bufio.NewReader(f)

	var h segmentHeader
	if err := readHeader(r, &h); err != nil {
		return res, err
	}
	if h.SegmentOrdinal != expectedSeq {
		return res, errCorruptedHeader
	}
	res.validEnd = segmentHeaderSize
	res.lastRec = h.FirstRecord - 1
	res.lastTS = h.Timestamp

	hr := hashingReader{r: r}
	for {
		hr.reset()
		size, err := binary.ReadUvarint(&hr)
		if err == io.EOF && hr.n == 0 {
			return res, nil
		} else if err != nil || size > maxRecordSize {
			return res, errCorruptedTail
		}
		tsDelta, err := binary.ReadUvarint(&hr)
		if err != nil || tsDelta > 0xFFFF_FFFF {
			return res, errCorruptedTail
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(&hr, data); err != nil {
			return res, errCorruptedTail
		}
		var sumBuf [8]byte
		if _, err := io.ReadFull(r, sumBuf[:]); err != nil {
			return res, errCorruptedTail
		}
		if binary.LittleEndian.Uint64(sumBuf[:]) != hr.hash.Sum64() {
			return res, errCorruptedTail
		}

		ts := res.lastTS + uint32(tsDelta)
		seq := res.lastRec + 1
		if fn != nil {
			err := fn(Record{
				Segment: expectedSeq,
				Seq:     seq,
				Time:    time.Unix(int64(ts), 0).UTC(),
				Data:    data,
			})
			if err != nil {
				return res, err
			}
		}
		res.lastRec = seq
		res.lastTS = ts
		res.validEnd += hr.n + 8
	}
}

func readHeader(r io.Reader, h *segmentHeader) error {
	var buf [segmentHeaderSize]byte
	_, err := io.ReadFull(r, buf[:])
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return errCorruptedHeader
	} else if err != nil {
		return err
	}
	n, err := binary.Decode(buf[:], binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}

	if h.Magic != magic {
		return ErrIncompatible
	}
	if xxhash.Sum64(buf[:segmentHeaderSize-8]) != h.Checksum {
		return errCorruptedHeader
	}
	if h.Version > version0 {
		return ErrUnsupportedVersion
	}
	if h.FirstRecord == 0 {
		return errCorruptedHeader
	}
	return nil
}

// hashingReader counts and hashes everything read through it.
type hashingReader struct {
	r    *bufio.Reader
	hash xxhash.Digest
	n    int64
}

func (hr *hashingReader) reset() {
	hr.hash.Reset()
	hr.n = 0
}

func (hr *hashingReader) ReadByte() (byte, error) {
	b, err := hr.r.ReadByte()
	if err != nil {
		return 0, err
	}
	hr.hash.Write([]byte{b})
	hr.n++
	return b, nil
}

func (hr *hashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	hr.hash.Write(p[:n])
	hr.n += int64(n)
	return n, err
}

func (j *Journal) openFile(name string, writable bool) (*os.File, error) {
	fn := filepath.Join(j.dir, name)
	if writable {
		return os.OpenFile(fn, os.O_RDWR|os.O_CREATE, 0o666)
	} else {
		return os.Open(fn)
	}
}

// segmentNames lists segment files in ordinal order.
func (j *Journal) segmentNames() ([]string, error) {
	ents, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		if _, err := j.parseSegmentName(name); err != nil {
			continue
		}
		names = append(names, name)
	}
	// ordinals are zero-padded, so name order is ordinal order
	slices.Sort(names)
	return names, nil
}

type segmentWriter struct {
	f    *os.File
	ts   uint32
	size int64
	hash xxhash.Digest
	buf  []byte
}

func startSegment(j *Journal, seg, ts uint32, rec uint64) (*segmentWriter, error) {
	name := j.formatSegmentName(seg, ts, rec)

	f, err := j.openFile(name, true)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], seg, ts, rec)

	_, err = f.Write(hbuf[:])
	if err != nil {
		return nil, err
	}

	ok = true
	return &segmentWriter{
		f:    f,
		ts:   ts,
		size: segmentHeaderSize,
	}, nil
}

const maxRecHeaderLen = binary.MaxVarintLen64 + binary.MaxVarintLen32

// writeRecord assembles the record in memory and writes it with a single
// call, so that a failed write leaves at most one torn record at the tail.
func (sw *segmentWriter) writeRecord(ts uint32, data []byte) error {
	var tsDelta uint32
	if ts > sw.ts {
		tsDelta = ts - sw.ts
		sw.ts = ts
	}

	b := sw.buf[:0]
	b = binary.AppendUvarint(b, uint64(len(data)))
	b = binary.AppendUvarint(b, uint64(tsDelta))
	b = append(b, data...)

	sw.hash.Reset()
	sw.hash.Write(b)
	b = binary.LittleEndian.AppendUint64(b, sw.hash.Sum64())
	sw.buf = b

	n, err := sw.f.Write(b)
	sw.size += int64(n)
	return err
}

func (sw *segmentWriter) close() {
	if sw.f == nil {
		return
	}
	sw.f.Close()
	sw.f = nil
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func fillSegmentHeader(buf []byte, seg, ts uint32, rec uint64) {
	h := segmentHeader{
		Magic:          magic,
		Version:        version0,
		SegmentOrdinal: seg,
		Timestamp:      ts,
		FirstRecord:    rec,
	}

	n, err := binary.Encode(buf, binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != segmentHeaderSize {
		panic("internal size mismatch")
	}
	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], xxhash.Sum64(buf[:segmentHeaderSize-8]))
}

func (j *Journal) formatSegmentName(seq, ts uint32, id uint64) string {
	t := time.Unix(int64(uint64(ts)), 0).UTC()
	return fmt.Sprintf("%s%012d-%s-%016x%s", j.fileNamePrefix, seq, t.Format(timestampFmt), id, j.fileNameSuffix)
}

func (j *Journal) parseSegmentName(name string) (uint32, error) {
	s, ok := strings.CutPrefix(name, j.fileNamePrefix)
	if !ok {
		return 0, fmt.Errorf("invalid segment file name %q (missing prefix)", name)
	}
	s, ok = strings.CutSuffix(s, j.fileNameSuffix)
	if !ok {
		return 0, fmt.Errorf("invalid segment file name %q (missing suffix)", name)
	}

	seqStr, rem, ok := strings.Cut(s, "-")
	if !ok {
		return 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}

	tsStr, idStr, ok := strings.Cut(rem, "-")
	if !ok {
		return 0, fmt.Errorf("invalid segment file name %q", name)
	}
	if _, err := time.ParseInLocation(timestampFmt, tsStr, time.UTC); err != nil {
		return 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	if _, err := strconv.ParseUint(idStr, 16, 64); err != nil {
		return 0, fmt.Errorf("invalid segment file name %q (invalid record identifier)", name)
	}
	return uint32(v), nil
}
