// Package store persists the accepted time series as plain text record
// lines, one file per calendar day. The format matches the long-standing
// .rec layout (timestamp, temperature, humidity per line), so existing
// files and tooling keep working, and a reader from an older version simply
// ignores any fields a newer version appends.
//
// The store expects a single writer (the sampling loop). Reads may run
// concurrently with the writer: Append publishes whole lines under a write
// lock and flushes per record, and Range captures the active file's length
// under a read lock before streaming, so an iterator never yields a
// partially written record.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mweigel/dhtbot/reading"
)

// daySuffix is the date layout appended to rotated segment file names.
const daySuffix = "2006-01-02"

// ErrOutOfOrder is returned by Append if the record's timestamp precedes
// the most recently stored record. Storage order must reflect sampling
// order.
var ErrOutOfOrder = errors.New("store: record timestamp out of order")

var (
	appendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dhtbot_store_appended_records_total",
		Help: "The total number of records appended to the time series.",
	})
	appendErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dhtbot_store_append_errors_total",
		Help: "The total number of failed appends.",
	})
	purgedSegmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dhtbot_store_purged_segments_total",
		Help: "The total number of expired day segments deleted by retention.",
	})
)

// Store is a durable, append-only, time-ordered record log.
type Store struct {
	mu   sync.RWMutex
	path string // the active file; rotated segments are path.YYYY-MM-DD
	f    *os.File
	w    *bufio.Writer

	// day is the local midnight of the day covered by the active file.
	// Zero until the first record lands in a fresh file.
	day time.Time

	last    reading.Record
	hasLast bool

	// now is replaced in tests.
	now func() time.Time
}

// Open opens (or creates) the store rooted at path. Existing segments are
// scanned newest-first to recover the most recent record, so Last is
// correct immediately after an ungraceful restart.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: %v", err)
		}
	}

	s := &Store{
		path: path,
		now:  time.Now,
	}

	if err := s.recover(); err != nil {
		return nil, err
	}

	// An ungraceful shutdown can leave a torn final line. Terminate it so
	// the next append starts on a fresh line; readers already skip the
	// unparseable fragment.
	if err := repairTrailingNewline(path); err != nil {
		return nil, err
	}

	if err := s.openActive(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) openActive() error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("store: failed to open active segment: %v", err)
	}
	s.f = f
	s.w = bufio.NewWriter(f)
	return nil
}

// recover scans segments newest-first for the last parseable record and
// determines which day the active file covers.
func (s *Store) recover() error {
	segs, err := s.segments()
	if err != nil {
		return err
	}

	for i := len(segs) - 1; i >= 0; i-- {
		rec, ok, err := lastRecord(segs[i])
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if !s.hasLast {
			s.last = rec
			s.hasLast = true
		}
		if segs[i] == s.path {
			s.day = midnight(rec.Timestamp)
		}
		break
	}

	return nil
}

// Append adds a record to the time series and flushes it to the OS before
// returning. The active file is rotated when the record's day differs from
// the day the file covers.
func (s *Store) Append(rec reading.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasLast && rec.Timestamp.Before(s.last.Timestamp) {
		appendErrorsTotal.Inc()
		return ErrOutOfOrder
	}

	day := midnight(rec.Timestamp)
	if !s.day.IsZero() && !day.Equal(s.day) {
		if err := s.rotate(); err != nil {
			appendErrorsTotal.Inc()
			return err
		}
	}
	s.day = day

	if _, err := s.w.WriteString(rec.MarshalLine() + "\n"); err != nil {
		appendErrorsTotal.Inc()
		return fmt.Errorf("store: append failed: %v", err)
	}
	if err := s.w.Flush(); err != nil {
		appendErrorsTotal.Inc()
		return fmt.Errorf("store: flush failed: %v", err)
	}

	s.last = rec
	s.hasLast = true
	appendedTotal.Inc()
	return nil
}

// rotate renames the active file to its dated segment name and starts a
// fresh active file. Called with the write lock held.
func (s *Store) rotate() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("store: flush before rotate failed: %v", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("store: close before rotate failed: %v", err)
	}

	rotated := s.path + "." + s.day.Format(daySuffix)
	if err := os.Rename(s.path, rotated); err != nil {
		return fmt.Errorf("store: rotate failed: %v", err)
	}

	return s.openActive()
}

// Last returns the most recent record, or false if the store is empty.
func (s *Store) Last() (reading.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasLast
}

// Range returns an iterator over all records with timestamps in [from, to],
// in ascending order. A zero from means the beginning of the series; a zero
// to means no upper bound. Records are streamed one segment at a time, so
// large ranges do not load the whole series into memory. The caller must
// Close the iterator.
func (s *Store) Range(from, to time.Time) (*Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	segs, err := s.segments()
	if err != nil {
		return nil, err
	}

	files := make([]segment, 0, len(segs))
	for _, p := range segs {
		seg := segment{path: p, limit: -1}
		if p == s.path {
			// Bound reads of the active file to its current length
			// so the iterator never races a concurrent append.
			fi, err := os.Stat(p)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, fmt.Errorf("store: %v", err)
			}
			seg.limit = fi.Size()
		}
		files = append(files, seg)
	}

	return &Iterator{
		files: files,
		from:  from,
		to:    to,
	}, nil
}

// PurgeOlderThan removes records older than age. An age of 0 disables
// retention and is a no-op. Fully expired day segments are deleted; the
// segment straddling the cutoff is rewritten in place.
func (s *Store) PurgeOlderThan(age time.Duration) error {
	if age <= 0 {
		return nil
	}
	cutoff := s.now().Add(-age)

	s.mu.Lock()
	defer s.mu.Unlock()

	segs, err := s.segments()
	if err != nil {
		return err
	}

	for _, p := range segs {
		if p == s.path {
			continue
		}

		day, err := time.ParseInLocation(daySuffix, strings.TrimPrefix(p, s.path+"."), time.Local)
		if err != nil {
			// Not one of ours.
			continue
		}

		if !day.AddDate(0, 0, 1).After(cutoff) {
			if err := os.Remove(p); err != nil {
				return fmt.Errorf("store: purge failed: %v", err)
			}
			purgedSegmentsTotal.Inc()
		} else if day.Before(cutoff) {
			if err := rewriteSince(p, cutoff); err != nil {
				return err
			}
		}
	}

	// The active file may also straddle the cutoff, e.g. with very short
	// retention. Rewrite it through the same path, reopening for append.
	if !s.day.IsZero() && s.day.Before(cutoff) {
		if err := s.w.Flush(); err != nil {
			return fmt.Errorf("store: flush before purge failed: %v", err)
		}
		if err := s.f.Close(); err != nil {
			return fmt.Errorf("store: close before purge failed: %v", err)
		}
		if err := rewriteSince(s.path, cutoff); err != nil {
			return err
		}
		if err := s.openActive(); err != nil {
			return err
		}
	}

	return nil
}

// Close flushes and closes the active segment. The store must not be used
// afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("store: %v", err)
	}
	return s.f.Close()
}

// segments lists all segment files in ascending date order, the active file
// last. Called with at least the read lock held.
func (s *Store) segments() ([]string, error) {
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("store: %v", err)
	}

	var rotated []string
	active := false
	for _, e := range entries {
		name := e.Name()
		if name == base {
			active = true
			continue
		}
		if strings.HasPrefix(name, base+".") {
			if _, err := time.Parse(daySuffix, strings.TrimPrefix(name, base+".")); err == nil {
				rotated = append(rotated, filepath.Join(dir, name))
			}
		}
	}

	// Date suffixes sort lexically in chronological order.
	sort.Strings(rotated)
	if active {
		rotated = append(rotated, s.path)
	}
	return rotated, nil
}

// rewriteSince rewrites the segment at path keeping only records with
// timestamps at or after cutoff, via a temp file and rename.
func rewriteSince(path string, cutoff time.Time) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("store: purge rewrite: %v", err)
	}
	defer in.Close()

	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("store: purge rewrite: %v", err)
	}

	w := bufio.NewWriter(out)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Text()
		rec, err := reading.ParseLine(line)
		if err != nil {
			// Keep lines we cannot parse; purge only removes what it
			// understands.
			fmt.Fprintln(w, line)
			continue
		}
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		fmt.Fprintln(w, line)
	}
	if err := sc.Err(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: purge rewrite: %v", err)
	}

	if err := w.Flush(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: purge rewrite: %v", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: purge rewrite: %v", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: purge rewrite: %v", err)
	}
	return nil
}

// repairTrailingNewline appends a newline to the file at path if its last
// byte is not one. Missing files are fine.
func repairTrailingNewline(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: %v", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("store: %v", err)
	}
	if fi.Size() == 0 {
		return nil
	}

	b := make([]byte, 1)
	if _, err := f.ReadAt(b, fi.Size()-1); err != nil {
		return fmt.Errorf("store: %v", err)
	}
	if b[0] == '\n' {
		return nil
	}

	if _, err := f.WriteAt([]byte{'\n'}, fi.Size()); err != nil {
		return fmt.Errorf("store: %v", err)
	}
	return nil
}

// lastRecord returns the last parseable record in the file at path.
func lastRecord(path string) (reading.Record, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return reading.Record{}, false, nil
		}
		return reading.Record{}, false, fmt.Errorf("store: %v", err)
	}
	defer f.Close()

	var (
		last  reading.Record
		found bool
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		rec, err := reading.ParseLine(sc.Text())
		if err != nil {
			// Torn final line after an ungraceful shutdown, or hand
			// edits. Skip.
			continue
		}
		last = rec
		found = true
	}
	if err := sc.Err(); err != nil {
		return reading.Record{}, false, fmt.Errorf("store: %v", err)
	}

	return last, found, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// A segment is one file to stream, with an optional read limit for the
// active file.
type segment struct {
	path  string
	limit int64
}

// Iterator streams records from a Range call. It is not safe for concurrent
// use by multiple goroutines.
type Iterator struct {
	files []segment
	from  time.Time
	to    time.Time

	idx  int
	f    *os.File
	sc   *bufio.Scanner
	err  error
	done bool
}

// Next returns the next record in the range. It returns false when the
// range is exhausted or an error occurred; check Err after the loop.
func (it *Iterator) Next() (reading.Record, bool) {
	if it.done || it.err != nil {
		return reading.Record{}, false
	}

	for {
		if it.sc == nil {
			if it.idx >= len(it.files) {
				it.done = true
				return reading.Record{}, false
			}
			seg := it.files[it.idx]
			it.idx++
			if !it.open(seg) {
				if it.err != nil {
					return reading.Record{}, false
				}
				// Segment vanished (purged between Range and Next);
				// the records it held were expired anyway.
				continue
			}
		}

		for it.sc.Scan() {
			rec, err := reading.ParseLine(it.sc.Text())
			if err != nil {
				// Possibly a torn trailing line; skip.
				continue
			}
			if !it.from.IsZero() && rec.Timestamp.Before(it.from) {
				continue
			}
			if !it.to.IsZero() && rec.Timestamp.After(it.to) {
				// Records are time-ordered, so nothing later in
				// this or any following segment can match.
				it.done = true
				it.closeFile()
				return reading.Record{}, false
			}
			return rec, true
		}

		if err := it.sc.Err(); err != nil {
			it.err = fmt.Errorf("store: range read: %v", err)
			it.closeFile()
			return reading.Record{}, false
		}
		it.closeFile()
	}
}

func (it *Iterator) open(seg segment) bool {
	f, err := os.Open(seg.path)
	if err != nil {
		if !os.IsNotExist(err) {
			it.err = fmt.Errorf("store: range read: %v", err)
		}
		return false
	}

	it.f = f
	var r io.Reader = f
	if seg.limit >= 0 {
		r = io.LimitReader(f, seg.limit)
	}
	it.sc = bufio.NewScanner(r)
	return true
}

func (it *Iterator) closeFile() {
	if it.f != nil {
		it.f.Close()
		it.f = nil
	}
	it.sc = nil
}

// Err returns the first error encountered during iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the iterator's resources. It is safe to call after the
// iterator is exhausted.
func (it *Iterator) Close() error {
	it.done = true
	it.closeFile()
	return nil
}
