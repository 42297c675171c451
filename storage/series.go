package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// File layout:
//
//	magic line
//	4 byte big-endian header length
//	header bytes (human readable schema text, written exactly once)
//	fixed size records: 8 byte big-endian timestamp + payload
//
// Records are append only. The header is never rewritten, records are never
// edited in place. A crash may lose an unsynced tail, never earlier records.
const magic = "HOMESERIES1\n"

const tsSize = 8

var appendedRecords = prometheus.NewCounter(prometheus.CounterOpts{
	Subsystem: "homestore_storage",
	Name:      "appended_records",
	Help:      "Total number of records appended across all series.",
})

func init() {
	prometheus.MustRegister(appendedRecords)
}

// Decoder turns a raw payload line into one value per field.
type Decoder interface {
	DecodePayload(payload []byte) []float32
}

// Resampler can additionally encode values back into a payload line. The
// downsample cache needs this to store bucket aggregates in the same format
// as raw records.
type Resampler interface {
	Decoder
	EncodePayload(values []float32, line []byte)
}

// DownsampleConfig configures one downsample cache level. BucketSize raw
// records are averaged into one cached record, so a read served from this
// level reports per-field means over BucketSize consecutive samples; that
// averaging window is the maximum approximation error introduced.
type DownsampleConfig struct {
	BucketSize int `yaml:"bucket-size"`
}

// Series is a single file append-only log of fixed size timestamped
// records. It assumes one exclusive writer; concurrent readers are fine
// since the record count is only advertised after a record is fully
// written.
type Series struct {
	mu          sync.Mutex
	file        *os.File
	path        string
	payloadSize int
	recordSize  int
	dataStart   int64
	numRecords  int64
	lastTs      uint64
	haveLast    bool

	resampler Resampler
	levels    []*downsampleLevel

	log *zap.SugaredLogger
}

// OpenOrCreate opens the series at path, creating it (and any missing parent
// directories) when absent. For an existing file the stored header must
// equal expectedHeader exactly or a HeaderMismatchError is returned.
//
// A resampler plus configs enable the downsample cache; both may be nil.
func OpenOrCreate(path string, payloadSize int, expectedHeader []byte, resampler Resampler, configs []DownsampleConfig) (*Series, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create series directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not open series file: %w", err)
	}

	s := &Series{
		file:        file,
		path:        path,
		payloadSize: payloadSize,
		recordSize:  tsSize + payloadSize,
		resampler:   resampler,
		log:         zap.L().Sugar().With("service", "byte-series", "path", path),
	}

	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, err
	}

	if size == 0 {
		if err := s.writePreamble(expectedHeader); err != nil {
			file.Close()
			return nil, err
		}
	} else if err := s.validatePreamble(expectedHeader, size); err != nil {
		file.Close()
		return nil, err
	}

	if resampler != nil {
		if err := s.openLevels(expectedHeader, configs); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Series) writePreamble(header []byte) error {
	buf := make([]byte, 0, len(magic)+4+len(header))
	buf = append(buf, magic...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(header)))
	buf = append(buf, header...)

	if _, err := s.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("could not write series header: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("could not sync series header: %w", err)
	}

	s.dataStart = int64(len(buf))
	return nil
}

func (s *Series) validatePreamble(expected []byte, size int64) error {
	prefix := make([]byte, len(magic)+4)
	if _, err := s.file.ReadAt(prefix, 0); err != nil {
		return fmt.Errorf("could not read series preamble: %w", err)
	}
	if string(prefix[:len(magic)]) != magic {
		return fmt.Errorf("%w: %s is not a series file", ErrCorruptRecord, s.path)
	}

	headerLen := binary.BigEndian.Uint32(prefix[len(magic):])
	if int64(headerLen) > size-int64(len(prefix)) {
		// a corrupt length field must not drive the allocation below
		return fmt.Errorf("%w: header length %d exceeds file size of %s",
			ErrCorruptRecord, headerLen, s.path)
	}
	stored := make([]byte, headerLen)
	if _, err := s.file.ReadAt(stored, int64(len(prefix))); err != nil {
		return fmt.Errorf("could not read series header: %w", err)
	}
	if !bytes.Equal(stored, expected) {
		return &HeaderMismatchError{Path: s.path, Stored: stored, Expected: expected}
	}

	s.dataStart = int64(len(prefix)) + int64(headerLen)

	dataLen := size - s.dataStart
	if tail := dataLen % int64(s.recordSize); tail != 0 {
		// a crash mid-append left a partial record, drop it
		s.log.Warnw("dropping partial record at end of series", "bytes", tail)
		if err := s.file.Truncate(size - tail); err != nil {
			return fmt.Errorf("could not drop partial trailing record: %w", err)
		}
		dataLen -= tail
	}

	s.numRecords = dataLen / int64(s.recordSize)
	if s.numRecords > 0 {
		last, err := s.timestampAt(s.numRecords - 1)
		if err != nil {
			return err
		}
		s.lastTs = last
		s.haveLast = true
	}
	return nil
}

// PushLine appends one record. The timestamp must be strictly after the
// previously appended one; violations surface as TimeNotAfterLastError and
// are never silently reordered.
func (s *Series) PushLine(ts uint64, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(payload) != s.payloadSize {
		return fmt.Errorf("%w: got %d, want %d", ErrWrongPayloadSize, len(payload), s.payloadSize)
	}
	if s.haveLast && ts <= s.lastTs {
		return &TimeNotAfterLastError{New: ts, Prev: s.lastTs}
	}

	record := make([]byte, s.recordSize)
	binary.BigEndian.PutUint64(record[:tsSize], ts)
	copy(record[tsSize:], payload)

	offset := s.dataStart + s.numRecords*int64(s.recordSize)
	if _, err := s.file.WriteAt(record, offset); err != nil {
		return fmt.Errorf("could not append record: %w", err)
	}

	// the record only becomes visible to readers once fully written
	s.numRecords++
	s.lastTs = ts
	s.haveLast = true
	appendedRecords.Inc()

	if s.resampler != nil {
		values := s.resampler.DecodePayload(payload)
		for _, level := range s.levels {
			if err := level.add(ts, values, s.resampler); err != nil {
				return fmt.Errorf("could not update downsample cache: %w", err)
			}
		}
	}
	return nil
}

// Flush makes all appended records durable.
func (s *Series) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.file.Sync(); err != nil {
		return err
	}
	for _, level := range s.levels {
		if err := level.series.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Series) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, level := range s.levels {
		level.series.Close()
	}
	return s.file.Close()
}

// PayloadSize returns the fixed payload length of this series.
func (s *Series) PayloadSize() int {
	return s.payloadSize
}

// NumRecords returns the number of fully written records.
func (s *Series) NumRecords() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numRecords
}

func (s *Series) timestampAt(i int64) (uint64, error) {
	var buf [tsSize]byte
	_, err := s.file.ReadAt(buf[:], s.dataStart+i*int64(s.recordSize))
	if err != nil {
		return 0, fmt.Errorf("could not read timestamp of record %d: %w", i, err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func (s *Series) recordAt(i int64) (uint64, []byte, error) {
	buf := make([]byte, s.recordSize)
	_, err := s.file.ReadAt(buf, s.dataStart+i*int64(s.recordSize))
	if err != nil {
		return 0, nil, fmt.Errorf("could not read record %d: %w", i, err)
	}
	return binary.BigEndian.Uint64(buf[:tsSize]), buf[tsSize:], nil
}

// seekRange finds the indexes of the first record >= start and the last
// record <= end using binary search over the sorted timestamps.
func (s *Series) seekRange(start, end uint64) (first, last int64, err error) {
	s.mu.Lock()
	numRecords := s.numRecords
	lastTs := s.lastTs
	s.mu.Unlock()

	if numRecords == 0 {
		return 0, 0, ErrEmptyFile
	}
	if start > lastTs {
		return 0, 0, ErrStartAfterData
	}
	firstTs, err := s.timestampAt(0)
	if err != nil {
		return 0, 0, err
	}
	if end < firstTs {
		return 0, 0, ErrStopBeforeData
	}

	first, err = s.searchFirst(numRecords, start)
	if err != nil {
		return 0, 0, err
	}
	last, err = s.searchLast(numRecords, end)
	if err != nil {
		return 0, 0, err
	}
	if first > last {
		// range falls in a gap between two records
		return 0, 0, ErrStopBeforeData
	}
	return first, last, nil
}

func (s *Series) searchFirst(numRecords int64, start uint64) (int64, error) {
	lo, hi := int64(0), numRecords // invariant: ts[lo-1] < start <= ts[hi]
	for lo < hi {
		mid := (lo + hi) / 2
		ts, err := s.timestampAt(mid)
		if err != nil {
			return 0, err
		}
		if ts < start {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

func (s *Series) searchLast(numRecords int64, end uint64) (int64, error) {
	lo, hi := int64(-1), numRecords-1 // invariant: ts[lo] <= end < ts[hi+1]
	for lo < hi {
		mid := (lo + hi + 1) / 2
		ts, err := s.timestampAt(mid)
		if err != nil {
			return 0, err
		}
		if ts <= end {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

// ReadN reads up to n records with timestamps in [start, end], decoded with
// dec. When the range holds more raw records than n the read is served from
// the coarsest downsample level that still yields at least n points; if even
// raw resolution exceeds n the records are strided down to at most n evenly
// spaced points. Returned timestamps are strictly increasing and no
// requested sub-range is skipped.
//
// A series without records returns ErrEmptyFile, a range past the data
// returns ErrStartAfterData or ErrStopBeforeData. Callers treat these as an
// empty result, not as a failure.
func (s *Series) ReadN(n int, start, end uint64, dec Decoder) ([]uint64, [][]float32, error) {
	if n <= 0 {
		return nil, nil, nil
	}

	first, last, err := s.seekRange(start, end)
	if err != nil {
		return nil, nil, err
	}
	count := last - first + 1

	src := s
	if count > int64(n) {
		// prefer the coarsest level that still yields n points
		for i := len(s.levels) - 1; i >= 0; i-- {
			lvl := s.levels[i].series
			lvlFirst, lvlLast, err := lvl.seekRange(start, end)
			if err != nil {
				if IsRangeMiss(err) {
					continue
				}
				return nil, nil, err
			}
			if lvlLast-lvlFirst+1 >= int64(n) {
				src, first, last, count = lvl, lvlFirst, lvlLast, lvlLast-lvlFirst+1
				break
			}
		}
	}

	stride := int64(1)
	if count > int64(n) {
		stride = (count + int64(n) - 1) / int64(n)
	}

	timestamps := make([]uint64, 0, n)
	values := make([][]float32, 0, n)
	for i := first; i <= last; i += stride {
		ts, payload, err := src.recordAt(i)
		if err != nil {
			return nil, nil, err
		}
		timestamps = append(timestamps, ts)
		values = append(values, dec.DecodePayload(payload))
	}
	return timestamps, values, nil
}

// IsRangeMiss reports whether err is one of the named "requested range holds
// no data" states. Callers map these to an empty result instead of an error.
func IsRangeMiss(err error) bool {
	return errors.Is(err, ErrEmptyFile) ||
		errors.Is(err, ErrStartAfterData) ||
		errors.Is(err, ErrStopBeforeData)
}

// ScanAll walks every raw record in order, calling fn per record. A record
// whose timestamp is not after its predecessor marks a corrupt section;
// onCorrupt is called with the record index and decides whether the section
// is skipped (resyncing at the next record whose timestamp increases again)
// or the scan aborts with ErrCorruptRecord. Export tooling uses this to
// count and skip damaged sections.
func (s *Series) ScanAll(dec Decoder, onCorrupt func(index int64) bool, fn func(ts uint64, values []float32) error) error {
	s.mu.Lock()
	numRecords := s.numRecords
	s.mu.Unlock()

	var lastGood uint64
	haveGood := false
	for i := int64(0); i < numRecords; i++ {
		ts, payload, err := s.recordAt(i)
		if err != nil {
			return err
		}
		if haveGood && ts <= lastGood {
			if onCorrupt == nil || !onCorrupt(i) {
				return fmt.Errorf("%w: record %d of %s", ErrCorruptRecord, i, s.path)
			}
			continue
		}
		lastGood = ts
		haveGood = true
		if err := fn(ts, dec.DecodePayload(payload)); err != nil {
			return err
		}
	}
	return nil
}
