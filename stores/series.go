package stores

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mboers/homestore/encoding"
	"github.com/mboers/homestore/events"
	"github.com/mboers/homestore/storage"
)

// fieldsCodec decodes/encodes a payload line through a list of fields. A
// read over a subset of a device's readings uses a codec over just those
// fields; the series itself keeps one over all of them for the downsample
// cache.
type fieldsCodec struct {
	fields []encoding.Field
}

func (c fieldsCodec) DecodePayload(payload []byte) []float32 {
	out := make([]float32, len(c.fields))
	for i, f := range c.fields {
		out[i] = f.Decode(payload)
	}
	return out
}

func (c fieldsCodec) EncodePayload(values []float32, line []byte) {
	for i, f := range c.fields {
		f.Encode(values[i], line)
	}
}

type meta struct {
	spec  events.ReadingSpec
	field encoding.Field
	setAt time.Time // zero while the field has no pending value
}

// series owns one device's payload line and its backing byte-series file.
type series struct {
	dev        *events.Device
	line       []byte
	metas      []meta
	lastPushed uint64
	havePushed bool
	bs         *storage.Series

	log *zap.SugaredLogger
}

type seriesHeader struct {
	Readings []string         `json:"readings"`
	Encoding []encoding.Field `json:"encoding"`
}

// ResolveSchema computes a device's field layout, payload size and the
// header bytes stored in its series file. Identical device definitions
// always produce identical headers, which is what the open-time header
// comparison relies on.
func ResolveSchema(dev *events.Device) (fields []encoding.Field, payloadSize int, header []byte, err error) {
	specs := make([]encoding.Spec, len(dev.Readings))
	ids := make([]string, len(dev.Readings))
	for i, r := range dev.Readings {
		specs[i] = encoding.Spec{Min: r.Min, Max: r.Max, Resolution: r.Resolution}
		ids[i] = events.Reading{Device: dev, Kind: r.Kind}.ID()
	}

	fields = encoding.ResolveFields(specs)
	payloadSize = encoding.PayloadSize(fields)

	header, err = json.Marshal(seriesHeader{Readings: ids, Encoding: fields})
	if err != nil {
		return nil, 0, nil, fmt.Errorf("could not serialize series header: %w", err)
	}
	return fields, payloadSize, header, nil
}

// SeriesPath is where a device's byte-series lives below the data dir.
func SeriesPath(dataDir string, dev *events.Device) string {
	return filepath.Join(dataDir, filepath.FromSlash(dev.Path())) + ".series"
}

func openSeries(dev *events.Device, dataDir string, downsample []storage.DownsampleConfig) (*series, error) {
	fields, payloadSize, header, err := ResolveSchema(dev)
	if err != nil {
		return nil, err
	}

	path := SeriesPath(dataDir, dev)
	bs, err := storage.OpenOrCreate(path, payloadSize, header, fieldsCodec{fields}, downsample)
	if err != nil {
		return nil, fmt.Errorf("could not open series for device %s: %w", dev.Path(), err)
	}

	metas := make([]meta, len(dev.Readings))
	for i, spec := range dev.Readings {
		metas[i] = meta{spec: spec, field: fields[i]}
	}

	return &series{
		dev:   dev,
		line:  make([]byte, payloadSize),
		metas: metas,
		bs:    bs,
		log:   zap.L().Sugar().With("service", "series", "device", dev.Path()),
	}, nil
}

// append encodes one reading into the shared line. Once every reading of the
// device was set within its max sample interval the full line is appended as
// a single record and the line is reset.
func (s *series) append(r events.Reading, now time.Time) error {
	idx := -1
	for i := range s.metas {
		if s.metas[i].spec.Kind == r.Kind {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s on device %s", ErrUnknownReading, r.Kind, s.dev.Path())
	}

	spec := s.metas[idx].spec
	if r.Value < spec.Min || r.Value > spec.Max {
		return fmt.Errorf("value %v of %s is outside the declared range [%v, %v]",
			r.Value, r.ID(), spec.Min, spec.Max)
	}

	s.metas[idx].field.Encode(r.Value, s.line)
	s.metas[idx].setAt = now

	for _, m := range s.metas {
		if m.setAt.IsZero() || now.Sub(m.setAt) >= s.dev.MaxSampleInterval {
			return nil // tuple not complete yet
		}
	}

	scale := s.dev.TimeScale()
	ts := uint64(now.UnixMilli()) / scale
	if s.havePushed && ts == s.lastPushed {
		s.log.Debugw("skipping datapoint with same scaled timestamp", "timestamp", ts)
		return nil
	}
	s.lastPushed = ts
	s.havePushed = true

	if err := s.bs.PushLine(ts, s.line); err != nil {
		return fmt.Errorf("could not append record for device %s: %w", s.dev.Path(), err)
	}

	for i := range s.line {
		s.line[i] = 0
	}
	for i := range s.metas {
		s.metas[i].setAt = time.Time{}
	}
	return nil
}

// read fetches up to n records over the requested readings, which must all
// belong to this series' device. Results come back as one column per
// requested reading, in wall clock time.
func (s *series) read(readings []events.Reading, start, end time.Time, n int) ([]time.Time, [][]float32, error) {
	fields := make([]encoding.Field, len(readings))
	for i, r := range readings {
		found := false
		for _, m := range s.metas {
			if m.spec.Kind == r.Kind {
				fields[i] = m.field
				found = true
				break
			}
		}
		if !found {
			return nil, nil, fmt.Errorf("%w: %s on device %s", ErrUnknownReading, r.Kind, s.dev.Path())
		}
	}

	scale := s.dev.TimeScale()
	startTs := uint64(max(start.UnixMilli(), 0)) / scale
	endTs := uint64(max(end.UnixMilli(), 0)) / scale

	timestamps, rows, err := s.bs.ReadN(n, startTs, endTs, fieldsCodec{fields})
	if err != nil {
		return nil, nil, err
	}

	times := make([]time.Time, len(timestamps))
	for i, ts := range timestamps {
		times[i] = time.UnixMilli(int64(ts * scale))
	}

	columns := make([][]float32, len(readings))
	for i := range columns {
		columns[i] = make([]float32, len(rows))
	}
	for rowIdx, row := range rows {
		for colIdx := range columns {
			columns[colIdx][rowIdx] = row[colIdx]
		}
	}
	return times, columns, nil
}

func (s *series) flush() error {
	return s.bs.Flush()
}

func (s *series) close() error {
	return s.bs.Close()
}
