// Package export converts a device's byte-series to and from CSV, for
// backups and for inspecting the data with ordinary tooling.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/mboers/homestore/encoding"
	"github.com/mboers/homestore/events"
	"github.com/mboers/homestore/storage"
	"github.com/mboers/homestore/stores"
)

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

// Export writes a device's series as CSV: a header line "ts,<id>,..."
// followed by one line per record with the wall clock unix milliseconds and
// each reading rendered at its declared precision. When lenient is set,
// sections whose timestamps run backwards are skipped and counted instead
// of aborting the export.
func Export(dev *events.Device, dataDir string, w io.Writer, lenient bool) (skipped int, err error) {
	fields, payloadSize, header, err := stores.ResolveSchema(dev)
	if err != nil {
		return 0, err
	}
	codec := fieldsCodec{fields}

	s, err := storage.OpenOrCreate(stores.SeriesPath(dataDir, dev), payloadSize, header, codec, nil)
	if err != nil {
		return 0, fmt.Errorf("could not open series of %s: %w", dev.Path(), err)
	}
	defer s.Close()

	out := csv.NewWriter(w)
	row := make([]string, 1+len(dev.Readings))
	row[0] = "ts"
	for i, spec := range dev.Readings {
		row[i+1] = events.Reading{Device: dev, Kind: spec.Kind}.ID()
	}
	if err := out.Write(row); err != nil {
		return 0, err
	}

	log := zap.L().Sugar().With("service", "export", "device", dev.Path())
	var onCorrupt func(index int64) bool
	if lenient {
		onCorrupt = func(index int64) bool {
			log.Warnw("skipping corrupt record", "index", index)
			skipped++
			return true
		}
	}

	scale := dev.TimeScale()
	err = s.ScanAll(codec, onCorrupt, func(ts uint64, values []float32) error {
		row[0] = strconv.FormatUint(ts*scale, 10)
		for i, v := range values {
			row[i+1] = strconv.FormatFloat(float64(v), 'f', int(dev.Readings[i].Precision), 32)
		}
		return out.Write(row)
	})
	if err != nil {
		return skipped, err
	}

	out.Flush()
	return skipped, out.Error()
}

// Import reads CSV in the format Export writes and appends every line to the
// device's series, which should not hold newer data than the CSV. When
// lenient is set, lines that fail to parse or that would move time backwards
// are skipped and counted.
func Import(dev *events.Device, dataDir string, r io.Reader, lenient bool) (imported, skipped int, err error) {
	fields, payloadSize, header, err := stores.ResolveSchema(dev)
	if err != nil {
		return 0, 0, err
	}
	codec := fieldsCodec{fields}

	s, err := storage.OpenOrCreate(stores.SeriesPath(dataDir, dev), payloadSize, header, codec, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("could not open series of %s: %w", dev.Path(), err)
	}
	defer s.Close()

	in := csv.NewReader(r)
	in.FieldsPerRecord = 1 + len(dev.Readings)

	head, err := in.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("could not read csv header: %w", err)
	}
	if head[0] != "ts" {
		return 0, 0, fmt.Errorf("unexpected csv header, first column is %q not \"ts\"", head[0])
	}

	log := zap.L().Sugar().With("service", "import", "device", dev.Path())
	scale := dev.TimeScale()
	line := make([]byte, payloadSize)

	for {
		row, err := in.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if lenient {
				log.Warnw("skipping malformed csv line", "error", err)
				skipped++
				continue
			}
			return imported, skipped, err
		}

		ts, values, err := parseRow(row, len(fields))
		if err != nil {
			if lenient {
				log.Warnw("skipping malformed csv line", "error", err)
				skipped++
				continue
			}
			return imported, skipped, err
		}

		for i := range line {
			line[i] = 0
		}
		codec.EncodePayload(values, line)

		err = s.PushLine(ts/scale, line)
		var notAfter *storage.TimeNotAfterLastError
		if lenient && errors.As(err, &notAfter) {
			log.Warnw("skipping line that runs backwards in time",
				"new", notAfter.New, "previous", notAfter.Prev)
			skipped++
			continue
		}
		if err != nil {
			return imported, skipped, err
		}
		imported++
	}

	return imported, skipped, s.Flush()
}

func parseRow(row []string, numFields int) (uint64, []float32, error) {
	ts, err := strconv.ParseUint(row[0], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("bad timestamp %q: %w", row[0], err)
	}

	values := make([]float32, numFields)
	for i := 0; i < numFields; i++ {
		v, err := strconv.ParseFloat(row[i+1], 32)
		if err != nil {
			return 0, nil, fmt.Errorf("bad value %q: %w", row[i+1], err)
		}
		values[i] = float32(v)
	}
	return ts, values, nil
}
