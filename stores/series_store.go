package stores

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/mboers/homestore/events"
	"github.com/mboers/homestore/storage"
)

var (
	// ErrNotInStore is returned when a read names a device no series has
	// been created for yet. Callers treat it as an empty result.
	ErrNotInStore = errors.New("no series stored for this reading")
	// ErrUnknownReading is returned when a reading kind is not part of
	// its device's declared readings.
	ErrUnknownReading = errors.New("reading is not part of the device's series")
)

// SeriesStoreConfig configures the registry. Zero values fall back to
// defaults: downsample levels 10/100/1000 and a small short-lived query
// cache.
type SeriesStoreConfig struct {
	DataDir    string
	Downsample []storage.DownsampleConfig
	Cache      storage.QueryCacheConfig
}

// SeriesStore maps device identity to its open byte-series, creating series
// lazily on the first reading of a device. One lock guards
// find-or-create-then-append: appends across all devices are serialized
// through it, which is fine at sensor sampling rates since the bottleneck
// is the disk write, not contention.
type SeriesStore struct {
	mu       sync.Mutex
	byDevice map[uint64]*series

	dataDir    string
	downsample []storage.DownsampleConfig
	cache      *storage.QueryCache

	log *zap.SugaredLogger
}

func NewSeriesStore(config SeriesStoreConfig) *SeriesStore {
	if len(config.Downsample) == 0 {
		config.Downsample = []storage.DownsampleConfig{
			{BucketSize: 10}, {BucketSize: 100}, {BucketSize: 1000},
		}
	}
	if config.Cache.TTL <= 0 {
		config.Cache.TTL = 10 * time.Second
	}
	if config.Cache.MaxItems == 0 {
		config.Cache.MaxItems = 1024
	}

	return &SeriesStore{
		byDevice:   make(map[uint64]*series),
		dataDir:    config.DataDir,
		downsample: config.Downsample,
		cache:      storage.NewQueryCache(config.Cache),
		log:        zap.L().Sugar().With("service", "series-store"),
	}
}

func deviceKey(dev *events.Device) uint64 {
	return xxhash.Sum64String(dev.Path())
}

// Store encodes the reading into its device's payload line, creating and
// opening the device's series first if this is the first reading for it. A
// failure to open a series (header mismatch, I/O) is returned as is; the
// owning subsystem should treat that as fatal for this store.
func (ss *SeriesStore) Store(reading events.Reading) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	key := deviceKey(reading.Device)
	s, ok := ss.byDevice[key]
	if !ok {
		var err error
		s, err = openSeries(reading.Device, ss.dataDir, ss.downsample)
		if err != nil {
			return fmt.Errorf("could not open new series: %w", err)
		}
		ss.byDevice[key] = s
	}

	if err := s.append(reading, time.Now()); err != nil {
		return fmt.Errorf("failed to append to series %s: %w", reading.Device.Path(), err)
	}
	return nil
}

// Read returns up to n points for the requested readings, all of which must
// belong to the same device, as one timestamp slice plus one value column
// per reading. Range misses surface as the named storage errors
// (storage.IsRangeMiss) or ErrNotInStore; callers map those to an empty
// result.
func (ss *SeriesStore) Read(readings []events.Reading, start, end time.Time, n int) ([]time.Time, [][]float32, error) {
	if len(readings) == 0 {
		return nil, nil, errors.New("at least one reading must be requested")
	}
	dev := readings[0].Device
	for _, r := range readings[1:] {
		if r.Device != dev {
			return nil, nil, fmt.Errorf("readings %s and %s belong to different devices",
				readings[0].ID(), r.ID())
		}
	}

	ss.mu.Lock()
	s, ok := ss.byDevice[deviceKey(dev)]
	ss.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotInStore, readings[0].ID())
	}

	if times, columns, ok := ss.cachedRead(readings, start, end, n); ok {
		return times, columns, nil
	}

	times, columns, err := s.read(readings, start, end, n)
	if err != nil {
		return nil, nil, err
	}

	ss.cacheRead(readings, start, end, n, times, columns)
	return times, columns, nil
}

// List returns the reading identifiers of every open series.
func (ss *SeriesStore) List() []string {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	var ids []string
	for _, s := range ss.byDevice {
		for _, spec := range s.dev.Readings {
			ids = append(ids, events.Reading{Device: s.dev, Kind: spec.Kind}.ID())
		}
	}
	return ids
}

// Flush makes all series durable.
func (ss *SeriesStore) Flush() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	for _, s := range ss.byDevice {
		if err := s.flush(); err != nil {
			return err
		}
	}
	return nil
}

func (ss *SeriesStore) Close() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ss.cache.Stop()
	for _, s := range ss.byDevice {
		if err := s.close(); err != nil {
			ss.log.Errorw("could not close series", "device", s.dev.Path(), "error", err)
		}
	}
	ss.byDevice = make(map[uint64]*series)
}

func queryKey(readings []events.Reading, start, end time.Time, n int) string {
	var b strings.Builder
	for _, r := range readings {
		b.WriteString(r.ID())
		b.WriteByte(',')
	}
	fmt.Fprintf(&b, "%d|%d|%d", start.UnixMilli(), end.UnixMilli(), n)
	return b.String()
}

func (ss *SeriesStore) cachedRead(readings []events.Reading, start, end time.Time, n int) ([]time.Time, [][]float32, bool) {
	result, ok := ss.cache.Get(queryKey(readings, start, end, n))
	if !ok {
		return nil, nil, false
	}

	times := make([]time.Time, len(result.Times))
	for i, ms := range result.Times {
		times[i] = time.UnixMilli(int64(ms))
	}
	// hand out copies, a caller mutating a column must not poison later hits
	columns := make([][]float32, len(result.Values))
	for i, column := range result.Values {
		columns[i] = append([]float32(nil), column...)
	}
	return times, columns, true
}

func (ss *SeriesStore) cacheRead(readings []events.Reading, start, end time.Time, n int, times []time.Time, columns [][]float32) {
	millis := make([]uint64, len(times))
	for i, t := range times {
		millis[i] = uint64(t.UnixMilli())
	}
	// the caller keeps the slices it was returned, so the cache gets its own
	values := make([][]float32, len(columns))
	for i, column := range columns {
		values[i] = append([]float32(nil), column...)
	}
	ss.cache.Set(queryKey(readings, start, end, n), storage.QueryResult{
		Times:  millis,
		Values: values,
	})
}
