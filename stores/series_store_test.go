package stores

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mboers/homestore/events"
	"github.com/mboers/homestore/storage"
)

func sht31(t *testing.T) *events.Device {
	t.Helper()
	dev, ok := events.DeviceByPath("home/largebedroom/sht31")
	require.True(t, ok)
	return dev
}

// base is divisible by the sht31 time scale (5s) so scaled buckets in the
// tests are easy to reason about.
var base = time.UnixMilli(1_700_000_000_000)

func TestSeriesAppendsOnceTupleIsComplete(t *testing.T) {
	dev := sht31(t)
	s, err := openSeries(dev, t.TempDir(), nil)
	require.NoError(t, err)
	defer s.close()

	// only one of two readings set: nothing may be appended yet
	require.NoError(t, s.append(events.Reading{Device: dev, Kind: events.Humidity, Value: 45.0}, base))
	assert.Equal(t, int64(0), s.bs.NumRecords())

	require.NoError(t, s.append(events.Reading{Device: dev, Kind: events.Temperature, Value: 20.5}, base.Add(time.Second)))
	assert.Equal(t, int64(1), s.bs.NumRecords())

	times, columns, err := s.read(
		[]events.Reading{
			{Device: dev, Kind: events.Humidity},
			{Device: dev, Kind: events.Temperature},
		},
		base.Add(-time.Hour), base.Add(time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, times, 1)
	assert.InDelta(t, 45.0, columns[0][0], 0.05)
	assert.InDelta(t, 20.5, columns[1][0], 0.005)
	// the stored timestamp is quantized to the device's time scale
	assert.Zero(t, times[0].UnixMilli()%int64(dev.TimeScale()))
}

func TestSeriesSkipsDuplicateScaledTimestamp(t *testing.T) {
	dev := sht31(t)
	s, err := openSeries(dev, t.TempDir(), nil)
	require.NoError(t, err)
	defer s.close()

	require.NoError(t, s.append(events.Reading{Device: dev, Kind: events.Humidity, Value: 45}, base))
	require.NoError(t, s.append(events.Reading{Device: dev, Kind: events.Temperature, Value: 20}, base.Add(time.Second)))
	require.Equal(t, int64(1), s.bs.NumRecords())

	// a second complete tuple within the same scaled time unit is dropped
	require.NoError(t, s.append(events.Reading{Device: dev, Kind: events.Humidity, Value: 46}, base.Add(2*time.Second)))
	require.NoError(t, s.append(events.Reading{Device: dev, Kind: events.Temperature, Value: 21}, base.Add(3*time.Second)))
	assert.Equal(t, int64(1), s.bs.NumRecords())

	// the next unit accepts again
	require.NoError(t, s.append(events.Reading{Device: dev, Kind: events.Humidity, Value: 46}, base.Add(5*time.Second)))
	require.NoError(t, s.append(events.Reading{Device: dev, Kind: events.Temperature, Value: 21}, base.Add(6*time.Second)))
	assert.Equal(t, int64(2), s.bs.NumRecords())
}

func TestSeriesIgnoresStaleValues(t *testing.T) {
	dev := sht31(t)
	s, err := openSeries(dev, t.TempDir(), nil)
	require.NoError(t, err)
	defer s.close()

	require.NoError(t, s.append(events.Reading{Device: dev, Kind: events.Humidity, Value: 45}, base))
	// the humidity value is older than the max sample interval by the time
	// temperature arrives, so the tuple never completes
	late := base.Add(dev.MaxSampleInterval + time.Second)
	require.NoError(t, s.append(events.Reading{Device: dev, Kind: events.Temperature, Value: 20}, late))
	assert.Equal(t, int64(0), s.bs.NumRecords())
}

func TestSeriesRejectsValueOutsideDeclaredRange(t *testing.T) {
	dev := sht31(t)
	s, err := openSeries(dev, t.TempDir(), nil)
	require.NoError(t, err)
	defer s.close()

	err = s.append(events.Reading{Device: dev, Kind: events.Humidity, Value: 150}, base)
	assert.Error(t, err)
	assert.Equal(t, int64(0), s.bs.NumRecords())
}

func TestSeriesRejectsUnknownReading(t *testing.T) {
	dev := sht31(t)
	s, err := openSeries(dev, t.TempDir(), nil)
	require.NoError(t, err)
	defer s.close()

	err = s.append(events.Reading{Device: dev, Kind: events.Pressure, Value: 100000}, base)
	assert.ErrorIs(t, err, ErrUnknownReading)
}

func TestStoreEndToEnd(t *testing.T) {
	dev := sht31(t)
	ss := NewSeriesStore(SeriesStoreConfig{DataDir: t.TempDir()})
	defer ss.Close()

	require.NoError(t, ss.Store(events.Reading{Device: dev, Kind: events.Humidity, Value: 45.0}))
	require.NoError(t, ss.Store(events.Reading{Device: dev, Kind: events.Temperature, Value: 20.5}))

	readings := []events.Reading{
		{Device: dev, Kind: events.Temperature},
		{Device: dev, Kind: events.Humidity},
	}
	times, columns, err := ss.Read(readings, time.UnixMilli(0), time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, times, 1)
	assert.InDelta(t, 20.5, columns[0][0], 0.005)
	assert.InDelta(t, 45.0, columns[1][0], 0.05)

	ids := ss.List()
	assert.Contains(t, ids, "home/largebedroom/sht31/temperature")
	assert.Contains(t, ids, "home/largebedroom/sht31/humidity")
}

func TestCachedReadIsNotPoisonedByCallerMutation(t *testing.T) {
	dev := sht31(t)
	ss := NewSeriesStore(SeriesStoreConfig{DataDir: t.TempDir()})
	defer ss.Close()

	require.NoError(t, ss.Store(events.Reading{Device: dev, Kind: events.Humidity, Value: 45.0}))
	require.NoError(t, ss.Store(events.Reading{Device: dev, Kind: events.Temperature, Value: 20.5}))

	readings := []events.Reading{{Device: dev, Kind: events.Temperature}}
	start, end := time.UnixMilli(0), time.Now().Add(time.Hour)

	_, columns, err := ss.Read(readings, start, end, 10)
	require.NoError(t, err)
	require.Len(t, columns[0], 1)
	columns[0][0] = 999

	// the identical query is served from the cache and must be unaffected
	_, columns, err = ss.Read(readings, start, end, 10)
	require.NoError(t, err)
	assert.InDelta(t, 20.5, columns[0][0], 0.005)
}

func TestReadFarInTheFutureIsARangeMiss(t *testing.T) {
	dev := sht31(t)
	ss := NewSeriesStore(SeriesStoreConfig{DataDir: t.TempDir()})
	defer ss.Close()

	require.NoError(t, ss.Store(events.Reading{Device: dev, Kind: events.Humidity, Value: 45}))
	require.NoError(t, ss.Store(events.Reading{Device: dev, Kind: events.Temperature, Value: 20}))

	far := time.Now().Add(24 * time.Hour)
	_, _, err := ss.Read([]events.Reading{{Device: dev, Kind: events.Humidity}},
		far, far.Add(time.Hour), 10)
	assert.True(t, storage.IsRangeMiss(err))
}

func TestReadUnknownDeviceIsNotInStore(t *testing.T) {
	dev := sht31(t)
	ss := NewSeriesStore(SeriesStoreConfig{DataDir: t.TempDir()})
	defer ss.Close()

	_, _, err := ss.Read([]events.Reading{{Device: dev, Kind: events.Humidity}},
		time.UnixMilli(0), time.Now(), 10)
	assert.ErrorIs(t, err, ErrNotInStore)
}

func TestReadRejectsMixedDevices(t *testing.T) {
	dev := sht31(t)
	other, ok := events.DeviceByPath("home/kitchen/s8")
	require.True(t, ok)

	ss := NewSeriesStore(SeriesStoreConfig{DataDir: t.TempDir()})
	defer ss.Close()

	_, _, err := ss.Read([]events.Reading{
		{Device: dev, Kind: events.Humidity},
		{Device: other, Kind: events.Co2},
	}, time.UnixMilli(0), time.Now(), 10)
	assert.Error(t, err)
}

func TestSeriesSurvivesReopen(t *testing.T) {
	dev := sht31(t)
	dir := t.TempDir()

	s, err := openSeries(dev, dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.append(events.Reading{Device: dev, Kind: events.Humidity, Value: 45}, base))
	require.NoError(t, s.append(events.Reading{Device: dev, Kind: events.Temperature, Value: 20}, base.Add(time.Second)))
	require.NoError(t, s.close())

	s, err = openSeries(dev, dir, nil)
	require.NoError(t, err)
	defer s.close()
	assert.Equal(t, int64(1), s.bs.NumRecords())
}
