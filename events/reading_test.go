package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevicePathIsLowercasedHierarchy(t *testing.T) {
	dev := &Device{Location: "Home", Room: "LargeBedroom", Name: "SHT31"}
	assert.Equal(t, "home/largebedroom/sht31", dev.Path())
}

func TestReadingsFromSameDeviceShareAPath(t *testing.T) {
	dev, ok := DeviceByPath("home/largebedroom/sht31")
	require.True(t, ok)

	a := Reading{Device: dev, Kind: Temperature}
	b := Reading{Device: dev, Kind: Humidity}
	assert.Equal(t, a.Device.Path(), b.Device.Path())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestTimeScaleUsesCoarsestUnit(t *testing.T) {
	dev := &Device{
		Location: "home", Room: "test", Name: "dev",
		MinSampleInterval:  5 * time.Second,
		MaxSampleInterval:  5 * time.Second,
		TemporalResolution: time.Second,
	}
	// one stored unit is 1 second
	assert.Equal(t, uint64(5), 5000/dev.TimeScale())

	dev.TemporalResolution = time.Millisecond
	assert.Equal(t, uint64(5005), 5005/dev.TimeScale())
}

func TestTimeScalePanicsOnZeroSampleInterval(t *testing.T) {
	dev := &Device{
		Location: "home", Room: "test", Name: "dev",
		TemporalResolution: 5 * time.Second,
	}
	assert.Panics(t, func() { dev.TimeScale() })
}

func TestParseReadingIDRoundTrip(t *testing.T) {
	dev, ok := DeviceByPath("home/kitchen/s8")
	require.True(t, ok)

	reading := Reading{Device: dev, Kind: Co2}
	parsed, err := ParseReadingID(reading.ID())
	require.NoError(t, err)
	assert.Equal(t, reading.Device, parsed.Device)
	assert.Equal(t, reading.Kind, parsed.Kind)
}

func TestParseReadingIDRejectsUnknown(t *testing.T) {
	_, err := ParseReadingID("home/kitchen/s8/temperature")
	assert.Error(t, err, "kitchen co2 sensor does not report temperature")

	_, err = ParseReadingID("home/nowhere/s8/co2")
	assert.Error(t, err)

	_, err = ParseReadingID("garbage")
	assert.Error(t, err)
}
