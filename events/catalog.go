package events

import (
	"fmt"
	"strings"
	"time"
)

// The device catalog. Series schemas are derived from these definitions, so
// changing a device's readings, ranges or resolutions makes its stored
// header mismatch and requires a new series file.
var Devices = []*Device{
	{
		Location:           "home",
		Room:               "largebedroom",
		Name:               "sht31",
		MinSampleInterval:  5 * time.Second,
		MaxSampleInterval:  10 * time.Second,
		TemporalResolution: 5 * time.Second,
		Readings: []ReadingSpec{
			{Kind: Temperature, Min: -20, Max: 60, Resolution: 0.01, Precision: 2},
			{Kind: Humidity, Min: 0, Max: 100, Resolution: 0.1, Precision: 1},
		},
	},
	{
		Location:           "home",
		Room:               "largebedroom",
		Name:               "bme680",
		MinSampleInterval:  5 * time.Second,
		MaxSampleInterval:  10 * time.Second,
		TemporalResolution: 5 * time.Second,
		Readings: []ReadingSpec{
			{Kind: Temperature, Min: -20, Max: 60, Resolution: 0.01, Precision: 2},
			{Kind: Humidity, Min: 0, Max: 100, Resolution: 0.1, Precision: 1},
			{Kind: Pressure, Min: 30000, Max: 120000, Resolution: 1, Precision: 0},
		},
	},
	{
		Location:           "home",
		Room:               "smallbedroom",
		Name:               "sht31",
		MinSampleInterval:  5 * time.Second,
		MaxSampleInterval:  10 * time.Second,
		TemporalResolution: 5 * time.Second,
		Readings: []ReadingSpec{
			{Kind: Temperature, Min: -20, Max: 60, Resolution: 0.01, Precision: 2},
			{Kind: Humidity, Min: 0, Max: 100, Resolution: 0.1, Precision: 1},
		},
	},
	{
		Location:           "home",
		Room:               "kitchen",
		Name:               "s8",
		MinSampleInterval:  30 * time.Second,
		MaxSampleInterval:  time.Minute,
		TemporalResolution: 30 * time.Second,
		Readings: []ReadingSpec{
			{Kind: Co2, Min: 0, Max: 10000, Resolution: 1, Precision: 0},
		},
	},
	{
		Location:           "home",
		Room:               "hallway",
		Name:               "max44009",
		MinSampleInterval:  time.Second,
		MaxSampleInterval:  5 * time.Second,
		TemporalResolution: time.Second,
		Readings: []ReadingSpec{
			{Kind: Luminosity, Min: 0, Max: 188000, Resolution: 0.05, Precision: 2},
		},
	},
}

// DeviceByPath looks a device up by its lowercased location/room/name path.
func DeviceByPath(p string) (*Device, bool) {
	for _, dev := range Devices {
		if dev.Path() == p {
			return dev, true
		}
	}
	return nil, false
}

// ParseReadingID resolves a reading identifier like
// "home/largebedroom/sht31/temperature" against the catalog. The returned
// reading has no value, it only names a series column.
func ParseReadingID(id string) (Reading, error) {
	idx := strings.LastIndex(id, "/")
	if idx < 0 {
		return Reading{}, fmt.Errorf("reading id %q has no kind suffix", id)
	}

	kind, err := ParseKind(id[idx+1:])
	if err != nil {
		return Reading{}, fmt.Errorf("bad reading id %q: %w", id, err)
	}

	dev, ok := DeviceByPath(id[:idx])
	if !ok {
		return Reading{}, fmt.Errorf("reading id %q names an unknown device", id)
	}
	if _, ok := dev.SpecOf(kind); !ok {
		return Reading{}, fmt.Errorf("device %s does not report %s", dev.Path(), kind)
	}

	return Reading{Device: dev, Kind: kind}, nil
}
