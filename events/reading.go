package events

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Kind identifies the physical quantity a reading measures.
type Kind uint8

const (
	Temperature Kind = iota + 1
	Humidity
	Pressure
	Co2
	Luminosity
	Movement
)

var kindNames = map[Kind]string{
	Temperature: "temperature",
	Humidity:    "humidity",
	Pressure:    "pressure",
	Co2:         "co2",
	Luminosity:  "luminosity",
	Movement:    "movement",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return name
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for kind, name := range kindNames {
		if name == s {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown reading kind %q", s)
}

// ReadingSpec declares the value range and resolution of one scalar a
// device reports. Precision is the number of decimals used for the CSV
// representation.
type ReadingSpec struct {
	Kind       Kind
	Min        float32
	Max        float32
	Resolution float32
	Precision  int
}

// Device is one physical sensor in the location/room hierarchy. All scalars
// it reports share a single series record. The catalog in catalog.go holds
// the known devices; Device values are never created at runtime.
type Device struct {
	Location string
	Room     string
	Name     string

	// MinSampleInterval is the smallest time between two samples the
	// device can produce, MaxSampleInterval the largest. A record is
	// appended once every reading was set within MaxSampleInterval.
	MinSampleInterval time.Duration
	MaxSampleInterval time.Duration
	// TemporalResolution is how precise stored timestamps need to be.
	TemporalResolution time.Duration

	Readings []ReadingSpec
}

// Path returns the relative storage path for this device's series,
// lowercased, without extension.
func (d *Device) Path() string {
	return strings.ToLower(path.Join(d.Location, d.Room, d.Name))
}

// TimeScale returns the factor that maps wall clock milliseconds to the
// coarsest time unit that still distinguishes two real samples of this
// device. Dividing a millisecond timestamp by the factor yields the stored
// timestamp; multiplying inverts it. The same factor must be used on every
// read and write of the series.
func (d *Device) TimeScale() uint64 {
	if d.MinSampleInterval <= 0 {
		panic(fmt.Sprintf("min sample interval may not be zero, device: %s", d.Path()))
	}

	needed := d.TemporalResolution
	if d.MinSampleInterval < needed {
		needed = d.MinSampleInterval
	}
	factor := uint64((needed + time.Millisecond/2) / time.Millisecond)
	if factor == 0 {
		factor = 1
	}
	return factor
}

// SpecOf returns the device's spec for the given kind.
func (d *Device) SpecOf(kind Kind) (ReadingSpec, bool) {
	for _, spec := range d.Readings {
		if spec.Kind == kind {
			return spec, true
		}
	}
	return ReadingSpec{}, false
}

// Reading is one measured value tagged with the device it came from.
type Reading struct {
	Device *Device
	Kind   Kind
	Value  float32
}

// ID returns the stable textual identifier of this reading, used in series
// headers, CSV column headers and the HTTP API.
func (r Reading) ID() string {
	return r.Device.Path() + "/" + r.Kind.String()
}
