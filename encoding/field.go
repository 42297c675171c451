package encoding

import (
	"fmt"
	"math"
	"math/bits"
)

// Spec describes the value range and required resolution of a single scalar.
// It is static configuration, derived from the device catalog.
type Spec struct {
	Min        float32
	Max        float32
	Resolution float32
}

// Field describes how one scalar is stored inside a payload line. Fields are
// created once when a series is opened and never change afterwards.
type Field struct {
	Offset uint16 `json:"offset"` // bits
	Length uint8  `json:"length"` // bits, max 32

	DecodeScale float32 `json:"decode_scale"`
	DecodeAdd   float32 `json:"decode_add"`
}

// BitLength returns the minimal number of bits that can represent every
// resolution step in the spec's range, i.e. the smallest l with
// 2^l - 1 >= (max-min)/resolution.
//
// A spec with a non-positive resolution or an empty range is a defect in the
// static device catalog, not a runtime condition, so this panics instead of
// returning an error.
func (s Spec) BitLength() uint8 {
	if s.Resolution <= 0 {
		panic(fmt.Sprintf("spec resolution must be positive, got %v", s.Resolution))
	}
	if s.Max <= s.Min {
		panic(fmt.Sprintf("spec range is empty: min %v, max %v", s.Min, s.Max))
	}

	steps := uint64(math.Ceil(float64((s.Max - s.Min) / s.Resolution)))
	length := bits.Len64(steps)
	if length > 32 {
		panic(fmt.Sprintf("spec needs %d bits, max field length is 32: %+v", length, s))
	}

	return uint8(length)
}

// ResolveFields assigns each spec a field with sequential, non overlapping
// bit offsets. Field i starts where field i-1 ended, the first field starts
// at bit 0. Order is preserved so resolving the same specs always yields the
// same layout.
func ResolveFields(specs []Spec) []Field {
	fields := make([]Field, 0, len(specs))

	var startBit uint16
	for _, spec := range specs {
		length := spec.BitLength()
		fields = append(fields, Field{
			Offset:      startBit,
			Length:      length,
			DecodeScale: spec.Resolution,
			DecodeAdd:   spec.Min,
		})

		next := uint32(startBit) + uint32(length)
		if next > math.MaxUint16 {
			panic("total field length exceeds the payload line limit")
		}
		startBit = uint16(next)
	}

	return fields
}

// PayloadSize returns the number of bytes needed to hold all fields.
func PayloadSize(fields []Field) int {
	total := 0
	for _, f := range fields {
		total += int(f.Length)
	}
	return (total + 7) / 8
}

// Decode reads this field from the line and maps it back to its real value.
func (f Field) Decode(line []byte) float32 {
	raw := Decode(line, f.Offset, f.Length)
	return float32(raw)*f.DecodeScale + f.DecodeAdd
}

// Encode maps value into the field's integer range and writes it to the
// line. The value must lie within the spec's declared range; the registry
// checks this before calling.
func (f Field) Encode(value float32, line []byte) {
	raw := uint32(math.Round(float64((value - f.DecodeAdd) / f.DecodeScale)))
	Encode(raw, line, f.Offset, f.Length)
}
