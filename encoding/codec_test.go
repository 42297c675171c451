package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for length := uint8(1); length <= 32; length++ {
		for offset := uint16(0); offset < 16; offset++ {
			max := uint64(1)<<length - 1
			values := []uint64{0, 1, max / 2, max}
			for _, v := range values {
				line := make([]byte, 8)
				Encode(uint32(v), line, offset, length)
				got := Decode(line, offset, length)
				require.Equal(t, uint32(v), got,
					"offset %d, length %d, value %d", offset, length, v)
			}
		}
	}
}

func TestEncodeDoesNotDisturbNeighbours(t *testing.T) {
	// two adjacent fields sharing bytes, written in both orders
	for length := uint8(1); length <= 16; length++ {
		for offset := uint16(0); offset < 16; offset++ {
			max := uint32(1)<<length - 1
			line := make([]byte, 8)

			Encode(max, line, offset, length)
			Encode(max/2+1, line, offset+uint16(length), length)

			assert.Equal(t, max, Decode(line, offset, length))
			assert.Equal(t, max/2+1, Decode(line, offset+uint16(length), length))
		}
	}
}

func TestDecodeMasksGarbageOutsideField(t *testing.T) {
	line := make([]byte, 8)
	for i := range line {
		line[i] = 0xff
	}
	// field bits must be zero before encoding
	line[1] = 0x00
	line[2] = 0x00

	Encode(0x2a5, line, 8, 10)

	assert.Equal(t, uint32(0x2a5), Decode(line, 8, 10))
	assert.Equal(t, byte(0xff), line[0], "byte before the field changed")
	assert.Equal(t, byte(0xff), line[3], "byte after the field changed")
}

func TestEncodeDecodeFullWidth(t *testing.T) {
	line := make([]byte, 5)
	Encode(0xffffffff, line, 3, 32)
	assert.Equal(t, uint32(0xffffffff), Decode(line, 3, 32))
}

func TestThreePackedFields(t *testing.T) {
	// 14 + 10 + 5 bits packed back to back, like a multi sensor device
	line := make([]byte, 4)
	Encode(9000, line, 0, 14)
	Encode(731, line, 14, 10)
	Encode(19, line, 24, 5)

	assert.Equal(t, uint32(9000), Decode(line, 0, 14))
	assert.Equal(t, uint32(731), Decode(line, 14, 10))
	assert.Equal(t, uint32(19), Decode(line, 24, 5))
}
