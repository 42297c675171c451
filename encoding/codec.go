package encoding

// The payload line is treated as a little-endian bit stream: bit 0 of byte 0
// is the lowest-order bit of the stream, bit 8 is the lowest-order bit of
// byte 1 and so on. Fields may start and end at arbitrary bit positions and
// several fields can share a byte.

// Decode reads bitLength bits starting at bitOffset from line and returns
// them as the low bits of a uint32. bitLength must be in [1, 32] and the
// field must lie fully inside line, both are the caller's responsibility.
func Decode(line []byte, bitOffset uint16, bitLength uint8) uint32 {
	start := int(bitOffset) / 8
	end := (int(bitOffset) + int(bitLength) + 7) / 8 // exclusive
	shift := uint(bitOffset) % 8

	// a 32 bit field shifted by up to 7 bits spans at most 5 bytes,
	// which fits a uint64
	var raw uint64
	for i := end - 1; i >= start; i-- {
		raw = raw<<8 | uint64(line[i])
	}

	mask := uint64(1)<<bitLength - 1
	return uint32(raw >> shift & mask)
}

// Encode ORs the low bitLength bits of value into line starting at bit
// bitOffset. Bits outside [bitOffset, bitOffset+bitLength) keep their
// previous content, so fields sharing a byte with already written neighbours
// stay intact. The bits of the field itself must be zero before the call;
// the write path resets the whole line after every append so this holds
// there. Values wider than bitLength bits are a caller bug.
func Encode(value uint32, line []byte, bitOffset uint16, bitLength uint8) {
	start := int(bitOffset) / 8
	end := (int(bitOffset) + int(bitLength) + 7) / 8
	shift := uint(bitOffset) % 8

	v := (uint64(value) & (uint64(1)<<bitLength - 1)) << shift
	for i := start; i < end; i++ {
		line[i] |= byte(v)
		v >>= 8
	}
}
