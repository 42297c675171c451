package storage

import "encoding/binary"

// Uint64ToBytes renders i big-endian. Both the job keyspace and the record
// timestamps rely on this: big-endian byte order sorts like the numbers, so
// the smallest stored key is the next due job.
func Uint64ToBytes(i uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], i)
	return buf[:]
}

// BytesToUint64 is the inverse of Uint64ToBytes.
func BytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
