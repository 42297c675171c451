package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyFile is returned when a range read hits a series without records.
	ErrEmptyFile = errors.New("series contains no records")
	// ErrStartAfterData is returned when the requested range starts after the newest record.
	ErrStartAfterData = errors.New("start of range lies after the newest record")
	// ErrStopBeforeData is returned when the requested range ends before the oldest record.
	ErrStopBeforeData = errors.New("end of range lies before the oldest record")
	// ErrCorruptRecord is returned when a scan hits a corrupt section and the
	// caller did not opt into skipping it.
	ErrCorruptRecord = errors.New("corrupt record section")
	// ErrWrongPayloadSize is returned when a pushed payload does not match the
	// payload size the series was opened with.
	ErrWrongPayloadSize = errors.New("payload length does not match series payload size")
)

// HeaderMismatchError is returned when an existing file's stored header does
// not byte for byte equal the header computed from the current device
// catalog. Schema changes require a new series file, never an implicit
// migration.
type HeaderMismatchError struct {
	Path     string
	Stored   []byte
	Expected []byte
}

func (e *HeaderMismatchError) Error() string {
	return fmt.Sprintf("header of series %s does not match the expected schema (stored %d bytes, expected %d bytes)",
		e.Path, len(e.Stored), len(e.Expected))
}

// TimeNotAfterLastError is returned when a pushed timestamp is not strictly
// after the last appended one. Out of order writes are a caller error and
// are never reordered or clamped.
type TimeNotAfterLastError struct {
	New  uint64
	Prev uint64
}

func (e *TimeNotAfterLastError) Error() string {
	return fmt.Sprintf("timestamp %d is not after the last appended timestamp %d", e.New, e.Prev)
}
