// Package core defines core data structures with zero external dependencies.
package core

import "time"

// CapturedPacket is one record pulled from the capture container.
type CapturedPacket struct {
	Data       []byte    // raw frame bytes, owned by this record
	Timestamp  time.Time // capture time at nanosecond resolution
	CaptureLen uint32    // bytes actually captured
	OrigLen    uint32    // original frame length on the wire
	Index      uint64    // zero-based position in the stream
}
