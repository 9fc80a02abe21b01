// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors for the decode taxonomy. Callers wrap these with
// fmt.Errorf("...: %w", ...) and match with errors.Is.
var (
	// Stream-fatal errors: the run aborts, partial output stays on disk.
	ErrInvalidContainer = errors.New("iexparser: invalid capture container")
	ErrTruncated        = errors.New("iexparser: stream truncated")
	ErrProtocolMismatch = errors.New("iexparser: unexpected message protocol")

	// Per-packet errors: the packet is skipped, the stream continues.
	ErrMalformedHeader      = errors.New("iexparser: malformed packet header")
	ErrSegmentCountMismatch = errors.New("iexparser: segment framing mismatch")

	// Per-block error: the block is skipped, the segment continues.
	ErrMalformedMessage = errors.New("iexparser: malformed message body")
)
