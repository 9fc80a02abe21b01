// Package iextp decodes IEX Transport Protocol v1 segments.
//
// Every UDP datagram on the feed carries exactly one segment: a 40-byte
// header followed by a payload of length-prefixed message blocks. The
// header is little-endian throughout:
//
//	offset  size  field
//	0       1     version (0x01)
//	1       1     reserved
//	2       2     message protocol ID
//	4       4     channel ID
//	8       4     session ID
//	12      2     payload length
//	14      2     message count
//	16      8     stream offset
//	24      8     first message sequence number
//	32      8     send time (ns since epoch)
package iextp

import (
	"encoding/binary"
	"fmt"

	"github.com/mafuba8/iex-parser/internal/core"
)

const (
	// HeaderLen is the fixed size of the segment header.
	HeaderLen = 40

	// Version is the only transport version this package accepts.
	Version = 0x01

	// ProtocolDEEP10 identifies DEEP 1.0 in the message protocol ID field.
	ProtocolDEEP10 uint16 = 0x8004
)

// Segment is a decoded transport segment header.
type Segment struct {
	Version             uint8
	MessageProtocolID   uint16
	ChannelID           uint32
	SessionID           uint32
	PayloadLength       uint16
	MessageCount        uint16
	StreamOffset        int64
	FirstSequenceNumber int64
	SendTimeNanos       int64
}

// Heartbeat reports whether the segment carries no messages. The feed
// sends these to keep the stream alive outside trading hours.
func (s *Segment) Heartbeat() bool {
	return s.MessageCount == 0 && s.PayloadLength == 0
}

// DecodeHeader parses the segment header and returns it together with
// the payload bytes that follow it.
//
// A datagram too short for the header or with an unknown version fails
// with core.ErrMalformedHeader. A payload whose actual size disagrees
// with the declared payload length fails with
// core.ErrSegmentCountMismatch.
func DecodeHeader(data []byte) (Segment, []byte, error) {
	var seg Segment

	if len(data) < HeaderLen {
		return seg, nil, fmt.Errorf("%w: segment header needs %d bytes, have %d",
			core.ErrMalformedHeader, HeaderLen, len(data))
	}
	if data[0] != Version {
		return seg, nil, fmt.Errorf("%w: unsupported transport version 0x%02X",
			core.ErrMalformedHeader, data[0])
	}

	seg.Version = data[0]
	seg.MessageProtocolID = binary.LittleEndian.Uint16(data[2:4])
	seg.ChannelID = binary.LittleEndian.Uint32(data[4:8])
	seg.SessionID = binary.LittleEndian.Uint32(data[8:12])
	seg.PayloadLength = binary.LittleEndian.Uint16(data[12:14])
	seg.MessageCount = binary.LittleEndian.Uint16(data[14:16])
	seg.StreamOffset = int64(binary.LittleEndian.Uint64(data[16:24]))
	seg.FirstSequenceNumber = int64(binary.LittleEndian.Uint64(data[24:32]))
	seg.SendTimeNanos = int64(binary.LittleEndian.Uint64(data[32:40]))

	payload := data[HeaderLen:]
	if len(payload) != int(seg.PayloadLength) {
		return seg, nil, fmt.Errorf("%w: declared payload %d bytes, have %d",
			core.ErrSegmentCountMismatch, seg.PayloadLength, len(payload))
	}
	return seg, payload, nil
}

// Split cuts the payload into count message blocks, each introduced by
// a little-endian u16 length prefix. The returned slices alias payload.
//
// Framing is all or nothing: if the payload runs out before count
// blocks are read, or bytes remain after the last one, Split fails with
// core.ErrSegmentCountMismatch and no blocks are returned.
func Split(payload []byte, count uint16) ([][]byte, error) {
	blocks := make([][]byte, 0, count)
	off := 0
	for i := 0; i < int(count); i++ {
		if off+2 > len(payload) {
			return nil, fmt.Errorf("%w: message %d of %d: no room for length prefix",
				core.ErrSegmentCountMismatch, i+1, count)
		}
		n := int(binary.LittleEndian.Uint16(payload[off : off+2]))
		off += 2
		if off+n > len(payload) {
			return nil, fmt.Errorf("%w: message %d of %d: body of %d bytes exceeds payload",
				core.ErrSegmentCountMismatch, i+1, count, n)
		}
		blocks = append(blocks, payload[off:off+n])
		off += n
	}
	if off != len(payload) {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d messages",
			core.ErrSegmentCountMismatch, len(payload)-off, count)
	}
	return blocks, nil
}

// Decode parses a complete datagram into its segment header and message
// blocks.
func Decode(data []byte) (Segment, [][]byte, error) {
	seg, payload, err := DecodeHeader(data)
	if err != nil {
		return seg, nil, err
	}
	blocks, err := Split(payload, seg.MessageCount)
	if err != nil {
		return seg, nil, err
	}
	return seg, blocks, nil
}
