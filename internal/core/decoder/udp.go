// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"
	"fmt"

	"github.com/mafuba8/iex-parser/internal/core"
)

const (
	udpHeaderLen = 8

	// Protocol numbers
	protocolUDP = 17
)

// decodeUDP decodes the UDP header.
// Returns UDPHeader and the datagram payload. The payload is clipped to
// the UDP length field, which drops trailing link-layer padding.
func decodeUDP(data []byte) (core.UDPHeader, []byte, error) {
	if len(data) < udpHeaderLen {
		return core.UDPHeader{}, nil, fmt.Errorf("%w: packet shorter than udp header (%d bytes)", core.ErrMalformedHeader, len(data))
	}

	udp := core.UDPHeader{}

	// Source Port (2 bytes at offset 0)
	udp.SrcPort = binary.BigEndian.Uint16(data[0:2])

	// Destination Port (2 bytes at offset 2)
	udp.DstPort = binary.BigEndian.Uint16(data[2:4])

	// Length (2 bytes at offset 4) - includes header and data
	udp.Length = binary.BigEndian.Uint16(data[4:6])
	// Checksum (2 bytes at offset 6) - not needed for decoding

	if int(udp.Length) < udpHeaderLen {
		return udp, nil, fmt.Errorf("%w: udp length field %d below header size", core.ErrMalformedHeader, udp.Length)
	}
	if int(udp.Length) > len(data) {
		return udp, nil, fmt.Errorf("%w: udp length field %d overruns captured bytes", core.ErrMalformedHeader, udp.Length)
	}

	payload := data[udpHeaderLen:udp.Length]
	return udp, payload, nil
}
