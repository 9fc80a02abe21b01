// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/mafuba8/iex-parser/internal/core"
)

const ipv4HeaderMinLen = 20

// decodeIPv4 decodes the IPv4 header.
// Returns IPv4Header and remaining payload.
func decodeIPv4(data []byte) (core.IPv4Header, []byte, error) {
	if len(data) < ipv4HeaderMinLen {
		return core.IPv4Header{}, nil, fmt.Errorf("%w: packet shorter than ipv4 header (%d bytes)", core.ErrMalformedHeader, len(data))
	}

	// IP version (upper 4 bits of first byte)
	if version := data[0] >> 4; version != 4 {
		return core.IPv4Header{}, nil, fmt.Errorf("%w: ip version %d", core.ErrMalformedHeader, version)
	}

	// IHL (Internet Header Length) - lower 4 bits of first byte
	ihl := uint8(data[0] & 0x0F)
	headerLen := int(ihl) * 4 // IHL is in 32-bit words

	if headerLen < ipv4HeaderMinLen || len(data) < headerLen {
		return core.IPv4Header{}, nil, fmt.Errorf("%w: ipv4 header length %d overruns packet", core.ErrMalformedHeader, headerLen)
	}

	ip := core.IPv4Header{}

	// Total Length (2 bytes at offset 2)
	ip.TotalLen = binary.BigEndian.Uint16(data[2:4])

	// Flags and Fragment Offset (2 bytes at offset 6). A fragment carries
	// only part of the datagram, so its payload cannot be decoded.
	flagsOffset := binary.BigEndian.Uint16(data[6:8])
	moreFragments := flagsOffset&0x2000 != 0 // MF flag
	fragmentOffset := flagsOffset & 0x1FFF
	if moreFragments || fragmentOffset != 0 {
		return ip, nil, fmt.Errorf("%w: fragmented datagram", core.ErrMalformedHeader)
	}

	// TTL (1 byte at offset 8)
	ip.TTL = data[8]

	// Protocol (1 byte at offset 9)
	ip.Protocol = data[9]

	// Source IP (4 bytes at offset 12)
	addr, ok := netip.AddrFromSlice(data[12:16])
	if !ok {
		return ip, nil, fmt.Errorf("%w: invalid source address", core.ErrMalformedHeader)
	}
	ip.SrcIP = addr

	// Destination IP (4 bytes at offset 16)
	addr, ok = netip.AddrFromSlice(data[16:20])
	if !ok {
		return ip, nil, fmt.Errorf("%w: invalid destination address", core.ErrMalformedHeader)
	}
	ip.DstIP = addr

	// Payload starts after the IP header
	payload := data[headerLen:]
	return ip, payload, nil
}
