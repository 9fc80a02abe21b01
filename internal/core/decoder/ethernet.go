// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"
	"fmt"

	"github.com/mafuba8/iex-parser/internal/core"
)

const (
	// Ethernet constants
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4

	// EtherType values
	etherTypeIPv4 = 0x0800
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
)

// decodeEthernet decodes the Ethernet frame header (including VLAN tags).
// Returns EthernetHeader and remaining payload.
func decodeEthernet(data []byte) (core.EthernetHeader, []byte, error) {
	if len(data) < ethernetHeaderLen {
		return core.EthernetHeader{}, nil, fmt.Errorf("%w: frame shorter than ethernet header (%d bytes)", core.ErrMalformedHeader, len(data))
	}

	eth := core.EthernetHeader{}

	// Destination MAC (6 bytes)
	copy(eth.DstMAC[:], data[0:6])

	// Source MAC (6 bytes)
	copy(eth.SrcMAC[:], data[6:12])

	// EtherType (2 bytes)
	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := ethernetHeaderLen

	// Handle VLAN tags (can be nested: QinQ)
	var vlans []uint16
	for etherType == etherTypeVLAN || etherType == etherTypeQinQ {
		if len(data) < offset+vlanHeaderLen {
			return eth, nil, fmt.Errorf("%w: vlan tag overruns frame", core.ErrMalformedHeader)
		}

		// VLAN header: 2 bytes TCI + 2 bytes EtherType
		tci := binary.BigEndian.Uint16(data[offset : offset+2])
		vlanID := tci & 0x0FFF // Lower 12 bits are VLAN ID
		vlans = append(vlans, vlanID)

		// Next EtherType
		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanHeaderLen
	}

	eth.EtherType = etherType
	eth.VLANs = vlans

	payload := data[offset:]
	return eth, payload, nil
}
