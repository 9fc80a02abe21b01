// Package core defines the shared header types, packet envelope and
// error sentinels used across the decoding layers.
package core

import "net/netip"

// EthernetHeader represents the L2 Ethernet frame header.
type EthernetHeader struct {
	DstMAC    [6]byte
	SrcMAC    [6]byte
	EtherType uint16   // 0x0800=IPv4, 0x8100=VLAN
	VLANs     []uint16 // 0~2 VLAN IDs (QinQ captures have 2)
}

// IPv4Header represents the L3 IPv4 header.
type IPv4Header struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	Protocol uint8 // UDP=17
	TTL      uint8
	TotalLen uint16
}

// UDPHeader represents the L4 UDP header.
type UDPHeader struct {
	SrcPort uint16
	DstPort uint16
	Length  uint16 // header plus datagram payload
}
