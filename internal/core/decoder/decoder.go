// Package decoder implements L2-L4 protocol stack decoding.
package decoder

import (
	"fmt"

	"github.com/mafuba8/iex-parser/internal/core"
)

// Payload peels the Ethernet, IPv4 and UDP headers from a raw frame and
// returns the UDP datagram payload. Anything that is not UDP over IPv4,
// or whose headers overrun the captured bytes, fails with an error
// wrapping core.ErrMalformedHeader; the caller skips the packet.
func Payload(data []byte) ([]byte, error) {
	eth, rest, err := decodeEthernet(data)
	if err != nil {
		return nil, err
	}
	if eth.EtherType != etherTypeIPv4 {
		return nil, fmt.Errorf("%w: ethertype 0x%04x, want ipv4", core.ErrMalformedHeader, eth.EtherType)
	}

	ip, rest, err := decodeIPv4(rest)
	if err != nil {
		return nil, err
	}
	if ip.Protocol != protocolUDP {
		return nil, fmt.Errorf("%w: ip protocol %d, want udp", core.ErrMalformedHeader, ip.Protocol)
	}

	_, payload, err := decodeUDP(rest)
	if err != nil {
		return nil, err
	}
	return payload, nil
}
