package ether

import (
	"errors"
	"fmt"
	"net/netip"
)

const ipv4MinHeader = 20

var ErrBadIPv4 = errors.New("malformed ipv4 datagram")

// IPv4Addrs extracts the source and destination addresses of a bare IPv4
// datagram. Only the fixed header prefix is validated; options and payload
// pass through untouched.
func IPv4Addrs(pkt []byte) (src, dst netip.Addr, err error) {
	if len(pkt) < ipv4MinHeader {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: %d bytes", ErrBadIPv4, len(pkt))
	}
	if v := pkt[0] >> 4; v != 4 {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: version %d", ErrBadIPv4, v)
	}
	if ihl := int(pkt[0]&0x0F) * 4; ihl < ipv4MinHeader || ihl > len(pkt) {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: ihl %d", ErrBadIPv4, ihl)
	}
	src = netip.AddrFrom4([4]byte(pkt[12:16]))
	dst = netip.AddrFrom4([4]byte(pkt[16:20]))
	return src, dst, nil
}
