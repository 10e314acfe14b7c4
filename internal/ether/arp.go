package ether

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// IPv4-over-Ethernet ARP body (RFC 826): fixed 28 bytes.
const arpLen = 28

const (
	OpRequest uint16 = 1
	OpReply   uint16 = 2
)

var ErrBadARP = errors.New("malformed arp packet")

// ARP is a parsed IPv4 ARP body.
type ARP struct {
	Op        uint16
	SenderMAC MAC
	SenderIP  netip.Addr
	TargetMAC MAC
	TargetIP  netip.Addr
}

// ParseARP decodes an IPv4 ARP body. Only htype=Ethernet, ptype=IPv4 with
// standard address lengths are accepted.
func ParseARP(b []byte) (ARP, error) {
	if len(b) < arpLen {
		return ARP{}, fmt.Errorf("%w: %d bytes", ErrBadARP, len(b))
	}
	htype := binary.BigEndian.Uint16(b[0:2])
	ptype := binary.BigEndian.Uint16(b[2:4])
	if htype != 1 || ptype != TypeIPv4 || b[4] != 6 || b[5] != 4 {
		return ARP{}, fmt.Errorf("%w: htype=%d ptype=0x%04x hlen=%d plen=%d", ErrBadARP, htype, ptype, b[4], b[5])
	}
	var a ARP
	a.Op = binary.BigEndian.Uint16(b[6:8])
	copy(a.SenderMAC[:], b[8:14])
	a.SenderIP = netip.AddrFrom4([4]byte(b[14:18]))
	copy(a.TargetMAC[:], b[18:24])
	a.TargetIP = netip.AddrFrom4([4]byte(b[24:28]))
	return a, nil
}

// Marshal encodes the ARP body as 28 wire bytes.
func (a ARP) Marshal() []byte {
	b := make([]byte, arpLen)
	binary.BigEndian.PutUint16(b[0:2], 1) // htype: Ethernet
	binary.BigEndian.PutUint16(b[2:4], TypeIPv4)
	b[4] = 6
	b[5] = 4
	binary.BigEndian.PutUint16(b[6:8], a.Op)
	copy(b[8:14], a.SenderMAC[:])
	s4 := a.SenderIP.As4()
	copy(b[14:18], s4[:])
	copy(b[18:24], a.TargetMAC[:])
	t4 := a.TargetIP.As4()
	copy(b[24:28], t4[:])
	return b
}

// ReplyTo builds the reply body answering req on behalf of mac.
func ReplyTo(req ARP, mac MAC) ARP {
	return ARP{
		Op:        OpReply,
		SenderMAC: mac,
		SenderIP:  req.TargetIP,
		TargetMAC: req.SenderMAC,
		TargetIP:  req.SenderIP,
	}
}
