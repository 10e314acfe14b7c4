// Package ether implements the minimal Ethernet, ARP and IPv4 header
// handling the bridge needs: parsing inbound frames from the USB segment and
// synthesizing outbound frames around bare IP datagrams.
package ether

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

const (
	// HeaderLen is the length of an untagged Ethernet II header.
	HeaderLen = 14
	// MTU is the standard Ethernet payload limit.
	MTU = 1500
	// MaxFrameLen bounds a full frame (header + payload, no FCS).
	MaxFrameLen = HeaderLen + MTU

	TypeIPv4 uint16 = 0x0800
	TypeARP  uint16 = 0x0806
)

var (
	ErrTruncated   = errors.New("truncated frame")
	ErrOversize    = errors.New("oversize frame")
	ErrUnsupported = errors.New("unsupported ethertype")
)

// MAC is a 48-bit hardware address.
type MAC [6]byte

// Broadcast is the all-ones destination address.
var Broadcast = MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func (m MAC) String() string { return net.HardwareAddr(m[:]).String() }

// IsZero reports whether the address is all zeros.
func (m MAC) IsZero() bool { return m == MAC{} }

// ParseMAC parses a textual hardware address (colon or dash separated).
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}
	if len(hw) != 6 {
		return MAC{}, fmt.Errorf("mac %q: want 6 bytes, got %d", s, len(hw))
	}
	var m MAC
	copy(m[:], hw)
	return m, nil
}

// Header is a parsed Ethernet II header.
type Header struct {
	Dst  MAC
	Src  MAC
	Type uint16
}

// ParseHeader splits a frame into its header and payload. Frames shorter
// than the header or longer than MaxFrameLen are rejected.
func ParseHeader(b []byte) (Header, []byte, error) {
	if len(b) < HeaderLen {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(b))
	}
	if len(b) > MaxFrameLen {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrOversize, len(b))
	}
	var h Header
	copy(h.Dst[:], b[0:6])
	copy(h.Src[:], b[6:12])
	h.Type = binary.BigEndian.Uint16(b[12:14])
	return h, b[HeaderLen:], nil
}

// BuildFrame synthesizes a full Ethernet frame around payload.
func BuildFrame(dst, src MAC, etherType uint16, payload []byte) []byte {
	b := make([]byte, HeaderLen+len(payload))
	copy(b[0:6], dst[:])
	copy(b[6:12], src[:])
	binary.BigEndian.PutUint16(b[12:14], etherType)
	copy(b[HeaderLen:], payload)
	return b
}
