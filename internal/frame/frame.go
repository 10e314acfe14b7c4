package frame

import "sync/atomic"

// Direction tags which side of the bridge a frame is travelling toward.
type Direction uint8

const (
	ToRadio Direction = iota // USB side -> wireless station
	ToUSB                    // wireless station -> USB side
)

func (d Direction) String() string {
	switch d {
	case ToRadio:
		return "to_radio"
	case ToUSB:
		return "to_usb"
	}
	return "unknown"
}

// Frame is a single bridged packet: an Ethernet frame on the USB side or a
// bare IP datagram on the radio side. Data is owned by exactly one holder at
// a time; ownership transfers on enqueue/dequeue. Seq is assigned at ingress
// and only used for diagnostics.
type Frame struct {
	Seq  uint64
	Dir  Direction
	Data []byte
}

var seq atomic.Uint64

// New wraps data in a Frame with the next diagnostic sequence number.
// The caller gives up ownership of data.
func New(dir Direction, data []byte) Frame {
	return Frame{Seq: seq.Add(1), Dir: dir, Data: data}
}
