package usb

import (
	"bytes"
	"encoding/binary"

	"github.com/etherlink/go-wifi-bridge/internal/ether"
	"github.com/etherlink/go-wifi-bridge/internal/metrics"
)

// Codec delimits Ethernet frames on the USB byte stream. The serial link
// offers no packet boundaries, so each frame travels as:
//
//	EB 90       - preamble
//	hi lo       - payload length, big endian (14..1514)
//	payload     - the Ethernet frame
//	cs          - checksum = 0xEB + hi + lo + sum(payload) (mod 256)
//
// A bad length or checksum advances one byte and resyncs on the next
// preamble, so line noise costs at most the corrupted frame.
type Codec struct{}

const (
	pre0 = 0xEB
	pre1 = 0x90

	minPayload = ether.HeaderLen
	maxPayload = ether.MaxFrameLen

	headerLen = 4 // preamble(2) + length(2)
)

// compactThreshold is the backing capacity below which reclaim is not worth
// a copy.
const compactThreshold = 4096

// CompactBuffer releases oversized backing storage when the unread bytes are
// a small fraction of the accumulated capacity (a burst was decoded and only
// a partial frame remains). Returns true if storage was replaced.
func CompactBuffer(b *bytes.Buffer) bool {
	if b.Cap() < compactThreshold || b.Len()*4 >= b.Cap() {
		return false
	}
	clone := append([]byte(nil), b.Bytes()...)
	*b = *bytes.NewBuffer(clone)
	return true
}

// Encode wraps one Ethernet frame in the wire envelope.
func (Codec) Encode(payload []byte) []byte {
	n := len(payload)
	out := make([]byte, headerLen+n+1)
	out[0] = pre0
	out[1] = pre1
	binary.BigEndian.PutUint16(out[2:4], uint16(n))

	sum := uint(pre0) + uint(out[2]) + uint(out[3])
	for i, b := range payload {
		out[headerLen+i] = b
		sum += uint(b)
	}
	out[headerLen+n] = byte(sum)
	return out
}

// DecodeStream drains complete frames from in, invoking out with a copy of
// each payload. Incomplete trailing data stays buffered for the next read;
// malformed envelopes are counted and resynced past. A nil return means no
// error occurred.
func (Codec) DecodeStream(in *bytes.Buffer, out func([]byte)) error {
	header := []byte{pre0, pre1}
	for {
		data := in.Bytes()
		_ = CompactBuffer(in)
		if len(data) < headerLen {
			return nil
		}

		// align to preamble
		i := bytes.Index(data, header)
		if i < 0 {
			// keep the last byte in case the next read starts with the
			// second preamble byte
			if in.Len() > 1 {
				last := data[len(data)-1]
				in.Reset()
				_ = in.WriteByte(last)
			}
			return nil
		}
		if i > 0 {
			in.Next(i)
			continue
		}

		ln := int(binary.BigEndian.Uint16(data[2:4]))
		if ln < minPayload || ln > maxPayload {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		req := headerLen + ln + 1
		if len(data) < req {
			return nil
		}

		sum := uint(pre0) + uint(data[2]) + uint(data[3])
		for _, b := range data[headerLen : req-1] {
			sum += uint(b)
		}
		if byte(sum) != data[req-1] {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		payload := make([]byte, ln)
		copy(payload, data[headerLen:req-1])
		out(payload)
		metrics.IncUsbRx()
		in.Next(req)
	}
}
