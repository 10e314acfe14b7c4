package usb

import (
	"time"

	"github.com/tarm/serial"
)

// Port abstracts the USB CDC-ACM serial device for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens the CDC-ACM device (e.g. /dev/ttyACM0) as a raw byte stream.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}
