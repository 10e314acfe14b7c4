//go:build linux

package tap

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Device is a TAP interface carrying whole Ethernet frames per read/write.
// It lets the bridging core run host-side against a local virtual interface
// instead of a USB-attached device.
type Device struct {
	fd   int
	name string
}

// Open attaches to (or creates) the named TAP interface via /dev/net/tun.
// IFF_NO_PI keeps the packet-info header off so reads yield raw frames.
func Open(name string) (*Device, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/net/tun: %w", err)
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ifreq %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF %q: %w", name, err)
	}
	return &Device{fd: fd, name: ifr.Name()}, nil
}

// Name returns the interface name actually allocated by the kernel.
func (d *Device) Name() string { return d.name }

// ReadFrame reads one Ethernet frame into p.
func (d *Device) ReadFrame(p []byte) (int, error) { return unix.Read(d.fd, p) }

// WriteFrame writes one Ethernet frame.
func (d *Device) WriteFrame(p []byte) error {
	_, err := unix.Write(d.fd, p)
	return err
}

func (d *Device) Close() error { return unix.Close(d.fd) }
