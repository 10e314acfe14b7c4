package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/etherlink/go-wifi-bridge/internal/bridge"
	"github.com/etherlink/go-wifi-bridge/internal/frame"
	"github.com/etherlink/go-wifi-bridge/internal/metrics"
	"github.com/etherlink/go-wifi-bridge/internal/usb"
)

// openUSBPort is a hook for tests (overridden in unit tests).
var openUSBPort = usb.Open

// initSerialTransport opens the CDC serial device and prepares the RX loop.
func initSerialTransport(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (bridge.USBSend, func(func([]byte)), func(), error) {
	sp, err := openUSBPort(cfg.usbDev, cfg.baud, cfg.usbReadTO)
	if err != nil {
		return nil, nil, func() {}, fmt.Errorf("open usb serial: %w", err)
	}
	l.Info("usb_open", "device", cfg.usbDev, "baud", cfg.baud)
	codec := usb.Codec{}
	w := usb.NewTXWriter(ctx, sp, codec, txQueueSize)
	startRX := func(sink func([]byte)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.Info("usb_rx_end")
			buf := make([]byte, usbReadBufSize)
			acc := bytes.NewBuffer(nil)
			backoff := rxBackoffMin
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				n, err := sp.Read(buf)
				if n > 0 {
					acc.Write(buf[:n])
					_ = codec.DecodeStream(acc, sink)
					if acc.Len() == 0 && cap(acc.Bytes()) > largeBufferReclaimThreshold {
						acc = bytes.NewBuffer(nil)
					}
					backoff = rxBackoffMin
				}
				if err != nil {
					if ctx.Err() != nil { // shutting down
						return
					}
					var perr *os.PathError
					if errors.As(err, &perr) {
						return // device removed or fatal
					}
					if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
						continue // ignore transient EOF
					}
					metrics.IncError(metrics.ErrUsbRead)
					l.Warn("usb_read_error", "error", err, "backoff", backoff)
					sleepFn(backoff)
					backoff *= 2
					if backoff > rxBackoffMax {
						backoff = rxBackoffMax
					}
				}
			}
		}()
	}
	send := func(fr frame.Frame) error { return w.SendFrame(fr) }
	cleanup := func() { _ = sp.Close(); w.Close() }
	return send, startRX, cleanup, nil
}
