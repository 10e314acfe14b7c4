//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/etherlink/go-wifi-bridge/internal/bridge"
	"github.com/etherlink/go-wifi-bridge/internal/frame"
	"github.com/etherlink/go-wifi-bridge/internal/metrics"
	"github.com/etherlink/go-wifi-bridge/internal/tap"
)

// openTapDevice is a hook for tests (overridden in unit tests).
var openTapDevice = func(name string) (tap.Dev, error) { return tap.Open(name) }

// initTapTransport attaches to a host TAP interface and prepares the RX
// loop. Reads on the TAP fd are packet-oriented, so no wire framing is
// needed on this transport.
func initTapTransport(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (bridge.USBSend, func(func([]byte)), func(), error) {
	dev, err := openTapDevice(cfg.tapIf)
	if err != nil {
		return nil, nil, func() {}, fmt.Errorf("tap open %s: %w", cfg.tapIf, err)
	}
	l.Info("tap_open", "if", cfg.tapIf)
	w := tap.NewTXWriter(ctx, dev, txQueueSize)
	startRX := func(sink func([]byte)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.Info("tap_rx_end")
			buf := make([]byte, tapReadBufSize)
			backoff := rxBackoffMin
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				n, err := dev.ReadFrame(buf)
				if err != nil {
					if ctx.Err() != nil { // shutting down
						return
					}
					metrics.IncError(metrics.ErrTapRead)
					l.Warn("tap_read_error", "error", err, "backoff", backoff)
					sleepFn(backoff)
					backoff *= 2
					if backoff > rxBackoffMax {
						backoff = rxBackoffMax
					}
					continue
				}
				if n == 0 {
					continue
				}
				fr := make([]byte, n)
				copy(fr, buf[:n])
				metrics.IncUsbRx()
				sink(fr)
				backoff = rxBackoffMin
			}
		}()
	}
	send := func(fr frame.Frame) error { return w.SendFrame(fr) }
	cleanup := func() { _ = dev.Close(); w.Close() }
	return send, startRX, cleanup, nil
}
