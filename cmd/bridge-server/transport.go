package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/etherlink/go-wifi-bridge/internal/bridge"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// initTransport opens the selected USB-side transport. It returns the frame
// send function, a start hook that launches the RX loop delivering received
// Ethernet frames to sink, and a cleanup. Errors are returned rather than
// exiting so the caller can handle them gracefully.
func initTransport(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (bridge.USBSend, func(sink func([]byte)), func(), error) {
	switch cfg.transport {
	case "serial":
		return initSerialTransport(ctx, cfg, l, wg)
	case "tap":
		return initTapTransport(ctx, cfg, l, wg)
	default:
		return nil, nil, func() {}, fmt.Errorf("unknown transport %q (use serial|tap)", cfg.transport)
	}
}
