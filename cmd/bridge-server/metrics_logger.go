package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/etherlink/go-wifi-bridge/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"usb_rx", snap.UsbRx,
					"usb_tx", snap.UsbTx,
					"radio_rx", snap.RadioRx,
					"radio_tx", snap.RadioTx,
					"drops", snap.Drops,
					"arp_replies", snap.ARP,
					"malformed", snap.Malformed,
					"retries", snap.Retries,
					"bindings", snap.Bindings,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
