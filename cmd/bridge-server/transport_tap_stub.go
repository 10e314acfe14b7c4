//go:build !linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/etherlink/go-wifi-bridge/internal/bridge"
)

// Placeholder so non-linux builds compile; TAP not supported.
func initTapTransport(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (bridge.USBSend, func(func([]byte)), func(), error) {
	return nil, nil, func() {}, fmt.Errorf("tap transport unsupported on this platform")
}
