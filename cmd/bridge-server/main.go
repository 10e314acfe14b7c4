package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/etherlink/go-wifi-bridge/internal/bridge"
	"github.com/etherlink/go-wifi-bridge/internal/ether"
	"github.com/etherlink/go-wifi-bridge/internal/metrics"
	"github.com/etherlink/go-wifi-bridge/internal/radio"
	"github.com/etherlink/go-wifi-bridge/internal/station"
	"github.com/etherlink/go-wifi-bridge/internal/translator"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("bridge-server %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	send, startRX, cleanup, terr := initTransport(ctx, cfg, l, &wg)
	if terr != nil {
		l.Error("transport_init_error", "error", terr)
		return
	}

	stack := radio.NewUDPStack(cfg.radioPeer)

	policy := station.RetryPolicy{
		MaxAttempts: cfg.maxRetry,
		Min:         cfg.retryMin,
		Max:         cfg.retryMax,
	}
	machine := station.New(stack, policy, station.WithLogger(l))

	mac, _ := ether.ParseMAC(cfg.bridgeMAC) // validated in config
	var fallback ether.MAC
	if cfg.fallbackMAC != "" {
		fallback, _ = ether.ParseMAC(cfg.fallbackMAC)
	}
	tr := translator.New(mac, fallback, cfg.bindingTTL, translator.WithLogger(l))

	br := bridge.New(
		bridge.WithStation(machine),
		bridge.WithTranslator(tr),
		bridge.WithRadio(stack),
		bridge.WithUSBSend(send),
		bridge.WithQueueCapacity(cfg.queueCap),
		bridge.WithLogger(l),
	)

	wg.Add(2)
	go func() { defer wg.Done(); machine.Run(ctx) }()
	go func() { defer wg.Done(); br.Run(ctx) }()
	startRX(br.FromUSB)

	if err := machine.Connect(cfg.ssid, cfg.password); err != nil {
		l.Error("connect_request_error", "error", err)
	}
	l.Info("bridge_started", "transport", cfg.transport, "ssid", cfg.ssid,
		"queue_capacity", cfg.queueCap, "bridge_mac", mac.String())

	// Ready once the wireless link is forwarding.
	metrics.SetReadinessFunc(func() bool {
		return ctx.Err() == nil && machine.Status().State == station.Connected
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()

		if cfg.mdnsEnable {
			var portNum int
			if _, p, err := net.SplitHostPort(cfg.metricsAddr); err == nil {
				if pn, perr := strconv.Atoi(p); perr == nil {
					portNum = pn
				}
			}
			cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
			} else {
				l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
				defer cleanupMDNS()
			}
		}
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	cleanup()
	_ = stack.Close()
	wg.Wait()
}
