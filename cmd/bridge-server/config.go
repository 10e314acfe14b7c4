package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/etherlink/go-wifi-bridge/internal/ether"
)

type appConfig struct {
	usbDev          string
	baud            int
	usbReadTO       time.Duration
	transport       string
	tapIf           string
	ssid            string
	password        string
	radioPeer       string
	maxRetry        int
	retryMin        time.Duration
	retryMax        time.Duration
	queueCap        int
	bindingTTL      time.Duration
	bridgeMAC       string
	fallbackMAC     string
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	usbDev := flag.String("usb-dev", "/dev/ttyACM0", "USB CDC serial device path")
	baud := flag.Int("baud", 921600, "USB serial baud rate")
	usbReadTO := flag.Duration("usb-read-timeout", 50*time.Millisecond, "USB serial read timeout")
	transport := flag.String("transport", "serial", "USB-side transport: serial|tap")
	tapIf := flag.String("tap-if", "esp0", "TAP interface name (when --transport=tap)")
	ssid := flag.String("ssid", "", "Wireless network identifier")
	password := flag.String("password", "", "Wireless credential (prefer BRIDGE_PASSWORD env)")
	radioPeer := flag.String("radio-peer", "", "UDP tunnel peer for the radio stack (host:port)")
	maxRetry := flag.Int("max-retry", 5, "Maximum wireless reconnect attempts before Failed")
	retryMin := flag.Duration("retry-min", 500*time.Millisecond, "Initial reconnect backoff")
	retryMax := flag.Duration("retry-max", 8*time.Second, "Reconnect backoff cap")
	queueCap := flag.Int("queue-capacity", 10, "Per-direction frame queue capacity")
	bindingTTL := flag.Duration("binding-ttl", 5*time.Minute, "Address binding inactivity timeout")
	bridgeMAC := flag.String("bridge-mac", "02:45:53:50:00:01", "Bridge's own MAC (source of synthesized frames)")
	fallbackMAC := flag.String("fallback-mac", "", "Gateway MAC for unresolved destinations (empty = broadcast)")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement of the metrics endpoint")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default bridge-server-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.usbDev = *usbDev
	cfg.baud = *baud
	cfg.usbReadTO = *usbReadTO
	cfg.transport = *transport
	cfg.tapIf = *tapIf
	cfg.ssid = *ssid
	cfg.password = *password
	cfg.radioPeer = *radioPeer
	cfg.maxRetry = *maxRetry
	cfg.retryMin = *retryMin
	cfg.retryMax = *retryMax
	cfg.queueCap = *queueCap
	cfg.bindingTTL = *bindingTTL
	cfg.bridgeMAC = *bridgeMAC
	cfg.fallbackMAC = *fallbackMAC
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs semantic validation of the parsed configuration. It
// checks values and ranges only and does not attempt to open devices.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.transport {
	case "serial", "tap":
	default:
		return fmt.Errorf("invalid transport: %s", c.transport)
	}
	if c.ssid == "" {
		return errors.New("ssid is required")
	}
	if c.radioPeer == "" {
		return errors.New("radio-peer is required")
	}
	if _, _, err := net.SplitHostPort(c.radioPeer); err != nil {
		return fmt.Errorf("invalid radio-peer: %w", err)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.usbReadTO <= 0 {
		return errors.New("usb-read-timeout must be > 0")
	}
	if c.maxRetry <= 0 {
		return fmt.Errorf("max-retry must be > 0 (got %d)", c.maxRetry)
	}
	if c.retryMin <= 0 || c.retryMax < c.retryMin {
		return fmt.Errorf("retry backoff bounds invalid: min=%v max=%v", c.retryMin, c.retryMax)
	}
	if c.queueCap <= 0 {
		return fmt.Errorf("queue-capacity must be > 0 (got %d)", c.queueCap)
	}
	if c.bindingTTL <= 0 {
		return errors.New("binding-ttl must be > 0")
	}
	if _, err := ether.ParseMAC(c.bridgeMAC); err != nil {
		return fmt.Errorf("invalid bridge-mac: %w", err)
	}
	if c.fallbackMAC != "" {
		if _, err := ether.ParseMAC(c.fallbackMAC); err != nil {
			return fmt.Errorf("invalid fallback-mac: %w", err)
		}
	}
	return nil
}

// applyEnvOverrides maps BRIDGE_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored;
// durations accept Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["usb-dev"]; !ok {
		if v, ok := get("BRIDGE_USB_DEV"); ok && v != "" {
			c.usbDev = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("BRIDGE_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BRIDGE_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["usb-read-timeout"]; !ok {
		if v, ok := get("BRIDGE_USB_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.usbReadTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BRIDGE_USB_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["transport"]; !ok {
		if v, ok := get("BRIDGE_TRANSPORT"); ok && v != "" {
			c.transport = v
		}
	}
	if _, ok := set["tap-if"]; !ok {
		if v, ok := get("BRIDGE_TAP_IF"); ok && v != "" {
			c.tapIf = v
		}
	}
	if _, ok := set["ssid"]; !ok {
		if v, ok := get("BRIDGE_SSID"); ok && v != "" {
			c.ssid = v
		}
	}
	if _, ok := set["password"]; !ok {
		if v, ok := get("BRIDGE_PASSWORD"); ok && v != "" {
			c.password = v
		}
	}
	if _, ok := set["radio-peer"]; !ok {
		if v, ok := get("BRIDGE_RADIO_PEER"); ok && v != "" {
			c.radioPeer = v
		}
	}
	if _, ok := set["max-retry"]; !ok {
		if v, ok := get("BRIDGE_MAX_RETRY"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxRetry = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BRIDGE_MAX_RETRY: %w", err)
			}
		}
	}
	if _, ok := set["retry-min"]; !ok {
		if v, ok := get("BRIDGE_RETRY_MIN"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.retryMin = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BRIDGE_RETRY_MIN: %w", err)
			}
		}
	}
	if _, ok := set["retry-max"]; !ok {
		if v, ok := get("BRIDGE_RETRY_MAX"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.retryMax = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BRIDGE_RETRY_MAX: %w", err)
			}
		}
	}
	if _, ok := set["queue-capacity"]; !ok {
		if v, ok := get("BRIDGE_QUEUE_CAPACITY"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.queueCap = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BRIDGE_QUEUE_CAPACITY: %w", err)
			}
		}
	}
	if _, ok := set["binding-ttl"]; !ok {
		if v, ok := get("BRIDGE_BINDING_TTL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.bindingTTL = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BRIDGE_BINDING_TTL: %w", err)
			}
		}
	}
	if _, ok := set["bridge-mac"]; !ok {
		if v, ok := get("BRIDGE_MAC"); ok && v != "" {
			c.bridgeMAC = v
		}
	}
	if _, ok := set["fallback-mac"]; !ok {
		if v, ok := get("BRIDGE_FALLBACK_MAC"); ok && v != "" {
			c.fallbackMAC = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("BRIDGE_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("BRIDGE_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("BRIDGE_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("BRIDGE_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BRIDGE_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("BRIDGE_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("BRIDGE_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}
