package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/etherlink/go-wifi-bridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series
var (
	UsbRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usb_rx_frames_total",
		Help: "Total Ethernet frames decoded from the USB byte stream.",
	})
	UsbTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usb_tx_frames_total",
		Help: "Total Ethernet frames written to the USB byte stream.",
	})
	RadioRxDatagrams = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_rx_datagrams_total",
		Help: "Total IP datagrams delivered by the radio stack.",
	})
	RadioTxDatagrams = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_tx_datagrams_total",
		Help: "Total IP datagrams handed to the radio stack.",
	})
	DroppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dropped_frames_total",
		Help: "Frames dropped by the bridge, by reason.",
	}, []string{"reason"})
	ARPReplies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arp_replies_total",
		Help: "Local ARP replies synthesized for the USB side.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (truncated, bad checksum, bad header).",
	})
	ConnectRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connect_retries_total",
		Help: "Wireless association retry attempts issued by the state machine.",
	})
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "connection_state",
		Help: "Wireless link state (0=idle 1=connecting 2=connected 3=retrying 4=failed).",
	})
	ActiveBindings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "address_bindings",
		Help: "Current number of live IP-to-MAC bindings.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Drop reason label constants (stable values to bound cardinality).
const (
	DropFull        = "full"
	DropLinkDown    = "link_down"
	DropOversize    = "oversize"
	DropTxFail      = "tx_fail"
	DropUnsupported = "unsupported"
)

// Error label constants.
const (
	ErrUsbRead      = "usb_read"
	ErrUsbWrite     = "usb_write"
	ErrUsbOverflow  = "usb_tx_overflow"
	ErrRadioSend    = "radio_send"
	ErrRadioConnect = "radio_connect"
	ErrTapRead      = "tap_read"
	ErrTapWrite     = "tap_write"
)

// StartHTTP serves Prometheus metrics at /metrics plus a /ready probe.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap in-process logging (avoids scraping the
// Prometheus registry).
var (
	localUsbRx     uint64
	localUsbTx     uint64
	localRadioRx   uint64
	localRadioTx   uint64
	localDrops     uint64
	localARP       uint64
	localMalformed uint64
	localRetries   uint64
	localErrors    uint64
	localBindings  uint64
	localState     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	UsbRx     uint64
	UsbTx     uint64
	RadioRx   uint64
	RadioTx   uint64
	Drops     uint64 // sum across reasons
	ARP       uint64
	Malformed uint64
	Retries   uint64
	Errors    uint64 // sum across error labels
	Bindings  uint64
	State     uint64
}

func Snap() Snapshot {
	return Snapshot{
		UsbRx:     atomic.LoadUint64(&localUsbRx),
		UsbTx:     atomic.LoadUint64(&localUsbTx),
		RadioRx:   atomic.LoadUint64(&localRadioRx),
		RadioTx:   atomic.LoadUint64(&localRadioTx),
		Drops:     atomic.LoadUint64(&localDrops),
		ARP:       atomic.LoadUint64(&localARP),
		Malformed: atomic.LoadUint64(&localMalformed),
		Retries:   atomic.LoadUint64(&localRetries),
		Errors:    atomic.LoadUint64(&localErrors),
		Bindings:  atomic.LoadUint64(&localBindings),
		State:     atomic.LoadUint64(&localState),
	}
}

// Wrapper helpers to keep call sites simple.
func IncUsbRx() {
	UsbRxFrames.Inc()
	atomic.AddUint64(&localUsbRx, 1)
}

func IncUsbTx() {
	UsbTxFrames.Inc()
	atomic.AddUint64(&localUsbTx, 1)
}

func IncRadioRx() {
	RadioRxDatagrams.Inc()
	atomic.AddUint64(&localRadioRx, 1)
}

func IncRadioTx() {
	RadioTxDatagrams.Inc()
	atomic.AddUint64(&localRadioTx, 1)
}

func IncDrop(reason string) {
	DroppedFrames.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localDrops, 1)
}

// AddDrops records n frames discarded at once (queue flush on disconnect).
func AddDrops(reason string, n int) {
	if n <= 0 {
		return
	}
	DroppedFrames.WithLabelValues(reason).Add(float64(n))
	atomic.AddUint64(&localDrops, uint64(n))
}

func IncARPReply() {
	ARPReplies.Inc()
	atomic.AddUint64(&localARP, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncRetry() {
	ConnectRetries.Inc()
	atomic.AddUint64(&localRetries, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func SetConnectionState(s int) {
	ConnectionState.Set(float64(s))
	atomic.StoreUint64(&localState, uint64(s))
}

func SetBindings(n int) {
	ActiveBindings.Set(float64(n))
	atomic.StoreUint64(&localBindings, uint64(n))
}

// InitBuildInfo sets the build info gauge (called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register label series so the first increment does not pay
	// registration latency.
	for _, lbl := range []string{
		ErrUsbRead, ErrUsbWrite, ErrUsbOverflow,
		ErrRadioSend, ErrRadioConnect, ErrTapRead, ErrTapWrite,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, lbl := range []string{DropFull, DropLinkDown, DropOversize, DropTxFail, DropUnsupported} {
		DroppedFrames.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers the function consulted by /ready.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // not set yet; treat as ready so the endpoint doesn't flap
		return true
	}
	return fn()
}
